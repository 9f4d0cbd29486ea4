package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Postgres implementa a persistência do ledger em banco.
// Exclusão mútua por conta via lock pessimista de linha (FOR UPDATE);
// contas diferentes nunca se serializam entre si.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

const txColumns = `id, account_id, type, amount, balance_before, balance_after,
	idempotency_key, reference_id, signature, created_by, origin_ip, origin_admin_id, created_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanTransaction(r rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := r.Scan(
		&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.IdempotencyKey, &t.ReferenceID, &t.Signature, &t.CreatedBy,
		&t.Origin.IP, &t.Origin.AdminID, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var a domain.Account
	err := r.Scan(&a.ID, &a.Balance, &a.TotalDeposited, &a.TotalWithdrawn, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// isUniqueViolation detecta violação de unique constraint (código 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *Postgres) CreateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts(id, balance, total_deposited, total_withdrawn, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		acc.ID, acc.Balance, acc.TotalDeposited, acc.TotalWithdrawn, acc.Active, acc.CreatedAt, acc.UpdatedAt,
	)
	return err
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, balance, total_deposited, total_withdrawn, active, created_at, updated_at
		FROM accounts WHERE id=$1`, id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	return acc, err
}

func (p *Postgres) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id=$1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (p *Postgres) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE account_id=$1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *Postgres) FindByIdempotencyKey(ctx context.Context, accountID, key string) (*domain.Transaction, error) {
	return findByIdempotencyKey(ctx, p.db, accountID, key)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByIdempotencyKey(ctx context.Context, q querier, accountID, key string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE account_id=$1 AND idempotency_key=$2`,
		accountID, key)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (p *Postgres) GetLimits(ctx context.Context, accountID string) (*domain.LimitConfiguration, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT account_id, daily_deposit_limit, daily_loss_limit, weekly_loss_limit, monthly_loss_limit,
		       max_bet_amount, max_payout_amount, withdrawal_cooldown_seconds, session_length_seconds,
		       updated_by, updated_at
		FROM account_limits WHERE account_id=$1`, accountID)

	var lim domain.LimitConfiguration
	var cooldownSecs, sessionSecs int64
	err := row.Scan(
		&lim.AccountID, &lim.DailyDepositLimit, &lim.DailyLossLimit, &lim.WeeklyLossLimit,
		&lim.MonthlyLossLimit, &lim.MaxBetAmount, &lim.MaxPayoutAmount,
		&cooldownSecs, &sessionSecs, &lim.UpdatedBy, &lim.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lim.WithdrawalCooldown = time.Duration(cooldownSecs) * time.Second
	lim.SessionLengthCap = time.Duration(sessionSecs) * time.Second
	return &lim, nil
}

func (p *Postgres) SaveLimits(ctx context.Context, lim *domain.LimitConfiguration) error {
	return saveLimits(ctx, p.db, lim)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveLimits(ctx context.Context, e execer, lim *domain.LimitConfiguration) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO account_limits(account_id, daily_deposit_limit, daily_loss_limit, weekly_loss_limit,
			monthly_loss_limit, max_bet_amount, max_payout_amount, withdrawal_cooldown_seconds,
			session_length_seconds, updated_by, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (account_id) DO UPDATE SET
			daily_deposit_limit=EXCLUDED.daily_deposit_limit,
			daily_loss_limit=EXCLUDED.daily_loss_limit,
			weekly_loss_limit=EXCLUDED.weekly_loss_limit,
			monthly_loss_limit=EXCLUDED.monthly_loss_limit,
			max_bet_amount=EXCLUDED.max_bet_amount,
			max_payout_amount=EXCLUDED.max_payout_amount,
			withdrawal_cooldown_seconds=EXCLUDED.withdrawal_cooldown_seconds,
			session_length_seconds=EXCLUDED.session_length_seconds,
			updated_by=EXCLUDED.updated_by,
			updated_at=EXCLUDED.updated_at`,
		lim.AccountID, lim.DailyDepositLimit, lim.DailyLossLimit, lim.WeeklyLossLimit,
		lim.MonthlyLossLimit, lim.MaxBetAmount, lim.MaxPayoutAmount,
		int64(lim.WithdrawalCooldown/time.Second), int64(lim.SessionLengthCap/time.Second),
		lim.UpdatedBy, lim.UpdatedAt,
	)
	return err
}

// AppendAudit grava a trilha append-only fora de qualquer lock de conta;
// escritas concorrentes não conflitam.
func (p *Postgres) AppendAudit(ctx context.Context, entry *domain.AuditLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_log(id, actor_id, account_id, action, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.ActorID, entry.AccountID, entry.Action, details, entry.CreatedAt,
	)
	return err
}

// SumAmounts soma valores absolutos por tipo desde o corte (caminho de
// leitura, fora de lock).
func (p *Postgres) SumAmounts(ctx context.Context, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error) {
	return sumAmounts(ctx, p.db, accountID, types, since)
}

func sumAmounts(ctx context.Context, q querier, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ABS(amount)), 0)
		FROM transactions
		WHERE account_id=$1 AND type = ANY($2) AND created_at >= $3`,
		accountID, pq.Array(names), since).Scan(&sum)
	return sum, err
}

func (p *Postgres) LastTransactionAt(ctx context.Context, accountID string, t domain.TransactionType) (time.Time, bool, error) {
	return lastTransactionAt(ctx, p.db, accountID, t)
}

func lastTransactionAt(ctx context.Context, q querier, accountID string, t domain.TransactionType) (time.Time, bool, error) {
	var at time.Time
	err := q.QueryRowContext(ctx, `
		SELECT created_at FROM transactions
		WHERE account_id=$1 AND type=$2 ORDER BY seq DESC LIMIT 1`,
		accountID, string(t)).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// AccountHistory lê conta e transações num snapshot repeatable-read
// somente leitura: o auditor nunca disputa o lock de escrita.
func (p *Postgres) AccountHistory(ctx context.Context, accountID string) (*domain.Account, []domain.Transaction, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, balance, total_deposited, total_withdrawn, active, created_at, updated_at
		FROM accounts WHERE id=$1`, accountID)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions WHERE account_id=$1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	history, err := collectTransactions(rows)
	if err != nil {
		return nil, nil, err
	}

	return acc, history, tx.Commit()
}

// ActiveAccountIDs lista contas com alguma transação na janela.
func (p *Postgres) ActiveAccountIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM transactions
		WHERE created_at >= $1 AND created_at <= $2`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) Begin(ctx context.Context) (domain.AccountTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// pgTx embrulha a transação SQL que carrega o lock pessimista da conta.
type pgTx struct{ tx *sql.Tx }

// LockAccount trava a linha da conta com FOR UPDATE. O ctx cancela a
// espera pelo lock; adquirido, a operação segue até commit ou rollback.
func (t *pgTx) LockAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, balance, total_deposited, total_withdrawn, active, created_at, updated_at
		FROM accounts WHERE id=$1 FOR UPDATE`, accountID)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	return acc, err
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, accountID, key string) (*domain.Transaction, error) {
	return findByIdempotencyKey(ctx, t.tx, accountID, key)
}

func (t *pgTx) SumAmounts(ctx context.Context, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error) {
	return sumAmounts(ctx, t.tx, accountID, types, since)
}

func (t *pgTx) LastTransactionAt(ctx context.Context, accountID string, ttype domain.TransactionType) (time.Time, bool, error) {
	return lastTransactionAt(ctx, t.tx, accountID, ttype)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions(`+txColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tr.ID, tr.AccountID, tr.Type, tr.Amount, tr.BalanceBefore, tr.BalanceAfter,
		tr.IdempotencyKey, tr.ReferenceID, tr.Signature, tr.CreatedBy,
		tr.Origin.IP, tr.Origin.AdminID, tr.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

func (t *pgTx) SaveLimits(ctx context.Context, lim *domain.LimitConfiguration) error {
	return saveLimits(ctx, t.tx, lim)
}

func (t *pgTx) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE accounts SET balance=$1, total_deposited=$2, total_withdrawn=$3, active=$4, updated_at=$5
		WHERE id=$6`,
		acc.Balance, acc.TotalDeposited, acc.TotalWithdrawn, acc.Active, acc.UpdatedAt, acc.ID,
	)
	return err
}

func (t *pgTx) Commit() error {
	err := t.tx.Commit()
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

func (t *pgTx) Rollback() error { return t.tx.Rollback() }
