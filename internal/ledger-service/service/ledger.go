package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
	"github.com/radieske/ledger-core/internal/ledger-service/sign"
	"github.com/radieske/ledger-core/internal/ledger-service/validate"
	risk "github.com/radieske/ledger-core/internal/risk-engine"
	"github.com/radieske/ledger-core/internal/shared/metrics"
)

// Params são os parâmetros imutáveis do serviço, carregados uma vez no
// startup e injetados pelo construtor (nunca lidos de estado global).
type Params struct {
	AmountCeiling decimal.Decimal
	DefaultLimits domain.LimitConfiguration
}

// Service orquestra validação, idempotência, assinatura, escrita atômica e
// trilha de auditoria para todo evento que altera saldo.
type Service struct {
	log    *zap.Logger
	store  domain.Store
	signer *sign.Signer
	risk   *risk.Engine
	params Params
	publ   Publisher // pode ser nil
}

func New(log *zap.Logger, store domain.Store, signer *sign.Signer, engine *risk.Engine, params Params, publ Publisher) *Service {
	return &Service{
		log:    log,
		store:  store,
		signer: signer,
		risk:   engine,
		params: params,
		publ:   publ,
	}
}

// CreateAccount registra uma nova conta com saldo zero e limites default.
func (s *Service) CreateAccount(ctx context.Context, accountID, actor string) (*domain.Account, error) {
	if accountID == "" {
		accountID = uuid.NewString()
	}
	now := time.Now().UTC()
	acc := &domain.Account{
		ID:             accountID,
		Balance:        decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	s.appendAudit(ctx, actor, accountID, domain.AuditAccountCreated, map[string]string{})
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx, accountID)
}

// SetAccountActive desativa/reativa a conta (soft delete: conta nunca é
// destruída). Passa pelo mesmo lock exclusivo das escritas de saldo.
func (s *Service) SetAccountActive(ctx context.Context, accountID string, active bool, actor string) error {
	if actor == "" {
		return domain.ErrUnauthorized
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	acc, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Active == active {
		return nil
	}
	acc.Active = active
	acc.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	action := domain.AuditAccountDeactivated
	if active {
		action = domain.AuditAccountReactivated
	}
	s.appendAudit(ctx, actor, accountID, action, map[string]string{})
	return nil
}

// RecordDeposit credita a conta, sujeito ao teto diário de depósito.
func (s *Service) RecordDeposit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error) {
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeDeposit,
		amount:         amount,
		idempotencyKey: idempotencyKey,
		actor:          actor,
		origin:         origin,
	})
}

// RecordWithdrawal debita a conta, sujeito ao cooldown de saque.
func (s *Service) RecordWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error) {
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeWithdrawal,
		amount:         amount,
		idempotencyKey: idempotencyKey,
		actor:          actor,
		origin:         origin,
	})
}

// requireReference barra referenceID vazio nas operações cuja chave de
// idempotência deriva dele: sem isso todas as chamadas sem referência
// colidiriam na mesma chave.
func requireReference(referenceID string) error {
	if referenceID == "" {
		return fmt.Errorf("%w: missing reference id", domain.ErrInvalidReference)
	}
	return nil
}

// RecordBet debita a aposta. O referenceID (id da aposta no motor de jogo)
// serve de chave de idempotência derivada: reapresentar a mesma aposta
// nunca debita duas vezes.
func (s *Service) RecordBet(ctx context.Context, accountID string, amount decimal.Decimal, referenceID string) (*domain.Transaction, error) {
	if err := requireReference(referenceID); err != nil {
		return nil, err
	}
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeBet,
		amount:         amount,
		referenceID:    referenceID,
		idempotencyKey: "bet:" + referenceID,
		actor:          "game-engine",
	})
}

// RecordPayout credita o prêmio, com idempotência derivada do referenceID.
func (s *Service) RecordPayout(ctx context.Context, accountID string, amount decimal.Decimal, referenceID string) (*domain.Transaction, error) {
	if err := requireReference(referenceID); err != nil {
		return nil, err
	}
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypePayout,
		amount:         amount,
		referenceID:    referenceID,
		idempotencyKey: "payout:" + referenceID,
		actor:          "game-engine",
	})
}

// RecordFee debita uma tarifa.
func (s *Service) RecordFee(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error) {
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeFee,
		amount:         amount,
		idempotencyKey: idempotencyKey,
		actor:          actor,
		origin:         origin,
	})
}

// RecordRefund credita um estorno referente a uma operação anterior.
func (s *Service) RecordRefund(ctx context.Context, accountID string, amount decimal.Decimal, referenceID, actor string, origin domain.Origin) (*domain.Transaction, error) {
	if err := requireReference(referenceID); err != nil {
		return nil, err
	}
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeRefund,
		amount:         amount,
		referenceID:    referenceID,
		idempotencyKey: "refund:" + referenceID,
		actor:          actor,
		origin:         origin,
	})
}

// RecordAdjustment grava uma correção manual. amount vem com sinal:
// positivo credita, negativo debita. Correção nunca edita transações
// passadas; é sempre um registro novo.
func (s *Service) RecordAdjustment(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error) {
	if actor == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.record(ctx, recordInput{
		accountID:      accountID,
		ttype:          domain.TypeAdjustment,
		amount:         amount,
		idempotencyKey: idempotencyKey,
		actor:          actor,
		origin:         origin,
	})
}

type recordInput struct {
	accountID      string
	ttype          domain.TransactionType
	amount         decimal.Decimal
	idempotencyKey string
	referenceID    string
	actor          string
	origin         domain.Origin
}

// signedAmount aplica a regra de sinal por tipo: débitos gravados
// negativos, créditos positivos, ADJUSTMENT preserva o sinal do chamador.
func signedAmount(t domain.TransactionType, amount decimal.Decimal) decimal.Decimal {
	if t == domain.TypeAdjustment {
		return amount
	}
	if t.Debit() {
		return amount.Neg()
	}
	return amount
}

// record executa o algoritmo único de escrita:
// lock da conta -> idempotência -> validação -> gate de risco ->
// assinatura -> persistência atômica -> auditoria e evento pós-commit.
func (s *Service) record(ctx context.Context, in recordInput) (*domain.Transaction, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	acc, err := tx.LockAccount(ctx, in.accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if !acc.Active {
		return nil, domain.ErrAccountInactive
	}

	// Reapresentação com a mesma chave devolve a transação original,
	// sem erro e sem reexecutar efeito algum.
	if in.idempotencyKey != "" {
		prev, err := tx.FindByIdempotencyKey(ctx, in.accountID, in.idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		if prev != nil {
			return prev, nil
		}
	}

	if err := validate.Transaction(in.ttype, in.amount, acc.Balance, s.params.AmountCeiling, in.referenceID, in.idempotencyKey); err != nil {
		metrics.IncTransaction(string(in.ttype), false)
		return nil, err
	}

	lim, err := s.LimitsFor(ctx, in.accountID)
	if err != nil {
		return nil, err
	}

	// Gate de risco por tipo; leituras passam pela transação bloqueada
	// para enxergar estado consistente.
	switch in.ttype {
	case domain.TypeDeposit:
		err = s.risk.CheckDepositAllowed(ctx, tx, lim, in.accountID, in.amount)
	case domain.TypeWithdrawal:
		err = s.risk.CheckWithdrawalAllowed(ctx, tx, lim, in.accountID)
	case domain.TypeBet:
		err = s.risk.CheckBetAllowed(ctx, tx, lim, in.accountID, in.amount, acc.Balance)
	case domain.TypePayout:
		err = s.risk.CheckPayoutAllowed(lim, in.amount)
	}
	if err != nil {
		if le, ok := domain.AsLimitError(err); ok {
			metrics.IncLimitRejection(string(le.Kind))
		}
		metrics.IncTransaction(string(in.ttype), false)
		return nil, err
	}

	delta := signedAmount(in.ttype, in.amount)
	after := acc.Balance.Add(delta)
	if after.IsNegative() {
		metrics.IncTransaction(string(in.ttype), false)
		return nil, domain.ErrInsufficientFunds
	}

	// created_at é TIMESTAMPTZ (microssegundos); truncar antes de assinar
	// mantém o MAC estável no round-trip pelo banco.
	now := time.Now().UTC().Truncate(time.Microsecond)
	t := &domain.Transaction{
		ID:             uuid.NewString(),
		AccountID:      in.accountID,
		Type:           in.ttype,
		Amount:         delta,
		BalanceBefore:  acc.Balance,
		BalanceAfter:   after,
		IdempotencyKey: in.idempotencyKey,
		ReferenceID:    in.referenceID,
		CreatedBy:      in.actor,
		Origin:         in.origin,
		CreatedAt:      now,
	}

	// Falha de assinatura é defeito de configuração: fatal para a operação,
	// nunca repetida com outra chave.
	sig, err := s.signer.SignTransaction(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureFailure, err)
	}
	t.Signature = sig

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return s.resolveWriteFailure(ctx, in, err)
	}

	acc.Balance = after
	switch in.ttype {
	case domain.TypeDeposit:
		acc.TotalDeposited = acc.TotalDeposited.Add(in.amount)
	case domain.TypeWithdrawal:
		acc.TotalWithdrawn = acc.TotalWithdrawn.Add(in.amount)
	}
	acc.UpdatedAt = t.CreatedAt
	if err := tx.UpdateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return s.resolveWriteFailure(ctx, in, err)
	}
	committed = true

	metrics.IncTransaction(string(in.ttype), true)
	s.risk.InvalidateMetrics(ctx, in.accountID)

	// Pós-commit, fora de qualquer lock: auditoria e evento.
	s.appendAudit(ctx, in.actor, in.accountID, domain.AuditTransactionCreated, map[string]string{
		"transaction_id": t.ID,
		"type":           string(t.Type),
		"amount":         t.Amount.StringFixed(2),
		"balance_after":  t.BalanceAfter.StringFixed(2),
		"origin_ip":      in.origin.IP,
	})
	s.publish(ctx, t)

	return t, nil
}

// resolveWriteFailure trata a corrida de idempotência perdida no unique
// constraint: relê e devolve a transação vencedora. Qualquer outra falha
// de escrita volta como retryável com a mesma chave.
func (s *Service) resolveWriteFailure(ctx context.Context, in recordInput, err error) (*domain.Transaction, error) {
	if errors.Is(err, domain.ErrIdempotencyConflict) && in.idempotencyKey != "" {
		prev, ferr := s.store.FindByIdempotencyKey(ctx, in.accountID, in.idempotencyKey)
		if ferr == nil && prev != nil {
			return prev, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}

// LimitsFor devolve a configuração efetiva da conta: override quando
// existe, defaults do sistema caso contrário. Leitura lock-free.
func (s *Service) LimitsFor(ctx context.Context, accountID string) (domain.LimitConfiguration, error) {
	override, err := s.store.GetLimits(ctx, accountID)
	if err != nil {
		return domain.LimitConfiguration{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if override != nil {
		return *override, nil
	}
	lim := s.params.DefaultLimits
	lim.AccountID = accountID
	return lim, nil
}

// UpdateLimits grava um override de limites. Exige ator autorizado, passa
// pelo mesmo lock exclusivo das escritas de saldo, gera entrada de
// auditoria e invalida métricas cacheadas.
func (s *Service) UpdateLimits(ctx context.Context, lim domain.LimitConfiguration, actor string) error {
	if actor == "" {
		return domain.ErrUnauthorized
	}
	if lim.AccountID == "" {
		return fmt.Errorf("%w: missing account id", domain.ErrAccountNotFound)
	}
	for _, v := range []decimal.Decimal{
		lim.DailyDepositLimit, lim.DailyLossLimit, lim.WeeklyLossLimit,
		lim.MonthlyLossLimit, lim.MaxBetAmount, lim.MaxPayoutAmount,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: negative limit", domain.ErrInvalidAmount)
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.LockAccount(ctx, lim.AccountID); err != nil {
		return err
	}

	lim.UpdatedBy = actor
	lim.UpdatedAt = time.Now().UTC()
	if err := tx.SaveLimits(ctx, &lim); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	s.appendAudit(ctx, actor, lim.AccountID, domain.AuditLimitsUpdated, map[string]string{
		"daily_deposit_limit": lim.DailyDepositLimit.StringFixed(2),
		"daily_loss_limit":    lim.DailyLossLimit.StringFixed(2),
		"weekly_loss_limit":   lim.WeeklyLossLimit.StringFixed(2),
		"monthly_loss_limit":  lim.MonthlyLossLimit.StringFixed(2),
		"max_bet_amount":      lim.MaxBetAmount.StringFixed(2),
		"max_payout_amount":   lim.MaxPayoutAmount.StringFixed(2),
		"withdrawal_cooldown": lim.WithdrawalCooldown.String(),
	})
	s.risk.InvalidateMetrics(ctx, lim.AccountID)
	return nil
}

// appendAudit grava a trilha fora da transação financeira. Falha aqui não
// desfaz o commit: vira log de erro e contador de alerta.
func (s *Service) appendAudit(ctx context.Context, actor, accountID string, action domain.AuditAction, details map[string]string) {
	entry := &domain.AuditLogEntry{
		ID:        uuid.NewString(),
		ActorID:   actor,
		AccountID: accountID,
		Action:    action,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		metrics.IncAuditAppendFailure()
		s.log.Error("audit append failed",
			zap.String("accountId", accountID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

// publish emite o evento pós-commit, melhor esforço.
func (s *Service) publish(ctx context.Context, t *domain.Transaction) {
	if s.publ == nil {
		return
	}
	if err := s.publ.TransactionRecorded(ctx, t); err != nil {
		s.log.Warn("transaction event publish failed",
			zap.String("transactionId", t.ID),
			zap.Error(err),
		)
	}
}
