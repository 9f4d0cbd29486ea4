package repo

import (
	"context"
	"fmt"
)

// Migrate cria o schema do ledger se ainda não existir. Idempotente;
// roda no startup de cada serviço antes de aceitar tráfego.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id               TEXT PRIMARY KEY,
			balance          NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			total_deposited  NUMERIC(18,2) NOT NULL DEFAULT 0,
			total_withdrawn  NUMERIC(18,2) NOT NULL DEFAULT 0,
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// transações são imutáveis: nunca recebem UPDATE ou DELETE;
		// seq dá a ordem total de commit por conta
		`CREATE TABLE IF NOT EXISTS transactions (
			seq              BIGSERIAL,
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL REFERENCES accounts(id),
			type             TEXT NOT NULL,
			amount           NUMERIC(18,2) NOT NULL,
			balance_before   NUMERIC(18,2) NOT NULL,
			balance_after    NUMERIC(18,2) NOT NULL CHECK (balance_after >= 0),
			idempotency_key  TEXT NOT NULL DEFAULT '',
			reference_id     TEXT NOT NULL DEFAULT '',
			signature        TEXT NOT NULL,
			created_by       TEXT NOT NULL DEFAULT '',
			origin_ip        TEXT NOT NULL DEFAULT '',
			origin_admin_id  TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL
		)`,
		// backstop da idempotência: uma transação por (conta, chave)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idem
			ON transactions(account_id, idempotency_key) WHERE idempotency_key <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_created
			ON transactions(account_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id          TEXT PRIMARY KEY,
			actor_id    TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			action      TEXT NOT NULL,
			details     JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS account_limits (
			account_id                   TEXT PRIMARY KEY REFERENCES accounts(id),
			daily_deposit_limit          NUMERIC(18,2) NOT NULL,
			daily_loss_limit             NUMERIC(18,2) NOT NULL,
			weekly_loss_limit            NUMERIC(18,2) NOT NULL,
			monthly_loss_limit           NUMERIC(18,2) NOT NULL,
			max_bet_amount               NUMERIC(18,2) NOT NULL,
			max_payout_amount            NUMERIC(18,2) NOT NULL,
			withdrawal_cooldown_seconds  BIGINT NOT NULL,
			session_length_seconds       BIGINT NOT NULL DEFAULT 0,
			updated_by                   TEXT NOT NULL DEFAULT '',
			updated_at                   TIMESTAMPTZ NOT NULL
		)`,
	}

	for i, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
