package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store define a persistência do ledger. Métodos de busca devolvem
// (nil, nil) quando o registro não existe, exceto GetAccount, que devolve
// ErrAccountNotFound.
type Store interface {
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)

	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]Transaction, error)
	FindByIdempotencyKey(ctx context.Context, accountID, key string) (*Transaction, error)

	// GetLimits devolve o override da conta, ou nil se ela usa os defaults.
	GetLimits(ctx context.Context, accountID string) (*LimitConfiguration, error)
	SaveLimits(ctx context.Context, lim *LimitConfiguration) error

	// AppendAudit é append-only e roda fora de qualquer lock de conta.
	AppendAudit(ctx context.Context, entry *AuditLogEntry) error

	Begin(ctx context.Context) (AccountTx, error)
}

// AccountTx é a unidade atômica de escrita: lock de linha por conta,
// leituras consistentes sob o lock e commit/rollback de tudo junto.
// Cancelamento via ctx vale até a aquisição do lock; depois disso a
// operação corre até commit ou rollback.
type AccountTx interface {
	LockAccount(ctx context.Context, accountID string) (*Account, error)
	FindByIdempotencyKey(ctx context.Context, accountID, key string) (*Transaction, error)

	// SumAmounts soma os valores ABSOLUTOS das transações dos tipos dados
	// desde `since`.
	SumAmounts(ctx context.Context, accountID string, types []TransactionType, since time.Time) (decimal.Decimal, error)
	// LastTransactionAt devolve o horário da última transação do tipo dado.
	LastTransactionAt(ctx context.Context, accountID string, t TransactionType) (time.Time, bool, error)

	// InsertTransaction devolve ErrIdempotencyConflict quando a unique
	// constraint (account_id, idempotency_key) é violada numa corrida.
	InsertTransaction(ctx context.Context, t *Transaction) error
	UpdateAccount(ctx context.Context, acc *Account) error
	// SaveLimits grava o override de limites sob o mesmo lock de conta
	// usado pelas escritas de saldo.
	SaveLimits(ctx context.Context, lim *LimitConfiguration) error

	Commit() error
	Rollback() error
}
