package service

import (
	"context"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Publisher emite o evento pós-commit de transação registrada.
// Melhor esforço: falha de publicação nunca desfaz o commit financeiro.
type Publisher interface {
	TransactionRecorded(ctx context.Context, t *domain.Transaction) error
}
