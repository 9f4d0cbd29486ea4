package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account representa um titular de fundos.
// Balance nunca fica negativo e só é alterado pelo Ledger Service
// através de transações registradas.
type Account struct {
	ID             string
	Balance        decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
