package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitConfiguration define os tetos aplicados a uma conta.
// Existe uma configuração default do sistema; overrides por conta são
// criados por ator autorizado e toda alteração gera entrada de auditoria.
// SessionLengthCap zero significa desabilitado.
type LimitConfiguration struct {
	AccountID          string
	DailyDepositLimit  decimal.Decimal
	DailyLossLimit     decimal.Decimal
	WeeklyLossLimit    decimal.Decimal
	MonthlyLossLimit   decimal.Decimal
	MaxBetAmount       decimal.Decimal
	MaxPayoutAmount    decimal.Decimal
	WithdrawalCooldown time.Duration
	SessionLengthCap   time.Duration
	UpdatedBy          string
	UpdatedAt          time.Time
}
