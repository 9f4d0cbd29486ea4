package dto

import (
	"time"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

type TransactionResponse struct {
	TransactionID  string    `json:"transaction_id"`
	AccountID      string    `json:"account_id"`
	Type           string    `json:"type"`
	Amount         string    `json:"amount"`
	BalanceBefore  string    `json:"balance_before"`
	BalanceAfter   string    `json:"balance_after"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func FromTransaction(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:  t.ID,
		AccountID:      t.AccountID,
		Type:           string(t.Type),
		Amount:         t.Amount.StringFixed(2),
		BalanceBefore:  t.BalanceBefore.StringFixed(2),
		BalanceAfter:   t.BalanceAfter.StringFixed(2),
		IdempotencyKey: t.IdempotencyKey,
		ReferenceID:    t.ReferenceID,
		CreatedAt:      t.CreatedAt,
	}
}

type AccountResponse struct {
	AccountID      string    `json:"account_id"`
	Balance        string    `json:"balance"`
	TotalDeposited string    `json:"total_deposited"`
	TotalWithdrawn string    `json:"total_withdrawn"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func FromAccount(a *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:      a.ID,
		Balance:        a.Balance.StringFixed(2),
		TotalDeposited: a.TotalDeposited.StringFixed(2),
		TotalWithdrawn: a.TotalWithdrawn.StringFixed(2),
		Active:         a.Active,
		CreatedAt:      a.CreatedAt,
	}
}

type LimitsResponse struct {
	AccountID                 string `json:"account_id"`
	DailyDepositLimit         string `json:"daily_deposit_limit"`
	DailyLossLimit            string `json:"daily_loss_limit"`
	WeeklyLossLimit           string `json:"weekly_loss_limit"`
	MonthlyLossLimit          string `json:"monthly_loss_limit"`
	MaxBetAmount              string `json:"max_bet_amount"`
	MaxPayoutAmount           string `json:"max_payout_amount"`
	WithdrawalCooldownSeconds int64  `json:"withdrawal_cooldown_seconds"`
	SessionLengthSeconds      int64  `json:"session_length_seconds"`
}

type BalanceAuditResponse struct {
	AccountID    string `json:"account_id"`
	Expected     string `json:"expected_balance"`
	Actual       string `json:"actual_balance"`
	Discrepancy  string `json:"discrepancy"`
	Transactions int    `json:"transactions"`
}

type VerifyResponse struct {
	TransactionID string `json:"transaction_id"`
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"` // preenchido em rejeições de limite
}
