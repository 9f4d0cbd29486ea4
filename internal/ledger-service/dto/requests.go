package dto

// Valores monetários trafegam como string decimal ("150.00") para não
// perder precisão em float de JSON.

type CreateAccountRequest struct {
	AccountID string `json:"account_id,omitempty"`
	Actor     string `json:"actor"`
}

type AccountStatusRequest struct {
	AccountID string `json:"account_id"`
	Active    bool   `json:"active"`
	Actor     string `json:"actor"`
}

type DepositRequest struct {
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Actor          string `json:"actor"`
	OriginIP       string `json:"origin_ip,omitempty"`
	AdminID        string `json:"admin_id,omitempty"`
}

type WithdrawalRequest struct {
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Actor          string `json:"actor"`
	OriginIP       string `json:"origin_ip,omitempty"`
	AdminID        string `json:"admin_id,omitempty"`
}

type BetRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

type PayoutRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

type FeeRequest struct {
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Actor          string `json:"actor"`
	OriginIP       string `json:"origin_ip,omitempty"`
	AdminID        string `json:"admin_id,omitempty"`
}

type RefundRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	ReferenceID string `json:"reference_id"`
	Actor       string `json:"actor"`
	OriginIP    string `json:"origin_ip,omitempty"`
	AdminID     string `json:"admin_id,omitempty"`
}

type AdjustmentRequest struct {
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"` // com sinal: negativo debita
	IdempotencyKey string `json:"idempotency_key"`
	Actor          string `json:"actor"`
	Reason         string `json:"reason,omitempty"`
	OriginIP       string `json:"origin_ip,omitempty"`
	AdminID        string `json:"admin_id,omitempty"`
}

type UpdateLimitsRequest struct {
	AccountID                 string `json:"account_id"`
	DailyDepositLimit         string `json:"daily_deposit_limit"`
	DailyLossLimit            string `json:"daily_loss_limit"`
	WeeklyLossLimit           string `json:"weekly_loss_limit"`
	MonthlyLossLimit          string `json:"monthly_loss_limit"`
	MaxBetAmount              string `json:"max_bet_amount"`
	MaxPayoutAmount           string `json:"max_payout_amount"`
	WithdrawalCooldownSeconds int64  `json:"withdrawal_cooldown_seconds"`
	SessionLengthSeconds      int64  `json:"session_length_seconds"`
	Actor                     string `json:"actor"`
}
