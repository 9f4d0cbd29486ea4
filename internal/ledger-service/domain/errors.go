package domain

import (
	"errors"
	"fmt"
)

// Taxonomia enumerada de rejeições e falhas do core financeiro.
// Rejeições de validação/limite voltam ao chamador como erro tipado,
// nunca como texto livre.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidReference       = errors.New("invalid reference id")
	ErrInvalidIdempotencyKey  = errors.New("invalid idempotency key")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account inactive")
	ErrUnauthorized           = errors.New("unauthorized actor")

	// ErrSignatureFailure indica defeito de configuração; a operação não deve
	// ser repetida com outra chave de idempotência.
	ErrSignatureFailure = errors.New("signature failure")

	// ErrStorageUnavailable é retryável: o chamador reapresenta com a MESMA
	// chave de idempotência.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIdempotencyConflict sinaliza violação da unique constraint
	// (account_id, idempotency_key) numa corrida; o serviço relê e devolve
	// a transação vencedora.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")

	// ErrTamperedRecord é achado do auditor; não derruba o tráfego vivo,
	// mas precisa gerar alerta.
	ErrTamperedRecord = errors.New("tampered or corrupted record")
)

// LimitKind identifica qual limite barrou a operação.
type LimitKind string

const (
	LimitDailyDeposit       LimitKind = "daily_deposit"
	LimitDailyLoss          LimitKind = "daily_loss"
	LimitWeeklyLoss         LimitKind = "weekly_loss"
	LimitMonthlyLoss        LimitKind = "monthly_loss"
	LimitMaxBet             LimitKind = "max_bet"
	LimitMaxPayout          LimitKind = "max_payout"
	LimitWithdrawalCooldown LimitKind = "withdrawal_cooldown"
	LimitRiskTierCritical   LimitKind = "risk_tier_critical"
)

// LimitError carrega o tipo específico de limite violado, para que o
// chamador possa ramificar de forma determinística.
type LimitError struct {
	Kind   LimitKind
	Detail string
}

func (e *LimitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("limit exceeded: %s", e.Kind)
	}
	return fmt.Sprintf("limit exceeded: %s (%s)", e.Kind, e.Detail)
}

// AsLimitError extrai um *LimitError da cadeia de erros, se houver.
func AsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
