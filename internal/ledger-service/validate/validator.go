package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Validação pura, sem I/O: dado uma transação proposta e o saldo atual,
// devolve nil (aceita) ou um erro enumerado (rejeitada com motivo).

const maxIdempotencyKeyLen = 128

var referenceRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Transaction valida a proposta completa. amount é o valor informado pelo
// chamador: positivo para todos os tipos, exceto ADJUSTMENT que pode vir
// com sinal.
func Transaction(
	t domain.TransactionType,
	amount decimal.Decimal,
	balance decimal.Decimal,
	ceiling decimal.Decimal,
	referenceID string,
	idempotencyKey string,
) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTransactionType, t)
	}

	if err := Amount(t, amount, ceiling); err != nil {
		return err
	}

	// Débitos não podem ultrapassar o saldo corrente
	if t.Debit() && amount.GreaterThan(balance) {
		return domain.ErrInsufficientFunds
	}
	if t == domain.TypeAdjustment && amount.IsNegative() && amount.Abs().GreaterThan(balance) {
		return domain.ErrInsufficientFunds
	}

	if err := ReferenceID(referenceID); err != nil {
		return err
	}

	return IdempotencyKey(idempotencyKey)
}

// Amount aplica as regras de valor: estritamente positivo (exceto ADJUSTMENT,
// que só precisa ser não-zero), no máximo duas casas decimais e abaixo do
// teto absoluto.
func Amount(t domain.TransactionType, amount decimal.Decimal, ceiling decimal.Decimal) error {
	if t == domain.TypeAdjustment {
		if amount.IsZero() {
			return fmt.Errorf("%w: adjustment amount must be non-zero", domain.ErrInvalidAmount)
		}
	} else if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}

	if amount.Exponent() < -2 {
		return fmt.Errorf("%w: more than two decimal places", domain.ErrInvalidAmount)
	}

	if amount.Abs().GreaterThan(ceiling) {
		return fmt.Errorf("%w: amount above absolute ceiling %s", domain.ErrInvalidAmount, ceiling)
	}

	return nil
}

// ReferenceID valida o formato do id de referência quando informado
// (alfanumérico, tamanho limitado).
func ReferenceID(referenceID string) error {
	if referenceID == "" {
		return nil
	}
	if !referenceRe.MatchString(referenceID) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidReference, referenceID)
	}
	return nil
}

// IdempotencyKey valida a chave quando informada: string opaca não-vazia
// e de tamanho limitado.
func IdempotencyKey(key string) error {
	if key == "" {
		return nil
	}
	if strings.TrimSpace(key) == "" || len(key) > maxIdempotencyKeyLen {
		return fmt.Errorf("%w: %q", domain.ErrInvalidIdempotencyKey, key)
	}
	return nil
}
