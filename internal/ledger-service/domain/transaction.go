package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumera os eventos que alteram saldo.
// União fechada: não existe transação de tipo livre.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeBet        TransactionType = "BET"
	TypePayout     TransactionType = "PAYOUT"
	TypeFee        TransactionType = "FEE"
	TypeAdjustment TransactionType = "ADJUSTMENT"
	TypeRefund     TransactionType = "REFUND"
)

// Valid informa se o tipo pertence à enumeração.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeBet, TypePayout, TypeFee, TypeAdjustment, TypeRefund:
		return true
	}
	return false
}

// Debit informa se o tipo consome saldo.
func (t TransactionType) Debit() bool {
	switch t {
	case TypeWithdrawal, TypeBet, TypeFee:
		return true
	}
	return false
}

// Credit informa se o tipo adiciona saldo.
func (t TransactionType) Credit() bool {
	switch t {
	case TypeDeposit, TypePayout, TypeRefund:
		return true
	}
	return false
}

// Origin guarda metadados de origem da operação (ip do chamador, admin responsável).
type Origin struct {
	IP      string
	AdminID string
}

// Transaction é o registro imutável de um evento financeiro.
// Amount é armazenado com sinal: débitos negativos, créditos positivos;
// ADJUSTMENT preserva o sinal informado pelo chamador.
// Invariante: BalanceAfter = BalanceBefore + Amount e BalanceAfter >= 0.
// Uma vez gravada, nunca é atualizada ou removida; correções são novas
// transações ADJUSTMENT/REFUND.
type Transaction struct {
	ID             string
	AccountID      string
	Type           TransactionType
	Amount         decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	IdempotencyKey string
	ReferenceID    string
	Signature      string
	CreatedBy      string
	Origin         Origin
	CreatedAt      time.Time
}
