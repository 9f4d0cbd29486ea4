package domain

import "time"

// AuditAction enumera as ações sensíveis registradas em trilha de auditoria.
type AuditAction string

const (
	AuditTransactionCreated AuditAction = "transaction_created"
	AuditLimitsUpdated      AuditAction = "limits_updated"
	AuditAccountCreated     AuditAction = "account_created"
	AuditAccountDeactivated AuditAction = "account_deactivated"
	AuditAccountReactivated AuditAction = "account_reactivated"
)

// AuditLogEntry é um registro append-only; nunca sofre update ou delete.
type AuditLogEntry struct {
	ID        string
	ActorID   string
	AccountID string
	Action    AuditAction
	Details   map[string]string
	CreatedAt time.Time
}
