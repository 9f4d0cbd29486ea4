package topics

const (
	// Ledger
	TransactionRecorded = "ledger_transaction_recorded"

	// Auditoria de integridade
	IntegrityAlerts = "ledger_integrity_alerts"
)
