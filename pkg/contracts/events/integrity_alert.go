package events

// IntegrityAlert sinaliza achados do auditor (registro adulterado ou saldo divergente).
// Nunca corrige dados automaticamente; é insumo para alerta operacional.
type IntegrityAlert struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Kind          string `json:"kind"` // "tampered_record" | "balance_discrepancy"
	Detail        string `json:"detail"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
