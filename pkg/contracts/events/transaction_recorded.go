package events

// TransactionRecorded é publicado após o commit de cada transação do ledger.
// Consumidores (notificações, relatórios) nunca participam do caminho de escrita.
type TransactionRecorded struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"` // decimal em string, sinal por tipo
	BalanceAfter  string `json:"balance_after"`
	Actor         string `json:"actor"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
