package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/auditor"
	"github.com/radieske/ledger-core/internal/ledger-service/domain"
	"github.com/radieske/ledger-core/internal/ledger-service/dto"
	risk "github.com/radieske/ledger-core/internal/risk-engine"
)

// Ledger define as operações do core usadas pelos handlers HTTP
type Ledger interface {
	CreateAccount(ctx context.Context, accountID, actor string) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)

	RecordDeposit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error)
	RecordWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error)
	RecordBet(ctx context.Context, accountID string, amount decimal.Decimal, referenceID string) (*domain.Transaction, error)
	RecordPayout(ctx context.Context, accountID string, amount decimal.Decimal, referenceID string) (*domain.Transaction, error)
	RecordFee(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error)
	RecordRefund(ctx context.Context, accountID string, amount decimal.Decimal, referenceID, actor string, origin domain.Origin) (*domain.Transaction, error)
	RecordAdjustment(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey, actor string, origin domain.Origin) (*domain.Transaction, error)

	SetAccountActive(ctx context.Context, accountID string, active bool, actor string) error

	LimitsFor(ctx context.Context, accountID string) (domain.LimitConfiguration, error)
	UpdateLimits(ctx context.Context, lim domain.LimitConfiguration, actor string) error
}

// RiskReader expõe a avaliação de risco derivada (somente leitura)
type RiskReader interface {
	AssessAccount(ctx context.Context, accountID string) (risk.Assessment, error)
}

// AuditReader expõe as verificações do auditor (somente leitura)
type AuditReader interface {
	VerifyTransaction(ctx context.Context, id string) error
	AuditAccountBalance(ctx context.Context, accountID string) (auditor.BalanceReport, error)
}

// Server expõe a API HTTP do ledger
type Server struct {
	log    *zap.Logger
	ledger Ledger
	risk   RiskReader
	audit  AuditReader
}

// NewServer instancia o servidor HTTP do ledger
func NewServer(log *zap.Logger, ledger Ledger, riskReader RiskReader, auditReader AuditReader) *Server {
	return &Server{log: log, ledger: ledger, risk: riskReader, audit: auditReader}
}

// Router retorna o mux HTTP com as rotas da API
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", s.accounts)                    // POST cria, GET ?accountId=...
	mux.HandleFunc("/accounts/status", s.accountStatus)        // PUT ativa/desativa
	mux.HandleFunc("/ledger/deposit", s.deposit)               // POST
	mux.HandleFunc("/ledger/withdraw", s.withdraw)             // POST
	mux.HandleFunc("/ledger/bet", s.bet)                       // POST
	mux.HandleFunc("/ledger/payout", s.payout)                 // POST
	mux.HandleFunc("/ledger/fee", s.fee)                       // POST
	mux.HandleFunc("/ledger/refund", s.refund)                 // POST
	mux.HandleFunc("/ledger/adjustment", s.adjustment)         // POST
	mux.HandleFunc("/ledger/transactions", s.listTransactions) // GET ?accountId=...
	mux.HandleFunc("/limits", s.limits)                        // GET ?accountId=..., PUT atualiza
	mux.HandleFunc("/risk", s.riskAssessment)                  // GET ?accountId=...
	mux.HandleFunc("/audit/balance", s.auditBalance)           // GET ?accountId=...
	mux.HandleFunc("/audit/verify", s.auditVerify)             // GET ?transactionId=...
	return mux
}

// parseAmount converte o valor string do payload em decimal
func parseAmount(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req dto.CreateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		acc, err := s.ledger.CreateAccount(r.Context(), req.AccountID, req.Actor)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, dto.FromAccount(acc))
	case http.MethodGet:
		accountID := r.URL.Query().Get("accountId")
		if accountID == "" {
			http.Error(w, "accountId required", http.StatusBadRequest)
			return
		}
		acc, err := s.ledger.GetAccount(r.Context(), accountID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, dto.FromAccount(acc))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) accountStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.AccountStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.ledger.SetAccountActive(r.Context(), req.AccountID, req.Active, req.Actor); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"UPDATED"}`))
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordDeposit(r.Context(), req.AccountID, amount, req.IdempotencyKey, req.Actor,
		domain.Origin{IP: req.OriginIP, AdminID: req.AdminID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordWithdrawal(r.Context(), req.AccountID, amount, req.IdempotencyKey, req.Actor,
		domain.Origin{IP: req.OriginIP, AdminID: req.AdminID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) bet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || req.ReferenceID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordBet(r.Context(), req.AccountID, amount, req.ReferenceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) payout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || req.ReferenceID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordPayout(r.Context(), req.AccountID, amount, req.ReferenceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) fee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.FeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordFee(r.Context(), req.AccountID, amount, req.IdempotencyKey, req.Actor,
		domain.Origin{IP: req.OriginIP, AdminID: req.AdminID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || req.ReferenceID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordRefund(r.Context(), req.AccountID, amount, req.ReferenceID, req.Actor,
		domain.Origin{IP: req.OriginIP, AdminID: req.AdminID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) adjustment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if req.AccountID == "" || !ok {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	t, err := s.ledger.RecordAdjustment(r.Context(), req.AccountID, amount, req.IdempotencyKey, req.Actor,
		domain.Origin{IP: req.OriginIP, AdminID: req.AdminID})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.FromTransaction(t))
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		http.Error(w, "accountId required", http.StatusBadRequest)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]dto.TransactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, dto.FromTransaction(&txs[i]))
	}
	writeJSON(w, out)
}

func (s *Server) limits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accountID := r.URL.Query().Get("accountId")
		if accountID == "" {
			http.Error(w, "accountId required", http.StatusBadRequest)
			return
		}
		lim, err := s.ledger.LimitsFor(r.Context(), accountID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, dto.LimitsResponse{
			AccountID:                 accountID,
			DailyDepositLimit:         lim.DailyDepositLimit.StringFixed(2),
			DailyLossLimit:            lim.DailyLossLimit.StringFixed(2),
			WeeklyLossLimit:           lim.WeeklyLossLimit.StringFixed(2),
			MonthlyLossLimit:          lim.MonthlyLossLimit.StringFixed(2),
			MaxBetAmount:              lim.MaxBetAmount.StringFixed(2),
			MaxPayoutAmount:           lim.MaxPayoutAmount.StringFixed(2),
			WithdrawalCooldownSeconds: int64(lim.WithdrawalCooldown / time.Second),
			SessionLengthSeconds:      int64(lim.SessionLengthCap / time.Second),
		})
	case http.MethodPut:
		var req dto.UpdateLimitsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		lim, ok := limitsFromRequest(req)
		if !ok {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := s.ledger.UpdateLimits(r.Context(), lim, req.Actor); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"UPDATED"}`))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func limitsFromRequest(req dto.UpdateLimitsRequest) (domain.LimitConfiguration, bool) {
	if req.AccountID == "" {
		return domain.LimitConfiguration{}, false
	}
	lim := domain.LimitConfiguration{AccountID: req.AccountID}
	ok := true
	parse := func(raw string) decimal.Decimal {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			ok = false
		}
		return d
	}
	lim.DailyDepositLimit = parse(req.DailyDepositLimit)
	lim.DailyLossLimit = parse(req.DailyLossLimit)
	lim.WeeklyLossLimit = parse(req.WeeklyLossLimit)
	lim.MonthlyLossLimit = parse(req.MonthlyLossLimit)
	lim.MaxBetAmount = parse(req.MaxBetAmount)
	lim.MaxPayoutAmount = parse(req.MaxPayoutAmount)
	if !ok {
		return domain.LimitConfiguration{}, false
	}
	lim.WithdrawalCooldown = time.Duration(req.WithdrawalCooldownSeconds) * time.Second
	lim.SessionLengthCap = time.Duration(req.SessionLengthSeconds) * time.Second
	return lim, true
}

func (s *Server) riskAssessment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		http.Error(w, "accountId required", http.StatusBadRequest)
		return
	}
	a, err := s.risk.AssessAccount(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) auditBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		http.Error(w, "accountId required", http.StatusBadRequest)
		return
	}
	report, err := s.audit.AuditAccountBalance(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.BalanceAuditResponse{
		AccountID:    report.AccountID,
		Expected:     report.Expected.StringFixed(2),
		Actual:       report.Actual.StringFixed(2),
		Discrepancy:  report.Discrepancy.StringFixed(2),
		Transactions: report.Transactions,
	})
}

func (s *Server) auditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("transactionId")
	if id == "" {
		http.Error(w, "transactionId required", http.StatusBadRequest)
		return
	}
	if err := s.audit.VerifyTransaction(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrTamperedRecord) {
			writeJSON(w, dto.VerifyResponse{TransactionID: id, Valid: false, Reason: "tampered_or_corrupted"})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, dto.VerifyResponse{TransactionID: id, Valid: true})
}

// writeError mapeia a taxonomia de erros do core para status HTTP,
// sempre com um motivo específico e acionável no corpo.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if le, ok := domain.AsLimitError(err); ok {
		writeJSONStatus(w, http.StatusUnprocessableEntity, dto.ErrorResponse{Error: "limit_exceeded", Kind: string(le.Kind)})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeJSONStatus(w, http.StatusUnprocessableEntity, dto.ErrorResponse{Error: "insufficient_funds"})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTransactionType),
		errors.Is(err, domain.ErrInvalidReference),
		errors.Is(err, domain.ErrInvalidIdempotencyKey):
		writeJSONStatus(w, http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrAccountNotFound):
		writeJSONStatus(w, http.StatusNotFound, dto.ErrorResponse{Error: "account_not_found"})
	case errors.Is(err, domain.ErrAccountInactive):
		writeJSONStatus(w, http.StatusConflict, dto.ErrorResponse{Error: "account_inactive"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSONStatus(w, http.StatusForbidden, dto.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, domain.ErrStorageUnavailable):
		// retryável: o chamador reapresenta com a mesma chave de idempotência
		writeJSONStatus(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "storage_unavailable"})
	default:
		s.log.Error("unhandled ledger error", zap.Error(err))
		writeJSONStatus(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "internal"})
	}
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
