package auditor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
	"github.com/radieske/ledger-core/internal/ledger-service/sign"
	"github.com/radieske/ledger-core/internal/shared/metrics"
)

// Store é o caminho de leitura do auditor: snapshots consistentes, sem
// nunca tocar o lock exclusivo usado pelas escritas do ledger.
type Store interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	AccountHistory(ctx context.Context, accountID string) (*domain.Account, []domain.Transaction, error)
	ActiveAccountIDs(ctx context.Context, from, to time.Time) ([]string, error)
}

// Finding é um achado de integridade. O auditor só reporta; nunca corrige
// dados nem bloqueia o tráfego vivo.
type Finding struct {
	AccountID     string
	TransactionID string
	Kind          string // "tampered_record" | "balance_discrepancy" | "broken_chain"
	Detail        string
}

const (
	FindingTampered    = "tampered_record"
	FindingDiscrepancy = "balance_discrepancy"
	FindingBrokenChain = "broken_chain"
)

// BalanceReport compara o saldo esperado (reconstruído do histórico) com o
// saldo gravado na conta.
type BalanceReport struct {
	AccountID    string
	Expected     decimal.Decimal
	Actual       decimal.Decimal
	Discrepancy  decimal.Decimal
	Transactions int
}

// Auditor verifica assinaturas e reconcilia saldos de forma independente
// do caminho de escrita.
type Auditor struct {
	log    *zap.Logger
	store  Store
	signer *sign.Signer
}

func New(log *zap.Logger, store Store, signer *sign.Signer) *Auditor {
	return &Auditor{log: log, store: store, signer: signer}
}

// VerifyTransaction recomputa o MAC sobre os campos gravados e compara com
// a assinatura armazenada.
func (a *Auditor) VerifyTransaction(ctx context.Context, id string) error {
	t, err := a.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", id, err)
	}
	if t == nil {
		return fmt.Errorf("transaction %s not found", id)
	}
	if !a.signer.VerifyTransaction(t) {
		metrics.IncIntegrityFinding(FindingTampered)
		return fmt.Errorf("%w: transaction %s", domain.ErrTamperedRecord, id)
	}
	return nil
}

// AuditAccountBalance reexecuta o histórico da conta em ordem de commit,
// acumulando os deltas, e compara o resultado com o saldo gravado.
func (a *Auditor) AuditAccountBalance(ctx context.Context, accountID string) (BalanceReport, error) {
	acc, history, err := a.store.AccountHistory(ctx, accountID)
	if err != nil {
		return BalanceReport{}, err
	}

	expected := decimal.Zero
	for _, t := range history {
		expected = expected.Add(t.Amount)
	}

	report := BalanceReport{
		AccountID:    accountID,
		Expected:     expected,
		Actual:       acc.Balance,
		Discrepancy:  acc.Balance.Sub(expected),
		Transactions: len(history),
	}
	if !report.Discrepancy.IsZero() {
		metrics.IncIntegrityFinding(FindingDiscrepancy)
	}
	return report, nil
}

// SweepAccount roda a verificação completa de uma conta: assinatura de
// cada transação, encadeamento dos snapshots de saldo e reconciliação.
func (a *Auditor) SweepAccount(ctx context.Context, accountID string) ([]Finding, error) {
	acc, history, err := a.store.AccountHistory(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	expected := decimal.Zero
	for i := range history {
		t := &history[i]
		if !a.signer.VerifyTransaction(t) {
			metrics.IncIntegrityFinding(FindingTampered)
			findings = append(findings, Finding{
				AccountID:     accountID,
				TransactionID: t.ID,
				Kind:          FindingTampered,
				Detail:        "stored signature does not match recomputed MAC",
			})
		}
		if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) {
			metrics.IncIntegrityFinding(FindingBrokenChain)
			findings = append(findings, Finding{
				AccountID:     accountID,
				TransactionID: t.ID,
				Kind:          FindingBrokenChain,
				Detail: fmt.Sprintf("balance_after %s != balance_before %s + amount %s",
					t.BalanceAfter, t.BalanceBefore, t.Amount),
			})
		}
		expected = expected.Add(t.Amount)
	}

	if d := acc.Balance.Sub(expected); !d.IsZero() {
		metrics.IncIntegrityFinding(FindingDiscrepancy)
		findings = append(findings, Finding{
			AccountID: accountID,
			Kind:      FindingDiscrepancy,
			Detail:    fmt.Sprintf("stored balance %s, replayed %s, discrepancy %s", acc.Balance, expected, d),
		})
	}

	return findings, nil
}

// ReconcileAccounts audita todas as contas com atividade na janela e
// devolve só as divergentes. Fan-out limitado via errgroup; cada conta lê
// seu próprio snapshot.
func (a *Auditor) ReconcileAccounts(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	ids, err := a.store.ActiveAccountIDs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]decimal.Decimal)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		accountID := id
		g.Go(func() error {
			report, err := a.AuditAccountBalance(gctx, accountID)
			if err != nil {
				return fmt.Errorf("audit account %s: %w", accountID, err)
			}
			if !report.Discrepancy.IsZero() {
				a.log.Error("balance discrepancy",
					zap.String("accountId", accountID),
					zap.String("expected", report.Expected.String()),
					zap.String("actual", report.Actual.String()),
				)
				mu.Lock()
				out[accountID] = report.Discrepancy
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SweepWindow roda SweepAccount em todas as contas ativas na janela,
// devolvendo os achados em ordem estável de conta.
func (a *Auditor) SweepWindow(ctx context.Context, from, to time.Time) ([]Finding, error) {
	ids, err := a.store.ActiveAccountIDs(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var mu sync.Mutex
	byAccount := make(map[string][]Finding, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		accountID := id
		g.Go(func() error {
			fs, err := a.SweepAccount(gctx, accountID)
			if err != nil {
				return fmt.Errorf("sweep account %s: %w", accountID, err)
			}
			if len(fs) > 0 {
				mu.Lock()
				byAccount[accountID] = fs
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Finding
	for _, id := range ids {
		out = append(out, byAccount[id]...)
	}
	return out, nil
}
