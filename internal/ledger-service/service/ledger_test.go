package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
	"github.com/radieske/ledger-core/internal/ledger-service/repo/memory"
	"github.com/radieske/ledger-core/internal/ledger-service/sign"
	risk "github.com/radieske/ledger-core/internal/risk-engine"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func openLimits() domain.LimitConfiguration {
	return domain.LimitConfiguration{
		DailyDepositLimit: d("1000000"),
		DailyLossLimit:    d("1000000"),
		WeeklyLossLimit:   d("1000000"),
		MonthlyLossLimit:  d("1000000"),
		MaxBetAmount:      d("1000000"),
		MaxPayoutAmount:   d("1000000"),
	}
}

func newTestService(t *testing.T, defaults domain.LimitConfiguration) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	signer, err := sign.New("ledger-test-key")
	if err != nil {
		t.Fatalf("sign.New: %v", err)
	}
	engine := risk.New(zap.NewNop(), risk.Config{
		Window: 7 * 24 * time.Hour,
		Thresholds: risk.Thresholds{
			MediumLoss:   d("1000"),
			HighLoss:     d("2500"),
			CriticalLoss: d("5000"),
		},
	}, store, nil)
	svc := New(zap.NewNop(), store, signer, engine, Params{
		AmountCeiling: d("100000"),
		DefaultLimits: defaults,
	}, nil)
	return svc, store
}

func mustAccount(t *testing.T, svc *Service, id string) *domain.Account {
	t.Helper()
	acc, err := svc.CreateAccount(context.Background(), id, "ops")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

func mustDeposit(t *testing.T, svc *Service, accountID, amount, key string) *domain.Transaction {
	t.Helper()
	tx, err := svc.RecordDeposit(context.Background(), accountID, d(amount), key, "user", domain.Origin{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("RecordDeposit(%s): %v", amount, err)
	}
	return tx
}

func TestDepositWithdrawLifecycle(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")

	mustDeposit(t, svc, "acc-1", "1000.00", "seed")

	dep, err := svc.RecordDeposit(ctx, "acc-1", d("500.00"), "k1", "user", domain.Origin{})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.BalanceAfter.Equal(d("1500.00")) {
		t.Fatalf("balance after deposit = %s, want 1500.00", dep.BalanceAfter)
	}

	// reapresentar k1 devolve a MESMA transação, sem novo crédito
	again, err := svc.RecordDeposit(ctx, "acc-1", d("500.00"), "k1", "user", domain.Origin{})
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if again.ID != dep.ID {
		t.Fatalf("replay returned new transaction %s, want %s", again.ID, dep.ID)
	}

	acc, err := svc.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acc.Balance.Equal(d("1500.00")) {
		t.Fatalf("balance after replay = %s, want 1500.00", acc.Balance)
	}

	if _, err := svc.RecordWithdrawal(ctx, "acc-1", d("2000.00"), "w1", "user", domain.Origin{}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientFunds", err)
	}

	wd, err := svc.RecordWithdrawal(ctx, "acc-1", d("1500.00"), "w2", "user", domain.Origin{})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !wd.BalanceAfter.IsZero() {
		t.Fatalf("balance after full withdrawal = %s, want 0", wd.BalanceAfter)
	}
	if !wd.Amount.Equal(d("-1500.00")) {
		t.Fatalf("withdrawal amount = %s, want -1500.00", wd.Amount)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "100.00", "seed")

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	rejected := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordWithdrawal(ctx, "acc-1", d("30.00"), fmt.Sprintf("w-%d", i), "user", domain.Origin{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, domain.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// 100 / 30: exatamente 3 saques cabem
	if committed != 3 {
		t.Fatalf("committed = %d, want 3", committed)
	}
	if rejected != workers-3 {
		t.Fatalf("rejected = %d, want %d", rejected, workers-3)
	}

	acc, err := svc.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acc.Balance.Equal(d("10.00")) {
		t.Fatalf("final balance = %s, want 10.00", acc.Balance)
	}
}

func TestConcurrentSameIdempotencyKeySingleTransaction(t *testing.T) {
	svc, store := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "1000.00", "seed")

	const workers = 10
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := svc.RecordWithdrawal(ctx, "acc-1", d("200.00"), "same-key", "user", domain.Origin{})
			if err != nil {
				t.Errorf("withdrawal %d: %v", i, err)
				return
			}
			ids[i] = tx.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got transaction %s, want %s", i, ids[i], ids[0])
		}
	}

	txs, err := store.ListTransactions(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 2 { // seed + um único saque
		t.Fatalf("transactions = %d, want 2", len(txs))
	}

	acc, _ := svc.GetAccount(ctx, "acc-1")
	if !acc.Balance.Equal(d("800.00")) {
		t.Fatalf("balance = %s, want 800.00", acc.Balance)
	}
}

func TestBetAndPayoutDerivedIdempotency(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "500.00", "seed")

	bet, err := svc.RecordBet(ctx, "acc-1", d("100.00"), "round-42")
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if !bet.Amount.Equal(d("-100.00")) {
		t.Fatalf("bet amount = %s, want -100.00", bet.Amount)
	}

	// mesmo round, reapresentado: nada debita de novo
	replay, err := svc.RecordBet(ctx, "acc-1", d("100.00"), "round-42")
	if err != nil {
		t.Fatalf("bet replay: %v", err)
	}
	if replay.ID != bet.ID {
		t.Fatalf("bet replay created new transaction")
	}

	pay, err := svc.RecordPayout(ctx, "acc-1", d("250.00"), "round-42")
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if pay.ID == bet.ID {
		t.Fatalf("payout collided with bet idempotency key")
	}

	acc, _ := svc.GetAccount(ctx, "acc-1")
	if !acc.Balance.Equal(d("650.00")) {
		t.Fatalf("balance = %s, want 650.00", acc.Balance)
	}
}

func TestDailyDepositLimit(t *testing.T) {
	lim := openLimits()
	lim.DailyDepositLimit = d("1000.00")
	svc, _ := newTestService(t, lim)
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")

	mustDeposit(t, svc, "acc-1", "700.00", "d1")

	// estouraria o teto diário
	_, err := svc.RecordDeposit(ctx, "acc-1", d("400.00"), "d2", "user", domain.Origin{})
	le, ok := domain.AsLimitError(err)
	if !ok || le.Kind != domain.LimitDailyDeposit {
		t.Fatalf("got %v, want LimitError daily_deposit", err)
	}

	// exatamente a folga restante passa
	if _, err := svc.RecordDeposit(ctx, "acc-1", d("300.00"), "d3", "user", domain.Origin{}); err != nil {
		t.Fatalf("deposit at exact headroom: %v", err)
	}
}

func TestWithdrawalCooldown(t *testing.T) {
	lim := openLimits()
	lim.WithdrawalCooldown = 80 * time.Millisecond
	svc, _ := newTestService(t, lim)
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "1000.00", "seed")

	if _, err := svc.RecordWithdrawal(ctx, "acc-1", d("100.00"), "w1", "user", domain.Origin{}); err != nil {
		t.Fatalf("first withdrawal: %v", err)
	}

	_, err := svc.RecordWithdrawal(ctx, "acc-1", d("100.00"), "w2", "user", domain.Origin{})
	le, ok := domain.AsLimitError(err)
	if !ok || le.Kind != domain.LimitWithdrawalCooldown {
		t.Fatalf("got %v, want LimitError withdrawal_cooldown", err)
	}

	time.Sleep(120 * time.Millisecond)
	if _, err := svc.RecordWithdrawal(ctx, "acc-1", d("100.00"), "w3", "user", domain.Origin{}); err != nil {
		t.Fatalf("withdrawal after cooldown: %v", err)
	}
}

func TestBetGates(t *testing.T) {
	lim := openLimits()
	lim.MaxBetAmount = d("200.00")
	lim.DailyLossLimit = d("500.00")
	svc, _ := newTestService(t, lim)
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "10000.00", "seed")

	_, err := svc.RecordBet(ctx, "acc-1", d("200.01"), "big")
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitMaxBet {
		t.Fatalf("got %v, want LimitError max_bet", err)
	}

	// consome o orçamento diário de perda: 3 apostas de 200 perdidas = 600 > 500,
	// então a terceira é barrada
	if _, err := svc.RecordBet(ctx, "acc-1", d("200.00"), "r1"); err != nil {
		t.Fatalf("bet r1: %v", err)
	}
	if _, err := svc.RecordBet(ctx, "acc-1", d("200.00"), "r2"); err != nil {
		t.Fatalf("bet r2: %v", err)
	}
	_, err = svc.RecordBet(ctx, "acc-1", d("200.00"), "r3")
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitDailyLoss {
		t.Fatalf("got %v, want LimitError daily_loss", err)
	}

	// um payout devolve orçamento e a aposta volta a passar
	if _, err := svc.RecordPayout(ctx, "acc-1", d("300.00"), "r1"); err != nil {
		t.Fatalf("payout r1: %v", err)
	}
	if _, err := svc.RecordBet(ctx, "acc-1", d("200.00"), "r4"); err != nil {
		t.Fatalf("bet r4 after payout: %v", err)
	}
}

func TestCriticalTierBlocksBets(t *testing.T) {
	lim := openLimits() // limites de perda largos; o hard stop vem do tier
	svc, _ := newTestService(t, lim)
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "20000.00", "seed")

	// perda acumulada 5200 >= corte CRITICAL (5000)
	for i := 0; i < 13; i++ {
		if _, err := svc.RecordBet(ctx, "acc-1", d("400.00"), fmt.Sprintf("r-%d", i)); err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}

	_, err := svc.RecordBet(ctx, "acc-1", d("1.00"), "r-final")
	le, ok := domain.AsLimitError(err)
	if !ok || le.Kind != domain.LimitRiskTierCritical {
		t.Fatalf("got %v, want LimitError risk_tier_critical", err)
	}
}

func TestInactiveAccountRejectsWrites(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "100.00", "seed")

	if err := svc.SetAccountActive(ctx, "acc-1", false, "ops"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.RecordDeposit(ctx, "acc-1", d("10.00"), "d1", "user", domain.Origin{}); !errors.Is(err, domain.ErrAccountInactive) {
		t.Fatalf("got %v, want ErrAccountInactive", err)
	}

	if err := svc.SetAccountActive(ctx, "acc-1", true, "ops"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := svc.RecordDeposit(ctx, "acc-1", d("10.00"), "d1", "user", domain.Origin{}); err != nil {
		t.Fatalf("deposit after reactivate: %v", err)
	}
}

func TestAdjustmentKeepsCallerSign(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "100.00", "seed")

	if _, err := svc.RecordAdjustment(ctx, "acc-1", d("-30.00"), "adj1", "", domain.Origin{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("adjustment without actor: got %v, want ErrUnauthorized", err)
	}

	down, err := svc.RecordAdjustment(ctx, "acc-1", d("-30.00"), "adj1", "admin-7", domain.Origin{AdminID: "admin-7"})
	if err != nil {
		t.Fatalf("negative adjustment: %v", err)
	}
	if !down.Amount.Equal(d("-30.00")) || !down.BalanceAfter.Equal(d("70.00")) {
		t.Fatalf("adjustment recorded %s -> %s", down.Amount, down.BalanceAfter)
	}

	if _, err := svc.RecordAdjustment(ctx, "acc-1", d("-100.00"), "adj2", "admin-7", domain.Origin{}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("overdrawing adjustment: got %v, want ErrInsufficientFunds", err)
	}
}

func TestAuditTrail(t *testing.T) {
	svc, store := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	tx := mustDeposit(t, svc, "acc-1", "100.00", "d1")

	lim := openLimits()
	lim.AccountID = "acc-1"
	if err := svc.UpdateLimits(ctx, lim, "admin-1"); err != nil {
		t.Fatalf("UpdateLimits: %v", err)
	}

	entries := store.AuditEntries()
	actions := make(map[domain.AuditAction]int)
	for _, e := range entries {
		actions[e.Action]++
	}
	if actions[domain.AuditAccountCreated] != 1 {
		t.Fatalf("account_created entries = %d, want 1", actions[domain.AuditAccountCreated])
	}
	if actions[domain.AuditTransactionCreated] != 1 {
		t.Fatalf("transaction_created entries = %d, want 1", actions[domain.AuditTransactionCreated])
	}
	if actions[domain.AuditLimitsUpdated] != 1 {
		t.Fatalf("limits_updated entries = %d, want 1", actions[domain.AuditLimitsUpdated])
	}

	for _, e := range entries {
		if e.Action == domain.AuditTransactionCreated && e.Details["transaction_id"] != tx.ID {
			t.Fatalf("audit references transaction %s, want %s", e.Details["transaction_id"], tx.ID)
		}
	}
}

func TestUpdateLimitsValidation(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")

	lim := openLimits()
	lim.AccountID = "acc-1"
	lim.MaxBetAmount = d("-1")
	if err := svc.UpdateLimits(ctx, lim, "admin"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("negative limit: got %v, want ErrInvalidAmount", err)
	}

	lim = openLimits()
	lim.AccountID = "ghost"
	if err := svc.UpdateLimits(ctx, lim, "admin"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("unknown account: got %v, want ErrAccountNotFound", err)
	}

	// override passa a valer no lugar dos defaults
	lim = openLimits()
	lim.AccountID = "acc-1"
	lim.MaxBetAmount = d("50.00")
	if err := svc.UpdateLimits(ctx, lim, "admin"); err != nil {
		t.Fatalf("UpdateLimits: %v", err)
	}
	eff, err := svc.LimitsFor(ctx, "acc-1")
	if err != nil {
		t.Fatalf("LimitsFor: %v", err)
	}
	if !eff.MaxBetAmount.Equal(d("50.00")) {
		t.Fatalf("effective max bet = %s, want 50.00", eff.MaxBetAmount)
	}
}

func TestUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	if _, err := svc.RecordDeposit(context.Background(), "ghost", d("10.00"), "k", "user", domain.Origin{}); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("got %v, want ErrAccountNotFound", err)
	}
}

func TestTransactionsAreSigned(t *testing.T) {
	svc, store := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	tx := mustDeposit(t, svc, "acc-1", "100.00", "d1")

	if tx.Signature == "" {
		t.Fatalf("committed transaction has empty signature")
	}
	stored, err := store.GetTransaction(ctx, tx.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if stored.Signature != tx.Signature {
		t.Fatalf("stored signature differs")
	}
}

// O banco guarda created_at com precisão de microssegundo; a assinatura tem
// que continuar válida depois do round-trip pelo storage.
func TestSignatureSurvivesStorePrecision(t *testing.T) {
	svc, _ := newTestService(t, openLimits())
	mustAccount(t, svc, "acc-1")
	tx := mustDeposit(t, svc, "acc-1", "100.00", "d1")

	if !tx.CreatedAt.Equal(tx.CreatedAt.Truncate(time.Microsecond)) {
		t.Fatalf("created_at carries sub-microsecond precision: %s", tx.CreatedAt.Format(time.RFC3339Nano))
	}

	signer, err := sign.New("ledger-test-key")
	if err != nil {
		t.Fatalf("sign.New: %v", err)
	}
	stored := *tx
	stored.CreatedAt = stored.CreatedAt.Round(time.Microsecond)
	if !signer.VerifyTransaction(&stored) {
		t.Fatalf("signature invalid after microsecond round-trip")
	}
}

func TestReferenceKeyedOpsRequireReference(t *testing.T) {
	svc, store := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")
	mustDeposit(t, svc, "acc-1", "500.00", "d1")

	cases := []struct {
		name string
		call func() (*domain.Transaction, error)
	}{
		{"bet", func() (*domain.Transaction, error) { return svc.RecordBet(ctx, "acc-1", d("10.00"), "") }},
		{"payout", func() (*domain.Transaction, error) { return svc.RecordPayout(ctx, "acc-1", d("10.00"), "") }},
		{"refund", func() (*domain.Transaction, error) {
			return svc.RecordRefund(ctx, "acc-1", d("10.00"), "", "ops", domain.Origin{})
		}},
	}
	for _, tc := range cases {
		if _, err := tc.call(); !errors.Is(err, domain.ErrInvalidReference) {
			t.Fatalf("%s without reference: got %v, want ErrInvalidReference", tc.name, err)
		}
	}

	txs, err := store.ListTransactions(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want only the seed deposit", len(txs))
	}
}

// Escrita de limites disputa o mesmo lock de linha das escritas de saldo.
func TestUpdateLimitsWaitsForAccountLock(t *testing.T) {
	svc, store := newTestService(t, openLimits())
	ctx := context.Background()
	mustAccount(t, svc, "acc-1")

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.LockAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("LockAccount: %v", err)
	}

	lim := openLimits()
	lim.AccountID = "acc-1"
	lim.MaxBetAmount = d("25.00")
	done := make(chan error, 1)
	go func() { done <- svc.UpdateLimits(ctx, lim, "admin") }()

	select {
	case err := <-done:
		t.Fatalf("limits write bypassed the account lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("UpdateLimits after lock release: %v", err)
	}

	eff, err := svc.LimitsFor(ctx, "acc-1")
	if err != nil {
		t.Fatalf("LimitsFor: %v", err)
	}
	if !eff.MaxBetAmount.Equal(d("25.00")) {
		t.Fatalf("effective max bet = %s, want 25.00", eff.MaxBetAmount)
	}
}
