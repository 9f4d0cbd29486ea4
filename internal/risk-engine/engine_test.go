package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeUsage devolve somas fixas por tipo, ignorando a janela.
type fakeUsage struct {
	sums      map[domain.TransactionType]decimal.Decimal
	last      time.Time
	lastFound bool
}

func (f *fakeUsage) SumAmounts(_ context.Context, _ string, types []domain.TransactionType, _ time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range types {
		if v, ok := f.sums[t]; ok {
			sum = sum.Add(v)
		}
	}
	return sum, nil
}

func (f *fakeUsage) LastTransactionAt(_ context.Context, _ string, _ domain.TransactionType) (time.Time, bool, error) {
	return f.last, f.lastFound, nil
}

// memCache registra chamadas para validar o fluxo de cache.
type memCache struct {
	m           map[string]Metrics
	sets, invs  int
	hits, lacks int
}

func newMemCache() *memCache { return &memCache{m: make(map[string]Metrics)} }

func (c *memCache) Get(_ context.Context, accountID string) (*Metrics, error) {
	if v, ok := c.m[accountID]; ok {
		c.hits++
		out := v
		return &out, nil
	}
	c.lacks++
	return nil, nil
}

func (c *memCache) Set(_ context.Context, accountID string, m Metrics) error {
	c.sets++
	c.m[accountID] = m
	return nil
}

func (c *memCache) Invalidate(_ context.Context, accountID string) error {
	c.invs++
	delete(c.m, accountID)
	return nil
}

func testConfig() Config {
	return Config{
		Window: 7 * 24 * time.Hour,
		Thresholds: Thresholds{
			MediumLoss:   d("1000"),
			HighLoss:     d("2500"),
			CriticalLoss: d("5000"),
		},
	}
}

func TestAssessTiers(t *testing.T) {
	e := New(zap.NewNop(), testConfig(), &fakeUsage{}, nil)

	cases := []struct {
		name string
		net  string
		want Tier
	}{
		{"profit", "500", TierLow},
		{"small loss", "-999.99", TierLow},
		{"medium boundary", "-1000", TierMedium},
		{"high boundary", "-2500", TierHigh},
		{"critical boundary", "-5000", TierCritical},
		{"deep loss", "-12000", TierCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := e.Assess(Metrics{AccountID: "acc", NetResult: d(tc.net)})
			if a.Tier != tc.want {
				t.Fatalf("net %s: tier = %s, want %s", tc.net, a.Tier, tc.want)
			}
		})
	}
}

func TestMetricsComputation(t *testing.T) {
	usage := &fakeUsage{sums: map[domain.TransactionType]decimal.Decimal{
		domain.TypeDeposit: d("1000"),
		domain.TypeBet:     d("400"),
		domain.TypePayout:  d("100"),
	}}
	e := New(zap.NewNop(), testConfig(), usage, nil)

	m, err := e.GetMetrics(context.Background(), "acc")
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if !m.NetResult.Equal(d("-300")) {
		t.Fatalf("net = %s, want -300", m.NetResult)
	}
	if m.ROI != -0.75 {
		t.Fatalf("roi = %v, want -0.75", m.ROI)
	}

	a := e.Assess(m)
	if a.Tier != TierLow {
		t.Fatalf("tier = %s, want LOW", a.Tier)
	}
	// ROI muito negativo entra como fator mesmo sem mudar o tier
	if len(a.Factors) == 0 {
		t.Fatalf("expected roi factor, got none")
	}
}

func TestMetricsCacheFlow(t *testing.T) {
	usage := &fakeUsage{sums: map[domain.TransactionType]decimal.Decimal{
		domain.TypeBet: d("50"),
	}}
	cache := newMemCache()
	e := New(zap.NewNop(), testConfig(), usage, cache)
	ctx := context.Background()

	if _, err := e.GetMetrics(ctx, "acc"); err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("sets = %d, want 1", cache.sets)
	}

	if _, err := e.GetMetrics(ctx, "acc"); err != nil {
		t.Fatalf("GetMetrics cached: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("hits = %d, want 1", cache.hits)
	}

	e.InvalidateMetrics(ctx, "acc")
	if cache.invs != 1 {
		t.Fatalf("invalidations = %d, want 1", cache.invs)
	}
	if _, err := e.GetMetrics(ctx, "acc"); err != nil {
		t.Fatalf("GetMetrics after invalidate: %v", err)
	}
	if cache.sets != 2 {
		t.Fatalf("sets after invalidate = %d, want 2", cache.sets)
	}
}

func TestCheckDepositAllowed(t *testing.T) {
	usage := &fakeUsage{sums: map[domain.TransactionType]decimal.Decimal{
		domain.TypeDeposit: d("700"),
	}}
	e := New(zap.NewNop(), testConfig(), usage, nil)
	lim := domain.LimitConfiguration{DailyDepositLimit: d("1000")}
	ctx := context.Background()

	err := e.CheckDepositAllowed(ctx, usage, lim, "acc", d("400"))
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitDailyDeposit {
		t.Fatalf("got %v, want LimitError daily_deposit", err)
	}

	// folga exata passa
	if err := e.CheckDepositAllowed(ctx, usage, lim, "acc", d("300")); err != nil {
		t.Fatalf("deposit at headroom: %v", err)
	}
}

func TestCheckWithdrawalAllowed(t *testing.T) {
	e := New(zap.NewNop(), testConfig(), &fakeUsage{}, nil)
	ctx := context.Background()

	// cooldown zero: sempre liberado
	if err := e.CheckWithdrawalAllowed(ctx, &fakeUsage{lastFound: true, last: time.Now()}, domain.LimitConfiguration{}, "acc"); err != nil {
		t.Fatalf("no cooldown configured: %v", err)
	}

	lim := domain.LimitConfiguration{WithdrawalCooldown: time.Hour}

	// sem saque anterior: liberado
	if err := e.CheckWithdrawalAllowed(ctx, &fakeUsage{}, lim, "acc"); err != nil {
		t.Fatalf("no previous withdrawal: %v", err)
	}

	recent := &fakeUsage{lastFound: true, last: time.Now().Add(-time.Minute)}
	err := e.CheckWithdrawalAllowed(ctx, recent, lim, "acc")
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitWithdrawalCooldown {
		t.Fatalf("got %v, want LimitError withdrawal_cooldown", err)
	}

	old := &fakeUsage{lastFound: true, last: time.Now().Add(-2 * time.Hour)}
	if err := e.CheckWithdrawalAllowed(ctx, old, lim, "acc"); err != nil {
		t.Fatalf("withdrawal past cooldown: %v", err)
	}
}

func TestCheckBetAllowed(t *testing.T) {
	ctx := context.Background()
	e := New(zap.NewNop(), testConfig(), &fakeUsage{}, nil)

	lim := domain.LimitConfiguration{
		MaxBetAmount:   d("100"),
		DailyLossLimit: d("500"),
	}

	err := e.CheckBetAllowed(ctx, &fakeUsage{}, lim, "acc", d("150"), d("10000"))
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitMaxBet {
		t.Fatalf("got %v, want LimitError max_bet", err)
	}

	if err := e.CheckBetAllowed(ctx, &fakeUsage{}, lim, "acc", d("100"), d("50")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	// perda acumulada 450 + aposta 100 estoura o orçamento diário de 500
	heavy := &fakeUsage{sums: map[domain.TransactionType]decimal.Decimal{
		domain.TypeBet: d("450"),
	}}
	err = e.CheckBetAllowed(ctx, heavy, lim, "acc", d("100"), d("10000"))
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitDailyLoss {
		t.Fatalf("got %v, want LimitError daily_loss", err)
	}

	// limite zero = não configurado, não barra
	open := domain.LimitConfiguration{MaxBetAmount: d("100")}
	if err := e.CheckBetAllowed(ctx, heavy, open, "acc", d("100"), d("10000")); err != nil {
		t.Fatalf("zero loss limits should not gate: %v", err)
	}

	// tier CRITICAL trava qualquer aposta
	critical := &fakeUsage{sums: map[domain.TransactionType]decimal.Decimal{
		domain.TypeBet: d("6000"),
	}}
	err = e.CheckBetAllowed(ctx, critical, open, "acc", d("1"), d("10000"))
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitRiskTierCritical {
		t.Fatalf("got %v, want LimitError risk_tier_critical", err)
	}
}

func TestCheckPayoutAllowed(t *testing.T) {
	e := New(zap.NewNop(), testConfig(), &fakeUsage{}, nil)

	// teto zero = desabilitado
	if err := e.CheckPayoutAllowed(domain.LimitConfiguration{}, d("999999")); err != nil {
		t.Fatalf("zero max payout should not gate: %v", err)
	}

	lim := domain.LimitConfiguration{MaxPayoutAmount: d("5000")}
	if err := e.CheckPayoutAllowed(lim, d("5000")); err != nil {
		t.Fatalf("payout at cap: %v", err)
	}
	err := e.CheckPayoutAllowed(lim, d("5000.01"))
	if le, ok := domain.AsLimitError(err); !ok || le.Kind != domain.LimitMaxPayout {
		t.Fatalf("got %v, want LimitError max_payout", err)
	}
}
