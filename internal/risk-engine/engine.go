package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Tier é a classificação grosseira do comportamento financeiro recente
// de uma conta, usada para travar operações de alto risco.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// Usage é a fonte de leitura dos totais por janela. Tanto o store quanto a
// transação bloqueada do ledger satisfazem a interface, então os gates podem
// ler de forma consistente dentro do lock da conta.
type Usage interface {
	// SumAmounts soma os valores ABSOLUTOS das transações dos tipos dados
	// desde `since`.
	SumAmounts(ctx context.Context, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error)
	// LastTransactionAt devolve o horário da última transação do tipo dado.
	LastTransactionAt(ctx context.Context, accountID string, t domain.TransactionType) (time.Time, bool, error)
}

// MetricsCache é opcional; métricas derivadas toleram TTL curto.
type MetricsCache interface {
	Get(ctx context.Context, accountID string) (*Metrics, error)
	Set(ctx context.Context, accountID string, m Metrics) error
	Invalidate(ctx context.Context, accountID string) error
}

// Thresholds são os cortes de perda por tier. Vêm de configuração, não de
// constantes no código, para permitir ajuste sem deploy.
type Thresholds struct {
	MediumLoss   decimal.Decimal
	HighLoss     decimal.Decimal
	CriticalLoss decimal.Decimal
}

// Config parametriza o motor: janela rolante e cortes de tier.
type Config struct {
	Window     time.Duration
	Thresholds Thresholds
}

// Metrics agrega a atividade da conta na janela rolante.
// NetResult = payouts - bets: negativo significa perda do jogador.
type Metrics struct {
	AccountID   string          `json:"account_id"`
	DepositsSum decimal.Decimal `json:"deposits_sum"`
	BetsSum     decimal.Decimal `json:"bets_sum"`
	PayoutsSum  decimal.Decimal `json:"payouts_sum"`
	NetResult   decimal.Decimal `json:"net_result"`
	ROI         float64         `json:"roi"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
}

// Assessment é derivado sob demanda, nunca persistido como fonte de verdade.
type Assessment struct {
	AccountID string   `json:"account_id"`
	Tier      Tier     `json:"tier"`
	Metrics   Metrics  `json:"metrics"`
	Factors   []string `json:"factors"`
}

// Engine é computação sem estado sobre a janela de consulta mais a
// configuração de limites vigente.
type Engine struct {
	log   *zap.Logger
	cfg   Config
	usage Usage
	cache MetricsCache // pode ser nil
}

func New(log *zap.Logger, cfg Config, usage Usage, cache MetricsCache) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Engine{log: log, cfg: cfg, usage: usage, cache: cache}
}

// GetMetrics computa (ou lê do cache) os totais da janela para a conta.
func (e *Engine) GetMetrics(ctx context.Context, accountID string) (Metrics, error) {
	if e.cache != nil {
		if m, err := e.cache.Get(ctx, accountID); err == nil && m != nil {
			return *m, nil
		}
	}

	m, err := e.metricsFrom(ctx, e.usage, accountID)
	if err != nil {
		return Metrics{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, accountID, m); err != nil {
			e.log.Warn("risk metrics cache set", zap.String("accountId", accountID), zap.Error(err))
		}
	}
	return m, nil
}

// metricsFrom computa os totais lendo de uma fonte específica (store ou
// transação bloqueada), sem passar pelo cache.
func (e *Engine) metricsFrom(ctx context.Context, u Usage, accountID string) (Metrics, error) {
	now := time.Now().UTC()
	since := now.Add(-e.cfg.Window)

	deposits, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypeDeposit}, since)
	if err != nil {
		return Metrics{}, fmt.Errorf("sum deposits: %w", err)
	}
	bets, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypeBet}, since)
	if err != nil {
		return Metrics{}, fmt.Errorf("sum bets: %w", err)
	}
	payouts, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypePayout}, since)
	if err != nil {
		return Metrics{}, fmt.Errorf("sum payouts: %w", err)
	}

	net := payouts.Sub(bets)
	roi := 0.0
	if !bets.IsZero() {
		roi, _ = net.Div(bets).Float64()
	}

	return Metrics{
		AccountID:   accountID,
		DepositsSum: deposits,
		BetsSum:     bets,
		PayoutsSum:  payouts,
		NetResult:   net,
		ROI:         roi,
		WindowStart: since,
		WindowEnd:   now,
	}, nil
}

// Assess classifica as métricas em tier com os fatores contribuintes.
func (e *Engine) Assess(m Metrics) Assessment {
	a := Assessment{AccountID: m.AccountID, Tier: TierLow, Metrics: m}

	loss := m.NetResult.Neg() // perda positiva quando NetResult < 0
	switch {
	case loss.GreaterThanOrEqual(e.cfg.Thresholds.CriticalLoss):
		a.Tier = TierCritical
		a.Factors = append(a.Factors, fmt.Sprintf("window loss %s >= critical threshold %s", loss, e.cfg.Thresholds.CriticalLoss))
	case loss.GreaterThanOrEqual(e.cfg.Thresholds.HighLoss):
		a.Tier = TierHigh
		a.Factors = append(a.Factors, fmt.Sprintf("window loss %s >= high threshold %s", loss, e.cfg.Thresholds.HighLoss))
	case loss.GreaterThanOrEqual(e.cfg.Thresholds.MediumLoss):
		a.Tier = TierMedium
		a.Factors = append(a.Factors, fmt.Sprintf("window loss %s >= medium threshold %s", loss, e.cfg.Thresholds.MediumLoss))
	}

	if m.ROI < -0.5 && !m.BetsSum.IsZero() {
		a.Factors = append(a.Factors, fmt.Sprintf("roi %.2f over window", m.ROI))
	}

	return a
}

// AssessAccount computa métricas e tier para a conta (caminho de leitura).
func (e *Engine) AssessAccount(ctx context.Context, accountID string) (Assessment, error) {
	m, err := e.GetMetrics(ctx, accountID)
	if err != nil {
		return Assessment{}, err
	}
	return e.Assess(m), nil
}

// startOfDay devolve a meia-noite UTC do instante dado.
func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// CheckDepositAllowed barra o depósito que estouraria o teto diário.
// Depósito exatamente na folga restante é aceito.
func (e *Engine) CheckDepositAllowed(
	ctx context.Context,
	u Usage,
	lim domain.LimitConfiguration,
	accountID string,
	amount decimal.Decimal,
) error {
	today := startOfDay(time.Now())
	depositedToday, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypeDeposit}, today)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	if depositedToday.Add(amount).GreaterThan(lim.DailyDepositLimit) {
		return &domain.LimitError{
			Kind:   domain.LimitDailyDeposit,
			Detail: fmt.Sprintf("deposited today %s, limit %s", depositedToday, lim.DailyDepositLimit),
		}
	}
	return nil
}

// CheckWithdrawalAllowed barra saques antes do cooldown configurado desde
// o último saque concluído.
func (e *Engine) CheckWithdrawalAllowed(
	ctx context.Context,
	u Usage,
	lim domain.LimitConfiguration,
	accountID string,
) error {
	if lim.WithdrawalCooldown <= 0 {
		return nil
	}
	last, found, err := u.LastTransactionAt(ctx, accountID, domain.TypeWithdrawal)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if !found {
		return nil
	}
	if elapsed := time.Since(last); elapsed < lim.WithdrawalCooldown {
		return &domain.LimitError{
			Kind:   domain.LimitWithdrawalCooldown,
			Detail: fmt.Sprintf("last withdrawal %s ago, cooldown %s", elapsed.Round(time.Second), lim.WithdrawalCooldown),
		}
	}
	return nil
}

// CheckBetAllowed aplica, nesta ordem: teto por aposta, saldo, orçamento de
// perda restante (diário/semanal/mensal) e o hard stop do tier CRITICAL.
func (e *Engine) CheckBetAllowed(
	ctx context.Context,
	u Usage,
	lim domain.LimitConfiguration,
	accountID string,
	amount decimal.Decimal,
	balance decimal.Decimal,
) error {
	if amount.GreaterThan(lim.MaxBetAmount) {
		return &domain.LimitError{
			Kind:   domain.LimitMaxBet,
			Detail: fmt.Sprintf("bet %s, max %s", amount, lim.MaxBetAmount),
		}
	}
	if amount.GreaterThan(balance) {
		return domain.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	budgets := []struct {
		kind  domain.LimitKind
		since time.Time
		limit decimal.Decimal
	}{
		{domain.LimitDailyLoss, startOfDay(now), lim.DailyLossLimit},
		{domain.LimitWeeklyLoss, now.Add(-7 * 24 * time.Hour), lim.WeeklyLossLimit},
		{domain.LimitMonthlyLoss, now.Add(-30 * 24 * time.Hour), lim.MonthlyLossLimit},
	}

	for _, b := range budgets {
		if b.limit.IsZero() {
			continue
		}
		loss, err := e.lossSince(ctx, u, accountID, b.since)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		// pior caso: a aposta inteira vira perda
		if loss.Add(amount).GreaterThan(b.limit) {
			return &domain.LimitError{
				Kind:   b.kind,
				Detail: fmt.Sprintf("loss so far %s, limit %s", loss, b.limit),
			}
		}
	}

	// Tier CRITICAL trava apostas independente do valor
	m, err := e.metricsFrom(ctx, u, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if a := e.Assess(m); a.Tier == TierCritical {
		return &domain.LimitError{
			Kind:   domain.LimitRiskTierCritical,
			Detail: fmt.Sprintf("window loss %s", m.NetResult.Neg()),
		}
	}

	return nil
}

// CheckPayoutAllowed aplica o teto por pagamento.
func (e *Engine) CheckPayoutAllowed(lim domain.LimitConfiguration, amount decimal.Decimal) error {
	if lim.MaxPayoutAmount.IsZero() {
		return nil
	}
	if amount.GreaterThan(lim.MaxPayoutAmount) {
		return &domain.LimitError{
			Kind:   domain.LimitMaxPayout,
			Detail: fmt.Sprintf("payout %s, max %s", amount, lim.MaxPayoutAmount),
		}
	}
	return nil
}

// lossSince = apostas - pagamentos desde o corte; nunca negativo.
func (e *Engine) lossSince(ctx context.Context, u Usage, accountID string, since time.Time) (decimal.Decimal, error) {
	bets, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypeBet}, since)
	if err != nil {
		return decimal.Zero, err
	}
	payouts, err := u.SumAmounts(ctx, accountID, []domain.TransactionType{domain.TypePayout}, since)
	if err != nil {
		return decimal.Zero, err
	}
	loss := bets.Sub(payouts)
	if loss.IsNegative() {
		return decimal.Zero, nil
	}
	return loss, nil
}

// InvalidateMetrics descarta o cache da conta. Chamado em toda atualização
// de limites e após cada transação committed.
func (e *Engine) InvalidateMetrics(ctx context.Context, accountID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, accountID); err != nil {
		e.log.Warn("risk metrics cache invalidate", zap.String("accountId", accountID), zap.Error(err))
	}
}
