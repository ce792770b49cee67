package strategy

import (
	"market_hub/internal/domain"
	"market_hub/internal/event"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type crossDirection string

const (
	crossNone crossDirection = ""
	crossUp   crossDirection = "up"
	crossDown crossDirection = "down"
)

// MACrossParams tunes a MovingAverageCross instance.
type MACrossParams struct {
	FastMA         int
	SlowMA         int
	MinVolume      decimal.Decimal
	EntryThreshold decimal.Decimal // Minimum buy-signal strength
	ExitThreshold  decimal.Decimal // Minimum sell-signal strength
	AccountValue   decimal.Decimal // Basis for position sizing
	RiskPerTrade   decimal.Decimal // Fraction of account risked per order
}

// DefaultMACrossParams mirrors the conventional 10/20 crossover setup.
func DefaultMACrossParams() MACrossParams {
	return MACrossParams{
		FastMA:         10,
		SlowMA:         20,
		MinVolume:      decimal.NewFromInt(1),
		EntryThreshold: decimal.NewFromFloat(0.001),
		ExitThreshold:  decimal.NewFromFloat(0.0005),
		AccountValue:   decimal.NewFromInt(10000),
		RiskPerTrade:   decimal.NewFromFloat(0.01),
	}
}

// MovingAverageCross signals when the fast moving average crosses the
// slow one. Only the first update after a cross produces a signal; the
// state is tracked per pair.
type MovingAverageCross struct {
	params MACrossParams

	history   map[string][]decimal.Decimal
	lastCross map[string]crossDirection
	pairs     map[string]struct{}
}

// NewMovingAverageCross validates params and creates the strategy.
func NewMovingAverageCross(params MACrossParams) (*MovingAverageCross, error) {
	if params.FastMA <= 0 || params.SlowMA <= 0 {
		return nil, &domain.ValidationError{Field: "ma_period", Reason: "must be positive"}
	}
	if params.FastMA >= params.SlowMA {
		return nil, &domain.ValidationError{Field: "fast_ma", Reason: "must be shorter than slow_ma"}
	}
	return &MovingAverageCross{
		params:    params,
		history:   make(map[string][]decimal.Decimal),
		lastCross: make(map[string]crossDirection),
		pairs:     make(map[string]struct{}),
	}, nil
}

func (m *MovingAverageCross) Name() string { return "ma_cross" }

// Initialize registers the pairs this strategy trades. Updates for other
// pairs are ignored.
func (m *MovingAverageCross) Initialize(pairs []string) error {
	if len(pairs) == 0 {
		return &domain.ValidationError{Field: "pairs", Reason: "must not be empty"}
	}
	for _, p := range pairs {
		m.pairs[p] = struct{}{}
		m.history[p] = nil
		m.lastCross[p] = crossNone
	}
	return nil
}

func (m *MovingAverageCross) ProcessData(update event.PriceUpdatePayload) *Signal {
	if _, ok := m.pairs[update.Pair]; !ok {
		return nil
	}

	pair := update.Pair
	price := update.Ticker.Price

	hist := append(m.history[pair], price)
	maxLen := 2 * m.params.SlowMA
	if len(hist) > maxLen {
		hist = hist[len(hist)-maxLen:]
	}
	m.history[pair] = hist

	if len(hist) < m.params.SlowMA {
		return nil
	}
	if update.Ticker.Volume.LessThan(m.params.MinVolume) {
		return nil
	}

	fast := mean(hist[len(hist)-m.params.FastMA:])
	slow := mean(hist[len(hist)-m.params.SlowMA:])
	if slow.IsZero() {
		return nil
	}

	if fast.GreaterThan(slow) {
		if m.lastCross[pair] != crossUp {
			m.lastCross[pair] = crossUp
			return &Signal{
				Pair:      pair,
				Direction: domain.SideBuy,
				Strength:  fast.Sub(slow).Div(slow),
				Price:     price,
			}
		}
		return nil
	}

	if m.lastCross[pair] != crossDown {
		m.lastCross[pair] = crossDown
		return &Signal{
			Pair:      pair,
			Direction: domain.SideSell,
			Strength:  slow.Sub(fast).Div(slow),
			Price:     price,
		}
	}
	return nil
}

func (m *MovingAverageCross) GenerateOrder(sig Signal) *domain.OrderRequest {
	threshold := m.params.EntryThreshold
	if sig.Direction == domain.SideSell {
		threshold = m.params.ExitThreshold
	}
	if sig.Strength.LessThan(threshold) {
		return nil
	}
	if sig.Price.IsZero() {
		return nil
	}

	riskAmount := m.params.AccountValue.Mul(m.params.RiskPerTrade)
	volume := riskAmount.Div(sig.Price)

	return &domain.OrderRequest{
		ClientID: uuid.NewString(),
		Pair:     sig.Pair,
		Side:     sig.Direction,
		Type:     "market",
		Price:    sig.Price,
		Volume:   volume,
		Strategy: m.Name(),
	}
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
