package ordertype

import (
	"fmt"
	"math"
	"time"

	"github.com/betbot/ordercore/internal/domain"
)

const (
	strongTrendStrength = 7.0
	wideSpread          = 1.0
	veryWideSpread      = 2.0
	levelProximity      = 0.005 // 0.5%
	breakoutWindow      = 0.01  // 1%
	shortTimeframe      = 5 * time.Minute
	lowRiskPercent      = 1.0
)

// CategoryPerspective 按策略分类投票
type CategoryPerspective struct{}

func (CategoryPerspective) Name() string    { return "category" }
func (CategoryPerspective) Weight() float64 { return WeightCategory }

func (CategoryPerspective) Evaluate(in Input) (*Vote, error) {
	switch in.Strategy.Category {
	case domain.CategoryScalping:
		if in.Conditions.Spread > wideSpread {
			return vote(domain.OrderTypeLimit, 0.8, fmt.Sprintf("scalping with wide spread %.2f, avoid paying it", in.Conditions.Spread)), nil
		}
		return vote(domain.OrderTypeMarket, 0.9, "scalping needs immediate execution"), nil
	case domain.CategoryDayTrade:
		t := in.Analysis.Trend
		if t.Strength > strongTrendStrength && t.Direction.Aligned(in.Direction) {
			return vote(domain.OrderTypeMarket, 0.7, "day trade riding a strong aligned trend"), nil
		}
		return vote(domain.OrderTypeLimit, 0.7, "day trade prefers a better entry"), nil
	case domain.CategorySwingTrade:
		return vote(domain.OrderTypeLimit, 0.8, "swing trade can wait for price"), nil
	default:
		return vote(domain.OrderTypeMarket, 0.4, fmt.Sprintf("unknown strategy category %q", in.Strategy.Category)), nil
	}
}

// TechnicalPerspective 按趋势与支撑阻力位投票
type TechnicalPerspective struct{}

func (TechnicalPerspective) Name() string    { return "technical" }
func (TechnicalPerspective) Weight() float64 { return WeightTechnical }

func (TechnicalPerspective) Evaluate(in Input) (*Vote, error) {
	a := in.Analysis
	if a.CurrentPrice <= 0 || math.IsNaN(a.CurrentPrice) || math.IsInf(a.CurrentPrice, 0) {
		return nil, fmt.Errorf("invalid current price %v", a.CurrentPrice)
	}
	price := a.CurrentPrice

	if a.Trend.Strength > strongTrendStrength {
		if a.Trend.Direction.Aligned(in.Direction) {
			conf := math.Min(0.95, 0.5+0.05*a.Trend.Strength)
			return vote(domain.OrderTypeMarket, conf, fmt.Sprintf("strong %s trend (%.1f) aligned with %s", a.Trend.Direction, a.Trend.Strength, in.Direction)), nil
		}
		if a.Trend.Direction.Aligned(in.Direction.Opposite()) {
			return vote(domain.OrderTypeLimit, 0.7, fmt.Sprintf("strong %s trend (%.1f) against %s, wait for pullback", a.Trend.Direction, a.Trend.Strength, in.Direction)), nil
		}
	}

	buffer := levelBuffer(a)

	// 回踩入场：BUY 靠近支撑，SELL 靠近阻力
	levels, sign, label := a.SupportLevels, 1.0, "support"
	if in.Direction == domain.DirectionSell {
		levels, sign, label = a.ResistanceLevels, -1.0, "resistance"
	}
	if lvl, ok := nearestWithin(levels, price, levelProximity); ok {
		v := vote(domain.OrderTypeLimit, 0.8, fmt.Sprintf("price near %s %.5f", label, lvl))
		v.EntryPrice = priceRef(lvl + sign*buffer)
		return v, nil
	}

	// 突破：BUY 刚站上阻力，SELL 刚跌破支撑
	if lvl, ok := breakoutLevel(a, in.Direction, price); ok {
		v := vote(domain.OrderTypeStop, 0.75, fmt.Sprintf("breakout through %.5f", lvl))
		if in.Direction == domain.DirectionBuy {
			v.EntryPrice = priceRef(price + buffer)
		} else {
			v.EntryPrice = priceRef(price - buffer)
		}
		return v, nil
	}

	return vote(domain.OrderTypeLimit, 0.6, "no decisive technical setup"), nil
}

func levelBuffer(a domain.TechnicalAnalysis) float64 {
	if a.ATR > 0 {
		return a.ATR * 0.1
	}
	return a.CurrentPrice * 0.001
}

func nearestWithin(levels []float64, price, pct float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if l <= 0 {
			continue
		}
		d := math.Abs(price-l) / price
		if d > pct {
			continue
		}
		if !found || d < math.Abs(price-best)/price {
			best, found = l, true
		}
	}
	return best, found
}

func breakoutLevel(a domain.TechnicalAnalysis, dir domain.Direction, price float64) (float64, bool) {
	if dir == domain.DirectionBuy {
		for _, r := range a.ResistanceLevels {
			if r > 0 && price > r && (price-r)/r <= breakoutWindow {
				return r, true
			}
		}
		return 0, false
	}
	for _, s := range a.SupportLevels {
		if s > 0 && price < s && (s-price)/s <= breakoutWindow {
			return s, true
		}
	}
	return 0, false
}

// MarketPerspective 按市场状态投票
type MarketPerspective struct{}

func (MarketPerspective) Name() string    { return "market" }
func (MarketPerspective) Weight() float64 { return WeightMarket }

func (MarketPerspective) Evaluate(in Input) (*Vote, error) {
	c := in.Conditions
	switch {
	case c.Volatility == domain.LevelHigh:
		return vote(domain.OrderTypeLimit, 0.8, "high volatility, control the fill price"), nil
	case c.Liquidity == domain.LevelLow:
		return vote(domain.OrderTypeLimit, 0.8, "low liquidity, avoid slippage"), nil
	case c.Spread > veryWideSpread:
		return vote(domain.OrderTypeLimit, 0.8, fmt.Sprintf("spread %.2f too wide for market orders", c.Spread)), nil
	}
	if d := in.Timeframe.Duration(); d > 0 && d <= shortTimeframe {
		return vote(domain.OrderTypeMarket, 0.85, fmt.Sprintf("short timeframe %s favours speed", in.Timeframe)), nil
	}
	return nil, nil
}

// RiskPerspective 按风控要求投票
type RiskPerspective struct{}

func (RiskPerspective) Name() string    { return "risk" }
func (RiskPerspective) Weight() float64 { return WeightRisk }

func (RiskPerspective) Evaluate(in Input) (*Vote, error) {
	s := in.Strategy
	if s.RequiresConfirmation {
		signal := s.ConfirmationSignal
		if signal == "" {
			signal = "candle_close"
		}
		v := vote(domain.OrderTypeLimit, 0.8, fmt.Sprintf("strategy requires %s confirmation", signal))
		v.RequiredConfirmation = "CONFIRMATION:" + signal
		return v, nil
	}
	if s.RiskPerTradePercent > 0 && s.RiskPerTradePercent <= lowRiskPercent {
		return vote(domain.OrderTypeLimit, 0.7, fmt.Sprintf("low risk budget %.2f%%, prefer precise entry", s.RiskPerTradePercent)), nil
	}
	return nil, nil
}
