package awareness

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
)

// 持仓闸门指标名
const (
	MetricOpenPositions        = "open_positions"
	MetricSymbolPositions      = "symbol_positions"
	MetricExposure             = "exposure"
	MetricExposurePct          = "exposure_pct"
	MetricSymbolExposurePct    = "symbol_exposure_pct"
	MetricMinutesSinceLastOpen = "minutes_since_last_open"
)

// PositionConfig 持仓闸门配置
type PositionConfig struct {
	MaxOpenPositions  int     `yaml:"max_open_positions" json:"max_open_positions"`
	MaxRiskPercentage float64 `yaml:"max_risk_percentage" json:"max_risk_percentage"` // 组合敞口上限 = ×10 (%)
	AllowHedging      bool    `yaml:"allow_hedging" json:"allow_hedging"`
	MaxDailyTrades    int     `yaml:"max_daily_trades" json:"max_daily_trades"` // 0 表示不限制
}

// DefaultPositionConfig 默认配置
func DefaultPositionConfig() PositionConfig {
	return PositionConfig{
		MaxOpenPositions:  5,
		MaxRiskPercentage: 2,
	}
}

func (c *PositionConfig) applyDefaults() {
	d := DefaultPositionConfig()
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = d.MaxOpenPositions
	}
	if c.MaxRiskPercentage <= 0 {
		c.MaxRiskPercentage = d.MaxRiskPercentage
	}
}

// PositionRequest 持仓闸门输入
type PositionRequest struct {
	Symbol                 string
	Direction              domain.Direction
	StrategyRiskPercentage float64 // 单 symbol 敞口上限 = ×5 (%)；<=0 不检查
	TradesToday            int
}

// positionSource 持仓闸门需要的网关能力
type positionSource interface {
	ports.PositionLister
	ports.AccountReader
}

// PositionGate 持仓闸门
type PositionGate struct {
	src positionSource
	cfg PositionConfig
	now func() time.Time
}

// NewPositionGate 创建持仓闸门
func NewPositionGate(src positionSource, cfg PositionConfig) *PositionGate {
	cfg.applyDefaults()
	return &PositionGate{src: src, cfg: cfg, now: time.Now}
}

// WithClock 注入时钟
func (g *PositionGate) WithClock(now func() time.Time) *PositionGate {
	if now != nil {
		g.now = now
	}
	return g
}

// Evaluate 评估是否允许在 symbol 上按 direction 新开仓
func (g *PositionGate) Evaluate(ctx context.Context, req PositionRequest) (res GateResult) {
	defer func() { metrics.ObserveGate("position", res.Allowed) }()
	defer guard("position", &res)

	if g == nil || g.src == nil {
		return denied("position gate not configured")
	}
	balance, why := accountBalance(ctx, g.src)
	if why != "" {
		log.Warnf("⛔ 持仓闸门拒绝: %s", why)
		return denied(why)
	}
	positions, err := g.src.GetOpenPositions(ctx)
	if err != nil {
		log.Warnf("⛔ 持仓闸门拒绝: 读取持仓失败: %v", err)
		return denied("positions unavailable: " + err.Error())
	}

	res = newResult()
	now := g.now()

	exposure := decimal.Zero
	symbolExposure := decimal.Zero
	sameSymbol := 0
	var same, opposite int
	var lastOpen time.Time
	for _, p := range positions {
		value := decimal.NewFromFloat(p.Size).Abs().Mul(decimal.NewFromFloat(p.MarkPrice()))
		exposure = exposure.Add(value)
		if p.CreatedAt.After(lastOpen) {
			lastOpen = p.CreatedAt
		}
		if p.Symbol != req.Symbol {
			continue
		}
		sameSymbol++
		symbolExposure = symbolExposure.Add(value)
		if p.Side == req.Direction {
			same++
		} else if p.IsHedgeOf(req.Direction) {
			opposite++
		}
	}
	exposurePct := pct(exposure, balance)
	symbolExposurePct := pct(symbolExposure, balance)

	res.Metrics[MetricOpenPositions] = float64(len(positions))
	res.Metrics[MetricSymbolPositions] = float64(sameSymbol)
	res.Metrics[MetricExposure] = exposure.InexactFloat64()
	res.Metrics[MetricExposurePct] = exposurePct.InexactFloat64()
	res.Metrics[MetricSymbolExposurePct] = symbolExposurePct.InexactFloat64()
	if !lastOpen.IsZero() {
		res.Metrics[MetricMinutesSinceLastOpen] = now.Sub(lastOpen).Minutes()
	}

	if len(positions) >= g.cfg.MaxOpenPositions {
		res.reject("max open positions reached (%d >= %d)", len(positions), g.cfg.MaxOpenPositions)
	}
	if same > 0 {
		res.reject("duplicate position: %d open %s position(s) on %s", same, req.Direction, req.Symbol)
	}
	if opposite > 0 {
		if g.cfg.AllowHedging {
			res.note("hedge warning: %d opposite position(s) on %s", opposite, req.Symbol)
			res.recommend("review net exposure on %s before adding a hedge", req.Symbol)
		} else {
			res.reject("hedging not allowed: %d opposite position(s) on %s", opposite, req.Symbol)
			res.recommend("close the opposite %s position before reversing", req.Symbol)
		}
	}
	if limit := decimal.NewFromFloat(g.cfg.MaxRiskPercentage * 10); exposurePct.GreaterThan(limit) {
		res.reject("portfolio exposure %s%% exceeds %s%%", exposurePct.StringFixed(2), limit.StringFixed(2))
		res.recommend("reduce open exposure before adding positions")
	}
	if req.StrategyRiskPercentage > 0 {
		if limit := decimal.NewFromFloat(req.StrategyRiskPercentage * 5); symbolExposurePct.GreaterThan(limit) {
			res.reject("%s exposure %s%% exceeds %s%%", req.Symbol, symbolExposurePct.StringFixed(2), limit.StringFixed(2))
		}
	}
	if g.cfg.MaxDailyTrades > 0 && req.TradesToday >= g.cfg.MaxDailyTrades {
		res.reject("daily trade limit reached (%d >= %d)", req.TradesToday, g.cfg.MaxDailyTrades)
	}

	entry := log.WithFields(logrus.Fields{"symbol": req.Symbol, "direction": req.Direction, "open": len(positions)})
	if res.Allowed {
		entry.Debugf("持仓闸门通过: exposure=%s%%", exposurePct.StringFixed(2))
	} else {
		entry.Warnf("⛔ 持仓闸门拒绝: %v", res.Reasoning)
	}
	return res
}
