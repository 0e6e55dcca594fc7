package awareness

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
)

// 挂单闸门指标名
const (
	MetricPendingOrders       = "pending_orders"
	MetricSymbolPendingOrders = "symbol_pending_orders"
	MetricPendingExposure     = "pending_exposure"
	MetricPendingExposurePct  = "pending_exposure_pct"
	MetricHighConflicts       = "high_conflicts"
	MetricMediumConflicts     = "medium_conflicts"
	MetricAvgFillProbability  = "avg_fill_probability"
)

// OrderConfig 挂单闸门配置
type OrderConfig struct {
	MaxPendingOrders      int           `yaml:"max_pending_orders" json:"max_pending_orders"`
	MaxPendingPerSymbol   int           `yaml:"max_pending_per_symbol" json:"max_pending_per_symbol"`
	OrderTimeout          time.Duration `yaml:"order_timeout" json:"order_timeout"`
	HedgeSizeRatio        float64       `yaml:"hedge_size_ratio" json:"hedge_size_ratio"`
	FarFromMarketPct      float64       `yaml:"far_from_market_pct" json:"far_from_market_pct"`
	MaxPendingExposurePct float64       `yaml:"max_pending_exposure_pct" json:"max_pending_exposure_pct"`
}

// DefaultOrderConfig 默认配置
func DefaultOrderConfig() OrderConfig {
	return OrderConfig{
		MaxPendingOrders:      10,
		MaxPendingPerSymbol:   3,
		OrderTimeout:          24 * time.Hour,
		HedgeSizeRatio:        0.5,
		FarFromMarketPct:      5,
		MaxPendingExposurePct: 80,
	}
}

func (c *OrderConfig) applyDefaults() {
	d := DefaultOrderConfig()
	if c.MaxPendingOrders <= 0 {
		c.MaxPendingOrders = d.MaxPendingOrders
	}
	if c.MaxPendingPerSymbol <= 0 {
		c.MaxPendingPerSymbol = d.MaxPendingPerSymbol
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = d.OrderTimeout
	}
	if c.HedgeSizeRatio <= 0 {
		c.HedgeSizeRatio = d.HedgeSizeRatio
	}
	if c.FarFromMarketPct <= 0 {
		c.FarFromMarketPct = d.FarFromMarketPct
	}
	if c.MaxPendingExposurePct <= 0 {
		c.MaxPendingExposurePct = d.MaxPendingExposurePct
	}
}

// PendingOrderRequest 挂单闸门输入
type PendingOrderRequest struct {
	Symbol        string
	Direction     domain.Direction
	ProposedPrice float64 // <=0 时按当前价
	ProposedSize  float64
}

type orderSource interface {
	ports.WorkingOrderLister
	ports.PriceGetter
	ports.AccountReader
}

// PendingOrderGate 挂单闸门
type PendingOrderGate struct {
	src orderSource
	cfg OrderConfig
	now func() time.Time
}

// NewPendingOrderGate 创建挂单闸门
func NewPendingOrderGate(src orderSource, cfg OrderConfig) *PendingOrderGate {
	cfg.applyDefaults()
	return &PendingOrderGate{src: src, cfg: cfg, now: time.Now}
}

// WithClock 注入时钟
func (g *PendingOrderGate) WithClock(now func() time.Time) *PendingOrderGate {
	if now != nil {
		g.now = now
	}
	return g
}

// FillProbability 按距市价的百分比估算成交概率
func FillProbability(distancePct float64) float64 {
	switch {
	case distancePct < 0.1:
		return 0.9
	case distancePct < 0.5:
		return 0.7
	case distancePct < 1:
		return 0.5
	case distancePct < 2:
		return 0.3
	default:
		return 0.1
	}
}

// ConflictWith 已有挂单与拟下单之间的冲突等级。
// 同方向按价格接近程度分级；反方向只有已有挂单规模超过 proposedSize×hedgeRatio 才算 MEDIUM。
func ConflictWith(existing domain.BrokerOrderSnapshot, direction domain.Direction, proposedPrice, proposedSize, hedgeRatio float64) domain.ConflictLevel {
	if existing.Direction != direction {
		if existing.Size > proposedSize*hedgeRatio {
			return domain.ConflictMedium
		}
		return domain.ConflictNone
	}
	if proposedPrice <= 0 {
		return domain.ConflictNone
	}
	diffPct := math.Abs(existing.OrderPrice-proposedPrice) / proposedPrice * 100
	switch {
	case diffPct <= 0.1:
		return domain.ConflictHigh
	case diffPct <= 0.5:
		return domain.ConflictMedium
	case diffPct <= 1:
		return domain.ConflictLow
	default:
		return domain.ConflictNone
	}
}

// Evaluate 评估已有挂单是否允许再下一单
func (g *PendingOrderGate) Evaluate(ctx context.Context, req PendingOrderRequest) (res GateResult) {
	defer func() { metrics.ObserveGate("pending_orders", res.Allowed) }()
	defer guard("pending_orders", &res)

	if g == nil || g.src == nil {
		return denied("pending order gate not configured")
	}
	balance, why := accountBalance(ctx, g.src)
	if why != "" {
		log.Warnf("⛔ 挂单闸门拒绝: %s", why)
		return denied(why)
	}
	orders, err := g.src.GetWorkingOrders(ctx)
	if err != nil {
		log.Warnf("⛔ 挂单闸门拒绝: 读取挂单失败: %v", err)
		return denied("working orders unavailable: " + err.Error())
	}

	// 当前价只在本次评估内缓存
	prices := make(map[string]float64)
	priceOf := func(symbol string) (float64, error) {
		if p, ok := prices[symbol]; ok {
			return p, nil
		}
		p, err := g.src.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return 0, err
		}
		prices[symbol] = p
		return p, nil
	}

	proposedPrice := req.ProposedPrice
	if proposedPrice <= 0 {
		p, err := priceOf(req.Symbol)
		if err != nil {
			return denied("price unavailable for " + req.Symbol + ": " + err.Error())
		}
		proposedPrice = p
	}

	res = newResult()
	now := g.now()
	exposure := decimal.Zero
	symbolPending, high, medium := 0, 0, 0
	var fillSum float64
	annotated := make([]domain.BrokerOrderSnapshot, 0, len(orders))

	for _, o := range orders {
		current, err := priceOf(o.Symbol)
		if err != nil {
			return denied("price unavailable for " + o.Symbol + ": " + err.Error())
		}
		o.DistanceFromMarket = math.Abs(current - o.OrderPrice)
		distPct := 0.0
		if current > 0 {
			distPct = o.DistanceFromMarket / current * 100
		}
		o.EstimatedFillProbability = FillProbability(distPct)
		fillSum += o.EstimatedFillProbability
		exposure = exposure.Add(decimal.NewFromFloat(o.Size).Abs().Mul(decimal.NewFromFloat(o.OrderPrice)))

		o.ConflictLevel = domain.ConflictNone
		if o.Symbol == req.Symbol {
			symbolPending++
			o.ConflictLevel = ConflictWith(o, req.Direction, proposedPrice, req.ProposedSize, g.cfg.HedgeSizeRatio)
			switch o.ConflictLevel {
			case domain.ConflictHigh:
				high++
			case domain.ConflictMedium:
				medium++
			}
		}

		if age := o.Age(now); age > g.cfg.OrderTimeout || o.IsExpired(now) {
			res.recommend("cancel stale order %s on %s (age %s)", o.ID, o.Symbol, age.Truncate(time.Minute))
		}
		if distPct > g.cfg.FarFromMarketPct {
			res.recommend("modify order %s on %s: %.2f%% away from market", o.ID, o.Symbol, distPct)
		}
		annotated = append(annotated, o)
	}
	res.Orders = annotated

	exposurePct := pct(exposure, balance)
	res.Metrics[MetricPendingOrders] = float64(len(orders))
	res.Metrics[MetricSymbolPendingOrders] = float64(symbolPending)
	res.Metrics[MetricPendingExposure] = exposure.InexactFloat64()
	res.Metrics[MetricPendingExposurePct] = exposurePct.InexactFloat64()
	res.Metrics[MetricHighConflicts] = float64(high)
	res.Metrics[MetricMediumConflicts] = float64(medium)
	if len(orders) > 0 {
		res.Metrics[MetricAvgFillProbability] = fillSum / float64(len(orders))
	}

	if len(orders) >= g.cfg.MaxPendingOrders {
		res.reject("too many working orders (%d >= %d)", len(orders), g.cfg.MaxPendingOrders)
	}
	if symbolPending >= g.cfg.MaxPendingPerSymbol {
		res.reject("too many working orders on %s (%d >= %d)", req.Symbol, symbolPending, g.cfg.MaxPendingPerSymbol)
	}
	if high > 0 {
		res.reject("%d working %s order(s) on %s within 0.1%% of the proposed price", high, req.Direction, req.Symbol)
	}
	if medium > 0 {
		res.note("%d working order(s) on %s with medium conflict", medium, req.Symbol)
	}
	if limit := decimal.NewFromFloat(g.cfg.MaxPendingExposurePct); exposurePct.GreaterThan(limit) {
		res.reject("pending exposure %s%% exceeds %s%%", exposurePct.StringFixed(2), limit.StringFixed(2))
	}

	entry := log.WithFields(logrus.Fields{"symbol": req.Symbol, "direction": req.Direction, "working": len(orders)})
	if res.Allowed {
		entry.Debugf("挂单闸门通过: pending_exposure=%s%%", exposurePct.StringFixed(2))
	} else {
		entry.Warnf("⛔ 挂单闸门拒绝: %v", res.Reasoning)
	}
	return res
}
