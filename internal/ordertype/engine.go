package ordertype

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
)

var log = logrus.WithField("module", "ordertype")

// 全部视角弃权时的兜底置信度
const fallbackConfidence = 0.3

// Engine 订单类型决策引擎：多个视角投票，加权融合出订单类型、入场价与有效期。
// 无随机性；同样的输入和时钟得到同样的输出。
type Engine struct {
	perspectives []Perspective
	now          func() time.Time
}

// Option 构造选项
type Option func(*Engine)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPerspectives 替换视角集合
func WithPerspectives(ps ...Perspective) Option {
	return func(e *Engine) {
		e.perspectives = ps
	}
}

// New 创建引擎（默认四个视角）
func New(opts ...Option) *Engine {
	e := &Engine{
		perspectives: DefaultPerspectives(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetermineOptimalOrderType 决定订单类型
func (e *Engine) DetermineOptimalOrderType(
	analysis domain.TechnicalAnalysis,
	strategy domain.StrategyProfile,
	conditions domain.MarketConditions,
	direction domain.Direction,
	timeframe domain.Timeframe,
) domain.OrderTypeDecision {
	if e == nil {
		e = New()
	}
	in := Input{
		Analysis:   analysis,
		Strategy:   strategy,
		Conditions: conditions,
		Direction:  direction,
		Timeframe:  timeframe,
	}

	votes := make([]WeightedVote, 0, len(e.perspectives))
	for _, p := range e.perspectives {
		v, err := evaluate(p, in)
		if err != nil {
			metrics.PerspectiveFailures.WithLabelValues(p.Name()).Inc()
			log.Warnf("⚠️ 视角 %s 失败，按弃权处理: %v", p.Name(), err)
			continue
		}
		if v == nil {
			continue
		}
		votes = append(votes, WeightedVote{Name: p.Name(), Weight: p.Weight(), Vote: *v})
	}

	fusion, ok := Fuse(votes)
	if !ok {
		metrics.OrderTypeDecisions.WithLabelValues(string(domain.OrderTypeMarket)).Inc()
		log.Warnf("⚠️ 所有视角弃权，回退 MARKET: price=%.5f", analysis.CurrentPrice)
		return domain.OrderTypeDecision{
			OrderType:  domain.OrderTypeMarket,
			Reasoning:  "no perspective produced a vote, defaulting to MARKET",
			Confidence: fallbackConfidence,
		}
	}

	d := domain.OrderTypeDecision{
		OrderType:             fusion.Winner,
		EntryPrice:            fusion.EntryPrice,
		Reasoning:             fusion.Reasoning,
		RequiredConfirmations: fusion.RequiredConfirmations,
		Confidence:            fusion.Confidence,
	}
	if d.OrderType == domain.OrderTypeMarket {
		d.EntryPrice = nil
	} else {
		if d.EntryPrice == nil {
			d.EntryPrice = EntryPrice(d.OrderType, direction, analysis)
		}
		exp := e.now().Add(Expiration(d.OrderType, strategy.Category))
		d.Expiration = &exp
	}

	metrics.OrderTypeDecisions.WithLabelValues(string(d.OrderType)).Inc()
	log.WithFields(logrus.Fields{
		"type":       d.OrderType,
		"confidence": fmt.Sprintf("%.2f", d.Confidence),
		"direction":  direction,
		"category":   strategy.Category,
	}).Debug("订单类型决策完成")
	return d
}

// evaluate 执行单个视角；panic 视为失败
func evaluate(p Perspective, in Input) (v *Vote, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Add(1)
			v, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Evaluate(in)
}

// EntryPrice 胜出类型没有给出价格时按 ATR 计算入场价；MARKET 或价格不可用时返回 nil
func EntryPrice(orderType domain.OrderType, direction domain.Direction, a domain.TechnicalAnalysis) *float64 {
	price := a.CurrentPrice
	if price <= 0 || orderType == domain.OrderTypeMarket {
		return nil
	}
	offset := price * 0.001
	if a.ATR > 0 {
		offset = a.ATR * 0.2
	}

	// sign: LIMIT 向有利方向挂，STOP/STOP_LIMIT 向突破方向挂
	sign := 1.0
	if direction == domain.DirectionSell {
		sign = -1.0
	}
	switch orderType {
	case domain.OrderTypeLimit:
		return priceRef(price - sign*offset)
	case domain.OrderTypeStop:
		return priceRef(price + sign*offset)
	case domain.OrderTypeStopLimit:
		return priceRef(price + sign*offset*1.5)
	default:
		return nil
	}
}

// Expiration 有效期：先按策略分类，其次按订单类型
func Expiration(orderType domain.OrderType, category string) time.Duration {
	switch category {
	case domain.CategoryScalping:
		return 15 * time.Minute
	case domain.CategoryDayTrade:
		return 4 * time.Hour
	case domain.CategorySwingTrade:
		return 24 * time.Hour
	}
	switch orderType {
	case domain.OrderTypeLimit:
		return 8 * time.Hour
	case domain.OrderTypeStop:
		return 4 * time.Hour
	case domain.OrderTypeStopLimit:
		return 2 * time.Hour
	default:
		return time.Hour
	}
}
