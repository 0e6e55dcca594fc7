// Package awareness 把 broker 的持仓/挂单快照转换成下单前的风险闸门。
//
// 所有闸门 fail closed：网关出错、余额非正或内部 panic 一律 Allowed=false。
package awareness

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
)

var log = logrus.WithField("module", "awareness")

var hundred = decimal.NewFromInt(100)

// GateResult 闸门评估结果
type GateResult struct {
	Allowed         bool
	Reasoning       []string
	Recommendations []string
	Metrics         map[string]float64
	// Orders 挂单闸门计算过距离/成交概率/冲突等级的挂单快照
	Orders []domain.BrokerOrderSnapshot
}

func newResult() GateResult {
	return GateResult{Allowed: true, Metrics: make(map[string]float64)}
}

func (r *GateResult) reject(format string, args ...any) {
	r.Allowed = false
	r.Reasoning = append(r.Reasoning, fmt.Sprintf(format, args...))
}

func (r *GateResult) note(format string, args ...any) {
	r.Reasoning = append(r.Reasoning, fmt.Sprintf(format, args...))
}

func (r *GateResult) recommend(format string, args ...any) {
	r.Recommendations = append(r.Recommendations, fmt.Sprintf(format, args...))
}

func denied(reason string) GateResult {
	return GateResult{Allowed: false, Reasoning: []string{reason}, Metrics: make(map[string]float64)}
}

// guard 把 panic 转换成拒绝结果
func guard(gate string, res *GateResult) {
	if r := recover(); r != nil {
		metrics.RecoveredPanics.Add(1)
		log.Errorf("❌ %s 闸门 panic: %v", gate, r)
		*res = denied(fmt.Sprintf("%s gate internal error: %v", gate, r))
	}
}

// accountBalance 读取余额；出错或非正返回拒绝原因
func accountBalance(ctx context.Context, acc ports.AccountReader) (decimal.Decimal, string) {
	a, err := acc.GetAccount(ctx)
	if err != nil {
		return decimal.Zero, fmt.Sprintf("account unavailable: %v", err)
	}
	bal := decimal.NewFromFloat(a.Balance)
	if !bal.IsPositive() {
		return decimal.Zero, fmt.Sprintf("account balance %s is not positive", bal)
	}
	return bal, ""
}

// pct = part / whole × 100
func pct(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// Request 组合闸门的输入
type Request struct {
	Symbol                 string
	Direction              domain.Direction
	StrategyRiskPercentage float64
	TradesToday            int
	ProposedPrice          float64 // <=0 时按当前价
	ProposedSize           float64
}

// Gate 组合闸门：先持仓，后挂单
type Gate struct {
	Positions *PositionGate
	Orders    *PendingOrderGate
}

// NewGate 用同一个网关构造两个闸门
func NewGate(gw ports.BrokerGateway, pc PositionConfig, oc OrderConfig) *Gate {
	return &Gate{
		Positions: NewPositionGate(gw, pc),
		Orders:    NewPendingOrderGate(gw, oc),
	}
}

// Evaluate 持仓闸门拒绝时不再查询挂单
func (g *Gate) Evaluate(ctx context.Context, req Request) (res GateResult) {
	defer guard("combined", &res)
	if g == nil || g.Positions == nil || g.Orders == nil {
		return denied("awareness gate not configured")
	}

	pos := g.Positions.Evaluate(ctx, PositionRequest{
		Symbol:                 req.Symbol,
		Direction:              req.Direction,
		StrategyRiskPercentage: req.StrategyRiskPercentage,
		TradesToday:            req.TradesToday,
	})
	if !pos.Allowed {
		metrics.ObserveGate("combined", false)
		return pos
	}

	ord := g.Orders.Evaluate(ctx, PendingOrderRequest{
		Symbol:        req.Symbol,
		Direction:     req.Direction,
		ProposedPrice: req.ProposedPrice,
		ProposedSize:  req.ProposedSize,
	})

	res = newResult()
	res.Allowed = ord.Allowed
	res.Reasoning = append(append(res.Reasoning, pos.Reasoning...), ord.Reasoning...)
	res.Recommendations = append(append(res.Recommendations, pos.Recommendations...), ord.Recommendations...)
	for k, v := range pos.Metrics {
		res.Metrics[k] = v
	}
	for k, v := range ord.Metrics {
		res.Metrics[k] = v
	}
	res.Orders = ord.Orders
	metrics.ObserveGate("combined", res.Allowed)
	return res
}
