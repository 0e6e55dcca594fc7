// Package ordermanager 把合规、协调、订单类型、风控几步串成一次下单决策。
package ordermanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/awareness"
	"github.com/betbot/ordercore/internal/coordinator"
	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ordertype"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/internal/risk"
)

var log = logrus.WithField("module", "ordermanager")

// ViolationProcessingError 兜底决策里的违规标记
const ViolationProcessingError = "PROCESSING_ERROR"

// ConditionHedgeWarning 同一 bot 在反方向已有待处理意图时附加的条件前缀
const ConditionHedgeWarning = "HEDGE_WARNING:"

// VetoKind 否决来源
type VetoKind string

const (
	VetoCircuitBreaker  VetoKind = "CIRCUIT_BREAKER"
	VetoInvalidRequest  VetoKind = "INVALID_REQUEST"
	VetoCompliance      VetoKind = "COMPLIANCE"
	VetoAwareness       VetoKind = "AWARENESS"
	VetoCoordination    VetoKind = "COORDINATION"
	VetoRisk            VetoKind = "RISK"
	VetoProcessingError VetoKind = ViolationProcessingError
)

// Veto 否决信息
type Veto struct {
	Kind   VetoKind
	Reason string
}

func (v *Veto) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Reason)
}

// Result 一次决策的结果。Veto 非空时 Decision.PositionSize 一定为 0。
type Result struct {
	Decision domain.ProfessionalOrderDecision
	Veto     *Veto
	Intent   *domain.OrderIntent
}

// Approved 决策通过且已登记意图
func (r Result) Approved() bool {
	return r.Veto == nil && r.Intent != nil
}

// OrderRequest 下单决策请求
type OrderRequest struct {
	BotID     string
	Symbol    string
	Direction domain.Direction
	Agent     string // 发起请求的 agent，用于协调器的频率限制

	Analysis   domain.TechnicalAnalysis
	Strategy   domain.StrategyProfile
	Conditions domain.MarketConditions
	Timeframe  domain.Timeframe
	Portfolio  domain.PortfolioContext

	TradesToday  int     // 持仓闸门的当日交易计数
	ProposedSize float64 // 挂单闸门判断反向挂单是否构成对冲冲突
}

// Coordinator Manager 依赖的协调器能力
type Coordinator interface {
	Peek(botID, symbol string, direction domain.Direction, agent string) coordinator.ConflictResult
	TryRegister(botID, symbol string, decision coordinator.Decision, agent string) (coordinator.ConflictResult, *domain.OrderIntent)
	Cancel(botID, symbol, reason string) int
	MarkFilled(botID, symbol string, direction domain.Direction) int
	Statistics(botID string) coordinator.Statistics
}

// Manager 专业下单决策器
type Manager struct {
	coord     Coordinator
	validator ports.StrategyValidator
	riskCalc  ports.RiskCalculator
	engine    *ordertype.Engine
	breaker   *risk.CircuitBreaker
	gate      *awareness.Gate
}

// Option 构造选项
type Option func(*Manager)

// WithEngine 替换订单类型引擎
func WithEngine(e *ordertype.Engine) Option {
	return func(m *Manager) {
		if e != nil {
			m.engine = e
		}
	}
}

// WithCircuitBreaker 替换断路器
func WithCircuitBreaker(cb *risk.CircuitBreaker) Option {
	return func(m *Manager) {
		m.breaker = cb
	}
}

// WithAwareness 在合规之后、协调之前加入持仓/挂单闸门
func WithAwareness(g *awareness.Gate) Option {
	return func(m *Manager) {
		m.gate = g
	}
}

// New 创建 Manager
func New(coord Coordinator, validator ports.StrategyValidator, riskCalc ports.RiskCalculator, opts ...Option) (*Manager, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator 不能为空")
	}
	if validator == nil {
		return nil, fmt.Errorf("strategy validator 不能为空")
	}
	if riskCalc == nil {
		return nil, fmt.Errorf("risk calculator 不能为空")
	}
	m := &Manager{
		coord:     coord,
		validator: validator,
		riskCalc:  riskCalc,
		engine:    ordertype.New(),
		breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: 5,
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RequestOrderDecision 依次执行：断路器 → 合规 → (闸门) → 协调检查 → 订单类型 → 风控 → 汇总 → 原子登记。
// 不返回 error：预期内的拒绝体现为 Veto，意外错误体现为 PROCESSING_ERROR 兜底决策。
func (m *Manager) RequestOrderDecision(ctx context.Context, req OrderRequest) (res Result) {
	fields := logrus.Fields{"bot": req.BotID, "symbol": req.Symbol, "direction": req.Direction, "agent": req.Agent}

	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Add(1)
			m.breaker.OnError()
			log.WithFields(fields).Errorf("❌ 下单决策 panic: %v", r)
			res = fallback(fmt.Errorf("panic: %v", r))
		}
		metrics.OrderDecisions.WithLabelValues(outcome(res)).Inc()
	}()

	if err := m.breaker.AllowTrading(); err != nil {
		log.WithFields(fields).Warn("⛔ 断路器打开，拒绝决策")
		return vetoed(VetoCircuitBreaker, err.Error(), domain.ComplianceResult{IsCompliant: true})
	}
	if err := ctx.Err(); err != nil {
		return fallback(err)
	}
	if req.Symbol == "" || !req.Direction.Valid() {
		return vetoed(VetoInvalidRequest, fmt.Sprintf("invalid request: symbol=%q direction=%q", req.Symbol, req.Direction), domain.ComplianceResult{})
	}

	res, err := m.decide(ctx, req, fields)
	if err != nil {
		m.breaker.OnError()
		log.WithFields(fields).Errorf("❌ 下单决策失败: %v", err)
		return fallback(err)
	}
	m.breaker.OnSuccess()
	return res
}

func (m *Manager) decide(ctx context.Context, req OrderRequest, fields logrus.Fields) (Result, error) {
	// 1. 合规
	compliance, err := m.validator.Validate(ctx, req.Strategy, req.Analysis, req.Conditions, req.Timeframe)
	if err != nil {
		return Result{}, fmt.Errorf("strategy validation: %w", err)
	}
	if !compliance.IsCompliant {
		reason := "strategy compliance failed: " + strings.Join(compliance.Violations, "; ")
		log.WithFields(fields).Warnf("⛔ %s", reason)
		return vetoed(VetoCompliance, reason, compliance), nil
	}

	// 闸门（可选）
	var gateNotes []string
	if m.gate != nil {
		g := m.gate.Evaluate(ctx, awareness.Request{
			Symbol:                 req.Symbol,
			Direction:              req.Direction,
			StrategyRiskPercentage: req.Strategy.RiskPerTradePercent,
			TradesToday:            req.TradesToday,
			ProposedPrice:          req.Analysis.CurrentPrice,
			ProposedSize:           req.ProposedSize,
		})
		if !g.Allowed {
			reason := "awareness gate: " + strings.Join(g.Reasoning, "; ")
			log.WithFields(fields).Warnf("⛔ %s", reason)
			res := vetoed(VetoAwareness, reason, compliance)
			res.Decision.Conditions = append(res.Decision.Conditions, g.Recommendations...)
			return res, nil
		}
		gateNotes = g.Reasoning
	}

	// 2. 协调预检（不计入统计，以第 6 步的登记结果为准）
	if cr := m.coord.Peek(req.BotID, req.Symbol, req.Direction, req.Agent); !cr.CanProceed {
		log.WithFields(fields).Warnf("⛔ 协调拒绝: %s", cr.Reason)
		return vetoed(VetoCoordination, cr.Reason, compliance), nil
	}

	// 3. 订单类型
	typeDecision := m.engine.DetermineOptimalOrderType(req.Analysis, req.Strategy, req.Conditions, req.Direction, req.Timeframe)

	// 4. 风控
	adj, err := m.riskCalc.CalculateRisk(ctx, req.Analysis, req.Strategy, req.Portfolio, typeDecision.OrderType, req.Timeframe)
	if err != nil {
		log.WithFields(fields).Warnf("⛔ 风控计算失败: %v", err)
		res := vetoed(VetoRisk, fmt.Sprintf("risk calculation failed: %v", err), compliance)
		res.Decision.OrderType = typeDecision.OrderType
		return res, nil
	}
	if adj.OptimalPositionSize <= 0 {
		res := vetoed(VetoRisk, "risk calculator returned no position size", compliance)
		res.Decision.OrderType = typeDecision.OrderType
		res.Decision.RiskAssessment.RiskRewardRatio = adj.RiskRewardRatio
		res.Decision.RiskAssessment.MaxDrawdown = adj.MaxDrawdown
		return res, nil
	}

	// 5. 汇总
	decision := compile(typeDecision, adj, compliance, req.Conditions)
	if len(gateNotes) > 0 {
		decision.Reasoning = strings.TrimPrefix(decision.Reasoning+" | awareness: "+strings.Join(gateNotes, "; "), " | ")
	}

	// 6. 原子登记
	cr, intent := m.coord.TryRegister(req.BotID, req.Symbol, coordinator.Decision{
		Direction:  req.Direction,
		OrderType:  decision.OrderType,
		Expiration: decision.Expiration,
	}, req.Agent)
	if !cr.CanProceed || intent == nil {
		log.WithFields(fields).Warnf("⛔ 登记失败: %s", cr.Reason)
		decision.PositionSize = 0
		return Result{Decision: decision, Veto: &Veto{Kind: VetoCoordination, Reason: cr.Reason}}, nil
	}
	if cr.HedgeWarning {
		decision.Conditions = append(decision.Conditions, ConditionHedgeWarning+cr.Reason)
	}

	log.WithFields(fields).Infof("✅ 下单决策通过: type=%s size=%.4f urgency=%s intent=%s",
		decision.OrderType, decision.PositionSize, decision.Urgency, intent.ID)
	return Result{Decision: decision, Intent: intent}, nil
}

// compile 汇总各阶段输出；止损/止盈/仓位直接取风控结果
func compile(t domain.OrderTypeDecision, adj domain.RiskAdjustment, compliance domain.ComplianceResult, conditions domain.MarketConditions) domain.ProfessionalOrderDecision {
	var reasoning []string
	if t.Reasoning != "" {
		reasoning = append(reasoning, t.Reasoning)
	}
	if adj.Reasoning != "" {
		reasoning = append(reasoning, adj.Reasoning)
	}
	if len(compliance.Recommendations) > 0 {
		reasoning = append(reasoning, "recommendations: "+strings.Join(compliance.Recommendations, "; "))
	}

	var conds []string
	if t.OrderType != domain.OrderTypeMarket && t.EntryPrice != nil {
		conds = append(conds, fmt.Sprintf("ENTRY_PRICE:%.5f", *t.EntryPrice))
	}
	conds = append(conds, compliance.Recommendations...)
	conds = append(conds, t.RequiredConfirmations...)

	return domain.ProfessionalOrderDecision{
		OrderType:          t.OrderType,
		EntryPrice:         t.EntryPrice,
		StopLoss:           adj.AdjustedStopLoss,
		TakeProfit:         adj.AdjustedTakeProfit,
		PositionSize:       adj.OptimalPositionSize,
		Reasoning:          strings.Join(reasoning, " | "),
		StrategyCompliance: compliance,
		RiskAssessment: domain.RiskAssessment{
			RiskScore:       adj.RiskScore,
			RiskRewardRatio: adj.RiskRewardRatio,
			MaxDrawdown:     adj.MaxDrawdown,
		},
		Urgency:    urgencyOf(t.OrderType, conditions),
		Expiration: t.Expiration,
		Conditions: conds,
	}
}

func urgencyOf(ot domain.OrderType, c domain.MarketConditions) domain.Urgency {
	switch {
	case ot == domain.OrderTypeMarket:
		return domain.UrgencyHigh
	case ot == domain.OrderTypeLimit && c.Volatility == domain.LevelHigh:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// vetoed 零仓位、最高风险分的否决决策
func vetoed(kind VetoKind, reason string, compliance domain.ComplianceResult) Result {
	return Result{
		Decision: domain.ProfessionalOrderDecision{
			OrderType:          domain.OrderTypeMarket,
			PositionSize:       0,
			Reasoning:          reason,
			StrategyCompliance: compliance,
			RiskAssessment:     domain.RiskAssessment{RiskScore: domain.MaxRiskScore},
			Urgency:            domain.UrgencyLow,
		},
		Veto: &Veto{Kind: kind, Reason: reason},
	}
}

// fallback 意外错误时的兜底决策
func fallback(err error) Result {
	reason := fmt.Sprintf("order decision failed: %v", err)
	res := vetoed(VetoProcessingError, reason, domain.ComplianceResult{
		IsCompliant: false,
		Violations:  []string{ViolationProcessingError},
	})
	return res
}

func outcome(r Result) string {
	if r.Veto != nil {
		return strings.ToLower(string(r.Veto.Kind))
	}
	return "approved"
}

// CancelOrderDecision 取消 (bot, symbol) 的在途意图
func (m *Manager) CancelOrderDecision(botID, symbol, reason string) int {
	if reason == "" {
		reason = "cancelled by caller"
	}
	return m.coord.Cancel(botID, symbol, reason)
}

// MarkOrderFilled 执行层回报成交
func (m *Manager) MarkOrderFilled(botID, symbol string, direction domain.Direction) int {
	return m.coord.MarkFilled(botID, symbol, direction)
}

// GetOrderStatistics 协调统计（botID 为空表示全部）
func (m *Manager) GetOrderStatistics(botID string) coordinator.Statistics {
	return m.coord.Statistics(botID)
}

// CircuitBreaker 返回断路器（运维接口用）
func (m *Manager) CircuitBreaker() *risk.CircuitBreaker {
	return m.breaker
}
