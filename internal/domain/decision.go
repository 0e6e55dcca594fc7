package domain

import (
	"time"
)

// Urgency 执行紧急程度
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// MaxRiskScore 最高风险分（否决/兜底时使用）
const MaxRiskScore = 10.0

// OrderTypeDecision 订单类型决策（值对象）
type OrderTypeDecision struct {
	OrderType             OrderType
	EntryPrice            *float64
	Reasoning             string
	Expiration            *time.Time
	RequiredConfirmations []string
	Confidence            float64
}

// ComplianceResult 策略合规校验结果
type ComplianceResult struct {
	IsCompliant     bool
	Violations      []string
	Recommendations []string
}

// RiskAdjustment 外部风控计算器的输出
type RiskAdjustment struct {
	AdjustedStopLoss    float64
	AdjustedTakeProfit  float64
	OptimalPositionSize float64
	RiskScore           float64
	RiskRewardRatio     float64
	MaxDrawdown         float64
	Reasoning           string
}

// RiskAssessment 最终决策里的风险评估
type RiskAssessment struct {
	RiskScore       float64
	RiskRewardRatio float64
	MaxDrawdown     float64
}

// ProfessionalOrderDecision Order Manager 的最终输出（值对象）
type ProfessionalOrderDecision struct {
	OrderType          OrderType
	EntryPrice         *float64
	StopLoss           float64
	TakeProfit         float64
	PositionSize       float64
	Reasoning          string
	StrategyCompliance ComplianceResult
	RiskAssessment     RiskAssessment
	Urgency            Urgency
	Expiration         *time.Time
	Conditions         []string
}

// IsExecutable 是否有可执行的仓位
func (d *ProfessionalOrderDecision) IsExecutable() bool {
	return d != nil && d.PositionSize > 0
}
