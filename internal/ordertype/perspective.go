package ordertype

import (
	"github.com/betbot/ordercore/internal/domain"
)

// Input 一次订单类型决策的全部输入
type Input struct {
	Analysis   domain.TechnicalAnalysis
	Strategy   domain.StrategyProfile
	Conditions domain.MarketConditions
	Direction  domain.Direction
	Timeframe  domain.Timeframe
}

// Vote 单个视角的投票
type Vote struct {
	Kind                 domain.OrderType
	Confidence           float64
	Reasoning            string
	EntryPrice           *float64
	RequiredConfirmation string
}

// Perspective 决策视角。返回 nil Vote 表示弃权；返回 error 同样视为弃权。
type Perspective interface {
	Name() string
	Weight() float64
	Evaluate(in Input) (*Vote, error)
}

// 默认权重
const (
	WeightCategory  = 0.30
	WeightTechnical = 0.25
	WeightMarket    = 0.25
	WeightRisk      = 0.20
)

// DefaultPerspectives 默认四个视角（顺序即评估顺序，平票时靠前者胜出）
func DefaultPerspectives() []Perspective {
	return []Perspective{
		CategoryPerspective{},
		TechnicalPerspective{},
		MarketPerspective{},
		RiskPerspective{},
	}
}

func vote(kind domain.OrderType, confidence float64, reasoning string) *Vote {
	return &Vote{Kind: kind, Confidence: confidence, Reasoning: reasoning}
}

func priceRef(p float64) *float64 {
	return &p
}
