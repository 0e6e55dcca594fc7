package domain

import (
	"time"
)

// BrokerPositionSnapshot broker 侧持仓快照（只读）
type BrokerPositionSnapshot struct {
	ID            string
	Symbol        string
	Side          Direction
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	Value         float64
	UnrealizedPnL float64
	CreatedAt     time.Time
}

// MarkPrice 用于计算敞口的价格：优先当前价，没有则退回入场价
func (p *BrokerPositionSnapshot) MarkPrice() float64 {
	if p == nil {
		return 0
	}
	if p.CurrentPrice > 0 {
		return p.CurrentPrice
	}
	return p.EntryPrice
}

// IsHedgeOf 检查该持仓是否与给定方向构成对冲
func (p *BrokerPositionSnapshot) IsHedgeOf(direction Direction) bool {
	return p != nil && p.Side != direction
}

// PortfolioContext 传给风控计算器的组合上下文
type PortfolioContext struct {
	AccountBalance float64
	Currency       string
	OpenPositions  int
	TotalExposure  float64
	DailyPnL       float64
}
