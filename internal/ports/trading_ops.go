package ports

import (
	"context"

	"github.com/betbot/ordercore/internal/domain"
)

// Small capability interfaces shared across layers (awareness/ordermanager/coordinator).
// broker 的具体协议不在本模块内，调用方注入实现。

type PriceGetter interface {
	// GetCurrentPrice returns the latest traded/mid price for symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

type PositionLister interface {
	GetOpenPositions(ctx context.Context) ([]domain.BrokerPositionSnapshot, error)
}

type WorkingOrderLister interface {
	GetWorkingOrders(ctx context.Context) ([]domain.BrokerOrderSnapshot, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context) (domain.AccountSnapshot, error)
}

// BrokerGateway 只读 broker 能力集合（每个评估周期重新拉取，不做缓存）
type BrokerGateway interface {
	PriceGetter
	PositionLister
	WorkingOrderLister
	AccountReader
}

// StrategyValidator 策略规则合规校验（规则内容由外部提供）
type StrategyValidator interface {
	Validate(ctx context.Context, strategy domain.StrategyProfile, analysis domain.TechnicalAnalysis,
		conditions domain.MarketConditions, timeframe domain.Timeframe) (domain.ComplianceResult, error)
}

// RiskCalculator 专业风控/仓位计算器（公式由外部提供）
type RiskCalculator interface {
	CalculateRisk(ctx context.Context, analysis domain.TechnicalAnalysis, strategy domain.StrategyProfile,
		portfolio domain.PortfolioContext, orderType domain.OrderType, timeframe domain.Timeframe) (domain.RiskAdjustment, error)
}
