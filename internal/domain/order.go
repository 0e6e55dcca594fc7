package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction 交易方向
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite 返回反方向
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// Valid 检查方向是否合法
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// ParseDirection 解析方向（兼容 LONG/SHORT 写法，broker 快照里两种都会出现）
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("未知的交易方向: %q", s)
	}
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// ConflictLevel 与既有订单的冲突程度
type ConflictLevel string

const (
	ConflictNone   ConflictLevel = "NONE"
	ConflictLow    ConflictLevel = "LOW"
	ConflictMedium ConflictLevel = "MEDIUM"
	ConflictHigh   ConflictLevel = "HIGH"
)

// BrokerOrderSnapshot broker 侧挂单快照（只读，每个评估周期重新拉取）
//
// DistanceFromMarket / EstimatedFillProbability / ConflictLevel 由 awareness 计算填充，
// broker 返回时为零值。
type BrokerOrderSnapshot struct {
	ID         string
	Symbol     string
	Direction  Direction
	OrderType  OrderType
	Size       float64
	OrderPrice float64
	StopLoss   *float64
	TakeProfit *float64
	CreatedAt  time.Time
	ExpiryDate *time.Time

	DistanceFromMarket       float64
	EstimatedFillProbability float64
	ConflictLevel            ConflictLevel
}

// Age 挂单存在时长
func (o *BrokerOrderSnapshot) Age(now time.Time) time.Duration {
	if o == nil || o.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(o.CreatedAt)
}

// IsExpired 挂单自带的过期时间是否已过
func (o *BrokerOrderSnapshot) IsExpired(now time.Time) bool {
	return o != nil && o.ExpiryDate != nil && !o.ExpiryDate.After(now)
}

// AccountSnapshot 账户快照
type AccountSnapshot struct {
	Balance  float64
	Currency string
}
