package domain

import (
	"time"
)

// IntentStatus 下单意图状态
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusFilled    IntentStatus = "FILLED"
	IntentStatusCancelled IntentStatus = "CANCELLED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
)

// OrderIntent 引擎自己记录的"准备下单"意图（区别于 broker 订单簿里的订单）
//
// 只有 PENDING 可以迁移；FILLED/CANCELLED/EXPIRED 为终态，写入后不再变化。
type OrderIntent struct {
	ID              string       `json:"id"`
	BotID           string       `json:"bot_id"`
	Symbol          string       `json:"symbol"`
	Direction       Direction    `json:"direction"`
	OrderType       OrderType    `json:"order_type"`
	RequestingAgent string       `json:"requesting_agent"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	Status          IntentStatus `json:"status"`
	StatusReason    string       `json:"status_reason,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
}

// IsPending 是否仍在途
func (i *OrderIntent) IsPending() bool {
	return i != nil && i.Status == IntentStatusPending
}

// IsFinalStatus 是否已是终态
func (i *OrderIntent) IsFinalStatus() bool {
	if i == nil {
		return false
	}
	return i.Status == IntentStatusFilled || i.Status == IntentStatusCancelled || i.Status == IntentStatusExpired
}

// Transition 状态迁移：只允许 PENDING -> 终态。返回是否发生了迁移。
func (i *OrderIntent) Transition(to IntentStatus, reason string, at time.Time) bool {
	if !i.IsPending() || to == IntentStatusPending {
		return false
	}
	i.Status = to
	i.StatusReason = reason
	closed := at
	i.ClosedAt = &closed
	return true
}

// Age 意图存在时长
func (i *OrderIntent) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}
