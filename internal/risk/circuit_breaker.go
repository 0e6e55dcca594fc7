package risk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "risk")

// ErrCircuitBreakerOpen 断路器已打开，拒绝新的下单决策
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：<= 0 表示关闭对应功能。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 决策流水线连续 PROCESSING_ERROR 上限
	MaxConsecutiveErrors int64
	// Cooldown 因连续错误打开后自动半开的冷却时间；人工 Halt 不会自动恢复
	Cooldown time.Duration
}

// State 断路器状态快照
type State struct {
	Open              bool      `json:"open"`
	Manual            bool      `json:"manual"`
	ConsecutiveErrors int64     `json:"consecutive_errors"`
	OpenedAt          time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker 快路径全部是原子操作，可在每次决策时调用。
type CircuitBreaker struct {
	halted   atomic.Bool
	manual   atomic.Bool
	openedAt atomic.Int64 // unix nano

	consecutiveErrors atomic.Int64

	maxConsecutiveErrors atomic.Int64
	cooldown             atomic.Int64

	now func() time.Time
}

// NewCircuitBreaker 创建断路器
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

// WithClock 注入时钟（测试用）
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	if cb != nil && now != nil {
		cb.now = now
	}
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.cooldown.Store(int64(cfg.Cooldown))
}

// Halt 人工熔断，需要 Resume 才能恢复
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manual.Store(true)
	cb.open()
	log.Warn("🚨 断路器被人工打开")
}

// Resume 人工恢复（同时清空连续错误计数）
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.manual.Store(false)
	cb.openedAt.Store(0)
	cb.consecutiveErrors.Store(0)
	log.Info("✅ 断路器已恢复")
}

func (cb *CircuitBreaker) open() {
	if cb.halted.CompareAndSwap(false, true) {
		cb.openedAt.Store(cb.now().UnixNano())
	}
}

// AllowTrading 是否允许继续决策
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		if cb.manual.Load() || !cb.cooledDown() {
			return ErrCircuitBreakerOpen
		}
		// 冷却结束：半开，放行下一次；再失败会立刻重新打开
		cb.halted.Store(false)
		cb.openedAt.Store(0)
		cb.consecutiveErrors.Store(max(cb.maxConsecutiveErrors.Load()-1, 0))
		log.Info("断路器冷却结束，进入半开状态")
		return nil
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.open()
		log.Warnf("🚨 连续 %d 次处理错误，断路器打开", cb.consecutiveErrors.Load())
		return ErrCircuitBreakerOpen
	}
	return nil
}

func (cb *CircuitBreaker) cooledDown() bool {
	cd := time.Duration(cb.cooldown.Load())
	if cd <= 0 {
		return false
	}
	opened := cb.openedAt.Load()
	return opened > 0 && cb.now().Sub(time.Unix(0, opened)) >= cd
}

// OnSuccess 一次决策流水线正常完成（含否决）后调用
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 一次决策流水线出现 PROCESSING_ERROR 后调用
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Snapshot 当前状态
func (cb *CircuitBreaker) Snapshot() State {
	if cb == nil {
		return State{}
	}
	st := State{
		Open:              cb.halted.Load(),
		Manual:            cb.manual.Load(),
		ConsecutiveErrors: cb.consecutiveErrors.Load(),
	}
	if ns := cb.openedAt.Load(); ns > 0 {
		st.OpenedAt = time.Unix(0, ns)
	}
	return st
}
