package coordinator

import (
	"fmt"
	"time"

	"github.com/betbot/ordercore/internal/domain"
)

// Config 协调器配置
// 约定：<=0 的字段在 applyDefaults 时回落到默认值。
type Config struct {
	SweepInterval         time.Duration // 周期清扫间隔，默认 30s
	StartupDelay          time.Duration // 启动后首次清扫延迟，默认 5s
	StartupClearThreshold int           // 启动时 PENDING 超过该值则先紧急清空，默认 10
	MaxIntentAge          time.Duration // 兜底：PENDING 超过该时长强制过期，默认 1h
	HistoryRetention      time.Duration // 终态记录保留时长，默认 1h

	AgentRateLimit      int           // 单个 agent 在窗口内最多注册的意图数，默认 10
	AgentRateWindow     time.Duration // 默认 60s
	MaxPendingPerSymbol int           // 单个 symbol 最多 PENDING 数（不分方向、不分 bot），默认 5

	MarketTTL  time.Duration // 默认 5m
	LimitTTL   time.Duration // 默认 24h
	StopTTL    time.Duration // 默认 12h
	DefaultTTL time.Duration // 其它类型，默认 1h

	StoreTimeout time.Duration // 单次持久化调用超时，默认 2s
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		SweepInterval:         30 * time.Second,
		StartupDelay:          5 * time.Second,
		StartupClearThreshold: 10,
		MaxIntentAge:          time.Hour,
		HistoryRetention:      time.Hour,
		AgentRateLimit:        10,
		AgentRateWindow:       60 * time.Second,
		MaxPendingPerSymbol:   5,
		MarketTTL:             5 * time.Minute,
		LimitTTL:              24 * time.Hour,
		StopTTL:               12 * time.Hour,
		DefaultTTL:            time.Hour,
		StoreTimeout:          2 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = d.StartupDelay
	}
	if c.StartupClearThreshold <= 0 {
		c.StartupClearThreshold = d.StartupClearThreshold
	}
	if c.MaxIntentAge <= 0 {
		c.MaxIntentAge = d.MaxIntentAge
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = d.HistoryRetention
	}
	if c.AgentRateLimit <= 0 {
		c.AgentRateLimit = d.AgentRateLimit
	}
	if c.AgentRateWindow <= 0 {
		c.AgentRateWindow = d.AgentRateWindow
	}
	if c.MaxPendingPerSymbol <= 0 {
		c.MaxPendingPerSymbol = d.MaxPendingPerSymbol
	}
	if c.MarketTTL <= 0 {
		c.MarketTTL = d.MarketTTL
	}
	if c.LimitTTL <= 0 {
		c.LimitTTL = d.LimitTTL
	}
	if c.StopTTL <= 0 {
		c.StopTTL = d.StopTTL
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.SweepInterval > 0 && c.SweepInterval < 100*time.Millisecond {
		return fmt.Errorf("sweep interval 过小: %s", c.SweepInterval)
	}
	if c.MaxIntentAge > 0 && c.MaxIntentAge < c.SweepInterval {
		return fmt.Errorf("max intent age (%s) 不能小于 sweep interval (%s)", c.MaxIntentAge, c.SweepInterval)
	}
	return nil
}

// TTLFor 按订单类型返回默认 TTL
func (c Config) TTLFor(orderType domain.OrderType) time.Duration {
	switch orderType {
	case domain.OrderTypeMarket:
		return c.MarketTTL
	case domain.OrderTypeLimit:
		return c.LimitTTL
	case domain.OrderTypeStop:
		return c.StopTTL
	default:
		return c.DefaultTTL
	}
}
