package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrendDirection 趋势方向
type TrendDirection string

const (
	TrendBullish TrendDirection = "BULLISH"
	TrendBearish TrendDirection = "BEARISH"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// Aligned 趋势是否与交易方向一致
func (t TrendDirection) Aligned(d Direction) bool {
	return (t == TrendBullish && d == DirectionBuy) || (t == TrendBearish && d == DirectionSell)
}

// Level 三档定性等级（波动率/流动性）
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Trend 趋势判断，Strength 取值 0~10
type Trend struct {
	Direction TrendDirection
	Strength  float64
}

// TechnicalAnalysis 技术面输入（由上游评估流水线计算）
type TechnicalAnalysis struct {
	CurrentPrice     float64
	Trend            Trend
	SupportLevels    []float64
	ResistanceLevels []float64
	ATR              float64 // <=0 表示不可用
}

// Strategy 分类
const (
	CategoryScalping   = "scalping"
	CategoryDayTrade   = "day_trade"
	CategorySwingTrade = "swing_trade"
)

// StrategyProfile 策略元数据
type StrategyProfile struct {
	Name                 string
	Category             string
	RiskPerTradePercent  float64 // 单笔风险（%），0 表示未配置
	RequiresConfirmation bool
	ConfirmationSignal   string // 例如 candle_close
}

// MarketConditions 市场状态
type MarketConditions struct {
	Spread     float64
	Volatility Level
	Liquidity  Level
}

// Timeframe K 线周期，例如 1m / 5m / 1h / 4h / 1d
type Timeframe string

// Duration 解析周期时长；无法解析返回 0
func (tf Timeframe) Duration() time.Duration {
	d, err := ParseTimeframe(string(tf))
	if err != nil {
		return 0
	}
	return d
}

// ParseTimeframe 解析周期字符串（支持 m/h/d/w 后缀，纯数字视为分钟）
func ParseTimeframe(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("周期为空")
	}
	unit := time.Minute
	num := s
	switch s[len(s)-1] {
	case 'm':
		num = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		num = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		num = s[:len(s)-1]
	case 'w':
		unit = 7 * 24 * time.Hour
		num = s[:len(s)-1]
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("无法解析周期: %q", s)
	}
	return time.Duration(n) * unit, nil
}
