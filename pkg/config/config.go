package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/betbot/ordercore/internal/awareness"
	"github.com/betbot/ordercore/internal/coordinator"
	"github.com/betbot/ordercore/internal/store"
	"github.com/betbot/ordercore/pkg/logger"
)

// 环境变量前缀
const envPrefix = "ORDERCORE_"

// OpsConfig 运维 HTTP 与纸交易配置
type OpsConfig struct {
	ListenAddr    string  // 为空则不启动 ops server
	DryRun        bool    // 使用 paper gateway
	PaperBalance  float64 // 纸交易账户余额
	PaperCurrency string
}

// AwarenessConfig 持仓/挂单感知门
type AwarenessConfig struct {
	Enabled   bool
	Positions awareness.PositionConfig
	Orders    awareness.OrderConfig
}

// Config 应用配置
type Config struct {
	Log         logger.Config
	Coordinator coordinator.Config
	Awareness   AwarenessConfig
	Store       store.Config
	Ops         OpsConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）。时长字段用字符串，如 "30s"、"24h"。
type ConfigFile struct {
	Log struct {
		Level      string `yaml:"level" json:"level"`
		Format     string `yaml:"format" json:"format"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
	Coordinator struct {
		SweepInterval         string `yaml:"sweep_interval" json:"sweep_interval"`
		StartupDelay          string `yaml:"startup_delay" json:"startup_delay"`
		StartupClearThreshold int    `yaml:"startup_clear_threshold" json:"startup_clear_threshold"`
		MaxIntentAge          string `yaml:"max_intent_age" json:"max_intent_age"`
		HistoryRetention      string `yaml:"history_retention" json:"history_retention"`
		AgentRateLimit        int    `yaml:"agent_rate_limit" json:"agent_rate_limit"`
		AgentRateWindow       string `yaml:"agent_rate_window" json:"agent_rate_window"`
		MaxPendingPerSymbol   int    `yaml:"max_pending_per_symbol" json:"max_pending_per_symbol"`
		MarketTTL             string `yaml:"market_ttl" json:"market_ttl"`
		LimitTTL              string `yaml:"limit_ttl" json:"limit_ttl"`
		StopTTL               string `yaml:"stop_ttl" json:"stop_ttl"`
		DefaultTTL            string `yaml:"default_ttl" json:"default_ttl"`
		StoreTimeout          string `yaml:"store_timeout" json:"store_timeout"`
	} `yaml:"coordinator" json:"coordinator"`
	Awareness struct {
		Enabled   bool `yaml:"enabled" json:"enabled"`
		Positions struct {
			MaxOpenPositions  int     `yaml:"max_open_positions" json:"max_open_positions"`
			MaxRiskPercentage float64 `yaml:"max_risk_percentage" json:"max_risk_percentage"`
			AllowHedging      bool    `yaml:"allow_hedging" json:"allow_hedging"`
			MaxDailyTrades    int     `yaml:"max_daily_trades" json:"max_daily_trades"`
		} `yaml:"positions" json:"positions"`
		Orders struct {
			MaxPendingOrders      int     `yaml:"max_pending_orders" json:"max_pending_orders"`
			MaxPendingPerSymbol   int     `yaml:"max_pending_per_symbol" json:"max_pending_per_symbol"`
			OrderTimeout          string  `yaml:"order_timeout" json:"order_timeout"`
			HedgeSizeRatio        float64 `yaml:"hedge_size_ratio" json:"hedge_size_ratio"`
			FarFromMarketPct      float64 `yaml:"far_from_market_pct" json:"far_from_market_pct"`
			MaxPendingExposurePct float64 `yaml:"max_pending_exposure_pct" json:"max_pending_exposure_pct"`
		} `yaml:"orders" json:"orders"`
	} `yaml:"awareness" json:"awareness"`
	Store struct {
		Driver string `yaml:"driver" json:"driver"`
		Path   string `yaml:"path" json:"path"`
	} `yaml:"store" json:"store"`
	Ops struct {
		ListenAddr    string  `yaml:"listen_addr" json:"listen_addr"`
		DryRun        bool    `yaml:"dry_run" json:"dry_run"`
		PaperBalance  float64 `yaml:"paper_balance" json:"paper_balance"`
		PaperCurrency string  `yaml:"paper_currency" json:"paper_currency"`
	} `yaml:"ops" json:"ops"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Log:         logger.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Awareness: AwarenessConfig{
			Positions: awareness.DefaultPositionConfig(),
			Orders:    awareness.DefaultOrderConfig(),
		},
		Store: store.Config{Driver: store.DriverMemory},
		Ops: OpsConfig{
			ListenAddr:    ":9090",
			PaperBalance:  10000,
			PaperCurrency: "USD",
		},
	}
}

// Load 加载配置。优先级：环境变量 > 配置文件 > 默认值。filePath 为空时只用默认值和环境变量。
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.merge(cf); err != nil {
			return nil, fmt.Errorf("配置文件 %s: %w", filePath, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv 加载 .env（best-effort）：文件不存在不报错，已存在的环境变量不会被覆盖。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", p, err)
		}
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &cf, nil
}

// merge 把文件里的非零值覆盖到 c
func (c *Config) merge(cf *ConfigFile) error {
	setString(&c.Log.Level, cf.Log.Level)
	setString(&c.Log.Format, cf.Log.Format)
	setString(&c.Log.OutputFile, cf.Log.File)
	setInt(&c.Log.MaxSize, cf.Log.MaxSize)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAge, cf.Log.MaxAge)
	if cf.Log.Compress != nil {
		c.Log.Compress = *cf.Log.Compress
	}

	cc := &c.Coordinator
	fc := cf.Coordinator
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"coordinator.sweep_interval", fc.SweepInterval, &cc.SweepInterval},
		{"coordinator.startup_delay", fc.StartupDelay, &cc.StartupDelay},
		{"coordinator.max_intent_age", fc.MaxIntentAge, &cc.MaxIntentAge},
		{"coordinator.history_retention", fc.HistoryRetention, &cc.HistoryRetention},
		{"coordinator.agent_rate_window", fc.AgentRateWindow, &cc.AgentRateWindow},
		{"coordinator.market_ttl", fc.MarketTTL, &cc.MarketTTL},
		{"coordinator.limit_ttl", fc.LimitTTL, &cc.LimitTTL},
		{"coordinator.stop_ttl", fc.StopTTL, &cc.StopTTL},
		{"coordinator.default_ttl", fc.DefaultTTL, &cc.DefaultTTL},
		{"coordinator.store_timeout", fc.StoreTimeout, &cc.StoreTimeout},
		{"awareness.orders.order_timeout", cf.Awareness.Orders.OrderTimeout, &c.Awareness.Orders.OrderTimeout},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	setInt(&cc.StartupClearThreshold, fc.StartupClearThreshold)
	setInt(&cc.AgentRateLimit, fc.AgentRateLimit)
	setInt(&cc.MaxPendingPerSymbol, fc.MaxPendingPerSymbol)

	fa := cf.Awareness
	c.Awareness.Enabled = fa.Enabled
	setInt(&c.Awareness.Positions.MaxOpenPositions, fa.Positions.MaxOpenPositions)
	setFloat(&c.Awareness.Positions.MaxRiskPercentage, fa.Positions.MaxRiskPercentage)
	c.Awareness.Positions.AllowHedging = fa.Positions.AllowHedging
	setInt(&c.Awareness.Positions.MaxDailyTrades, fa.Positions.MaxDailyTrades)
	setInt(&c.Awareness.Orders.MaxPendingOrders, fa.Orders.MaxPendingOrders)
	setInt(&c.Awareness.Orders.MaxPendingPerSymbol, fa.Orders.MaxPendingPerSymbol)
	setFloat(&c.Awareness.Orders.HedgeSizeRatio, fa.Orders.HedgeSizeRatio)
	setFloat(&c.Awareness.Orders.FarFromMarketPct, fa.Orders.FarFromMarketPct)
	setFloat(&c.Awareness.Orders.MaxPendingExposurePct, fa.Orders.MaxPendingExposurePct)

	setString(&c.Store.Driver, cf.Store.Driver)
	setString(&c.Store.Path, cf.Store.Path)

	setString(&c.Ops.ListenAddr, cf.Ops.ListenAddr)
	c.Ops.DryRun = cf.Ops.DryRun
	setFloat(&c.Ops.PaperBalance, cf.Ops.PaperBalance)
	setString(&c.Ops.PaperCurrency, cf.Ops.PaperCurrency)
	return nil
}

// applyEnv 环境变量覆盖（ORDERCORE_*）
func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.OutputFile = getEnv("LOG_FILE", c.Log.OutputFile)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)

	c.Ops.ListenAddr = getEnv("LISTEN_ADDR", c.Ops.ListenAddr)
	c.Ops.DryRun = parseBoolEnv("DRY_RUN", c.Ops.DryRun)
	c.Ops.PaperBalance = parseFloatEnv("PAPER_BALANCE", c.Ops.PaperBalance)

	c.Coordinator.AgentRateLimit = parseIntEnv("AGENT_RATE_LIMIT", c.Coordinator.AgentRateLimit)
	c.Coordinator.MaxPendingPerSymbol = parseIntEnv("MAX_PENDING_PER_SYMBOL", c.Coordinator.MaxPendingPerSymbol)
	if v := getEnv("SWEEP_INTERVAL", ""); v != "" {
		if err := setDuration(&c.Coordinator.SweepInterval, v); err != nil {
			return fmt.Errorf("%sSWEEP_INTERVAL: %w", envPrefix, err)
		}
	}

	c.Awareness.Enabled = parseBoolEnv("AWARENESS_ENABLED", c.Awareness.Enabled)
	return nil
}

// ApplyDefaults 把 <=0 的字段回落到默认值
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Ops.PaperBalance <= 0 {
		c.Ops.PaperBalance = d.Ops.PaperBalance
	}
	if c.Ops.PaperCurrency == "" {
		c.Ops.PaperCurrency = d.Ops.PaperCurrency
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case store.DriverMemory:
	case store.DriverBadger, store.DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path 未配置（driver=%s）", c.Store.Driver)
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s (支持 memory, badger, sqlite)", c.Store.Driver)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator 配置无效: %w", err)
	}
	if c.Awareness.Orders.HedgeSizeRatio < 0 || c.Awareness.Orders.HedgeSizeRatio > 1 {
		return fmt.Errorf("awareness.orders.hedge_size_ratio 必须在 [0,1] 之间: %v", c.Awareness.Orders.HedgeSizeRatio)
	}
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("无效的时长 %q: %w", raw, err)
	}
	*dst = d
	return nil
}

// getEnv 获取环境变量（自动加前缀），如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
