// Package store 提供 ports.IntentStore 的持久化实现（Badger / SQLite）。
package store

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/ports"
)

var log = logrus.WithField("module", "store")

// 支持的驱动
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Config 存储配置
type Config struct {
	Driver string `yaml:"driver" json:"driver"` // memory | badger | sqlite
	Path   string `yaml:"path" json:"path"`     // badger 目录 / sqlite 文件
}

// Open 按驱动打开存储。memory 驱动返回 nil（协调器只在内存里维护意图）。
func Open(cfg Config) (ports.IntentStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		log.Info("意图存储: memory（不持久化）")
		return nil, nil
	case DriverBadger:
		s, err := OpenBadger(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %q", cfg.Driver)
	}
}
