package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/ordercore/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：按注册的逆序依次执行（后启动的先关闭）
type Manager struct {
	mu       sync.Mutex
	handlers []namedHandler
	done     bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown 执行所有关闭回调；只执行一次。返回失败的回调数量。
// ctx 应带超时；超时后剩余回调仍会执行，但各自应尊重 ctx。
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return 0
	}
	m.done = true
	handlers := m.handlers
	m.mu.Unlock()

	if len(handlers) == 0 {
		logger.Info("没有注册的关闭回调")
		return 0
	}

	logger.Infof("开始优雅关闭，共 %d 个回调", len(handlers))
	failed := 0
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := h.fn(ctx); err != nil {
			failed++
			logger.Warnf("⚠️ 关闭 %s 失败: %v", h.name, err)
			continue
		}
		logger.Infof("✅ 已关闭 %s", h.name)
	}
	if ctx.Err() != nil {
		logger.Warnf("关闭超时: %v", ctx.Err())
	}
	return failed
}
