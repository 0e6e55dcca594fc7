package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/awareness"
	"github.com/betbot/ordercore/internal/coordinator"
	"github.com/betbot/ordercore/internal/gateway/paper"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/opsapi"
	"github.com/betbot/ordercore/internal/store"
	"github.com/betbot/ordercore/pkg/config"
	"github.com/betbot/ordercore/pkg/logger"
	"github.com/betbot/ordercore/pkg/shutdown"
)

const gracefulShutdownPeriod = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	envFile := flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "加载 .env 失败: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logrus.Errorf("❌ coordinatord 退出: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

func run(cfg *config.Config) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sm := shutdown.NewManager()

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("打开意图存储失败: %w", err)
	}
	if st != nil {
		sm.OnShutdown("intent store", func(context.Context) error { return st.Close() })
	}

	coord, err := coordinator.New(cfg.Coordinator, coordinator.WithStore(st))
	if err != nil {
		sm.Shutdown(context.Background())
		return fmt.Errorf("创建协调器失败: %w", err)
	}
	coord.Start(rootCtx)
	sm.OnShutdown("coordinator", func(context.Context) error {
		coord.Stop()
		return nil
	})

	deps := opsapi.Deps{Coordinator: coord}
	if cfg.Ops.DryRun {
		deps.Paper = paper.New(cfg.Ops.PaperBalance, cfg.Ops.PaperCurrency)
		logrus.Infof("📝 dry-run: paper gateway balance=%.2f %s", cfg.Ops.PaperBalance, cfg.Ops.PaperCurrency)
		if cfg.Awareness.Enabled {
			deps.Gate = awareness.NewGate(deps.Paper, cfg.Awareness.Positions, cfg.Awareness.Orders)
		}
	} else if cfg.Awareness.Enabled {
		logrus.Warn("⚠️ awareness 需要 broker 网关；守护进程只在 dry-run 下挂载 paper 网关，已跳过")
	}

	if cfg.Ops.ListenAddr != "" {
		router := metrics.NewRouter()
		opsapi.Register(router, deps)
		srv, err := metrics.StartAsync(rootCtx, cfg.Ops.ListenAddr, router)
		if err != nil {
			sm.Shutdown(context.Background())
			return fmt.Errorf("启动 ops server 失败: %w", err)
		}
		sm.OnShutdown("ops server", func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		logrus.Infof("📊 ops server 启用: listen=%s (/metrics, /debug/vars, /coordinator/*)", cfg.Ops.ListenAddr)
	}

	logrus.Infof("✅ coordinatord 已启动: store=%s pending=%d", cfg.Store.Driver, coord.PendingCount())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := logger.Rotate(); err != nil {
				logrus.Warnf("日志轮转失败: %v", err)
			}
			continue
		}
		logrus.Infof("收到停止信号 %s，正在关闭...", sig)
		break
	}
	signal.Stop(sigChan)
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if failed := sm.Shutdown(shutdownCtx); failed > 0 {
		return fmt.Errorf("%d 个关闭回调失败", failed)
	}
	logrus.Info("✅ coordinatord 已停止")
	return nil
}
