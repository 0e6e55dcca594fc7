package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
)

// SweepReport 一次清扫的结果
type SweepReport struct {
	Expired      int // TTL 到期
	ForceExpired int // 超过 MaxIntentAge 的兜底过期
	Pruned       int // 删除的过期终态记录
}

// Sweep 清扫：TTL 到期的意图置为 EXPIRED；PENDING 超过 MaxIntentAge 的强制过期；
// 终态记录超过保留期的删除。没有新注册、时间不前进时重复调用结果不变。
func (c *Coordinator) Sweep() SweepReport {
	var rep SweepReport
	if c == nil {
		return rep
	}
	now := c.now()
	for _, b := range c.snapshotBooks() {
		r := c.sweepBook(b, now)
		rep.Expired += r.Expired
		rep.ForceExpired += r.ForceExpired
		rep.Pruned += r.Pruned
	}
	c.agents.Prune(now)
	metrics.SweepRuns.Add(1)

	if rep.Expired+rep.ForceExpired+rep.Pruned > 0 {
		log.Infof("🧹 清扫完成: expired=%d force_expired=%d pruned=%d pending=%d",
			rep.Expired, rep.ForceExpired, rep.Pruned, c.PendingCount())
	} else {
		log.Debugf("🧹 清扫完成: 无变化 pending=%d", c.PendingCount())
	}
	return rep
}

func (c *Coordinator) sweepBook(b *symbolBook, now time.Time) SweepReport {
	var rep SweepReport
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.intents[:0]
	var pruned []string
	for _, in := range b.intents {
		switch {
		case in.IsPending() && !now.Before(in.ExpiresAt):
			if c.transitionLocked(in, domain.IntentStatusExpired, "ttl expired", now) {
				rep.Expired++
			}
		case in.IsPending() && in.Age(now) > c.cfg.MaxIntentAge:
			reason := fmt.Sprintf("safety sweep: pending for %s", in.Age(now).Truncate(time.Second))
			if c.transitionLocked(in, domain.IntentStatusExpired, reason, now) {
				rep.ForceExpired++
			}
		case in.IsFinalStatus() && in.ClosedAt != nil && now.Sub(*in.ClosedAt) > c.cfg.HistoryRetention:
			pruned = append(pruned, in.ID)
			continue
		}
		kept = append(kept, in)
	}
	for i := len(kept); i < len(b.intents); i++ {
		b.intents[i] = nil
	}
	b.intents = kept
	rep.Pruned = len(pruned)

	if c.store != nil {
		for _, id := range pruned {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
			if err := c.store.DeleteIntent(ctx, id); err != nil {
				metrics.StoreErrors.Add(1)
				log.Errorf("❌ 删除过期终态记录失败: id=%s err=%v", id, err)
			}
			cancel()
		}
	}
	return rep
}

// startupCleanup 启动清理：积压过多先紧急清空，再做一次常规清扫
func (c *Coordinator) startupCleanup() {
	pending := c.PendingCount()
	if pending > c.cfg.StartupClearThreshold {
		c.EmergencyClearAll(fmt.Sprintf("startup recovery: %d stale pending intents", pending))
	}
	c.Sweep()
}

// safeRun 后台任务里执行，panic 只记日志
func (c *Coordinator) safeRun(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Add(1)
			log.Errorf("❌ %s panic: %v", name, r)
		}
	}()
	fn()
}

// Start 启动后台清扫：StartupDelay 后执行启动清理，之后每 SweepInterval 清扫一次。
// 重复调用无副作用。
func (c *Coordinator) Start(ctx context.Context) {
	if c == nil {
		return
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	log.Infof("🚀 协调器已启动: startup_delay=%s sweep_interval=%s", c.cfg.StartupDelay, c.cfg.SweepInterval)
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(c.cfg.StartupDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	c.safeRun("startup cleanup", c.startupCleanup)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeRun("sweep", func() { c.Sweep() })
		}
	}
}

// Stop 停止后台清扫并等待退出
func (c *Coordinator) Stop() {
	if c == nil {
		return
	}
	c.lifecycleMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.lifecycleMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("协调器后台清扫已停止")
}
