package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/metrics"
	"github.com/betbot/ordercore/internal/ports"
	"github.com/betbot/ordercore/pkg/ratelimit"
)

var log = logrus.WithField("module", "coordinator")

var (
	// ErrDuplicateIntent 同一 (bot, symbol, direction) 已有 PENDING 意图
	ErrDuplicateIntent = fmt.Errorf("duplicate pending intent")
	// ErrCoordinationUnavailable 协调器内部记账失败（fail closed）
	ErrCoordinationUnavailable = fmt.Errorf("coordination unavailable")
)

const unknownAgent = "unknown"

// Decision 注册意图所需的最小决策信息
type Decision struct {
	Direction  domain.Direction
	OrderType  domain.OrderType
	Expiration *time.Time // 非空时覆盖按订单类型的默认 TTL
}

// ConflictResult 冲突检查结果
type ConflictResult struct {
	CanProceed         bool
	Reason             string
	ConflictingIntents []domain.OrderIntent
	HedgeWarning       bool // 存在反方向 PENDING（仅提示，不阻断）
}

// symbolBook 单个 symbol 的意图列表，自带锁：检查与插入在同一把锁内完成
type symbolBook struct {
	mu      sync.Mutex
	intents []*domain.OrderIntent
}

// Coordinator 下单意图登记处：引擎自己认为"在途"的订单的唯一来源。
//
// 显式构造、可注入；不持有任何全局状态，测试里可以同时存在多个实例。
type Coordinator struct {
	cfg   Config
	now   func() time.Time
	store ports.IntentStore

	mu    sync.RWMutex
	books map[string]*symbolBook

	agents *ratelimit.KeyedWindows

	pending                 atomic.Int64
	orderConflicts          atomic.Int64
	successfulCoordinations atomic.Int64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option 构造选项
type Option func(*Coordinator)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithStore 注入持久化存储；构造时会从存储恢复意图
func WithStore(store ports.IntentStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// New 创建协调器。若配置了存储，会先加载已持久化的意图。
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	cfg.applyDefaults()
	c := &Coordinator{
		cfg:    cfg,
		now:    time.Now,
		books:  make(map[string]*symbolBook),
		agents: ratelimit.NewKeyedWindows(cfg.AgentRateLimit, cfg.AgentRateWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store != nil {
		if err := c.recover(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// recover 从存储恢复意图（包括终态记录，由 sweep 负责后续清理）
func (c *Coordinator) recover() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	intents, err := c.store.LoadIntents(ctx)
	if err != nil {
		return fmt.Errorf("恢复下单意图失败: %w", err)
	}
	for i := range intents {
		in := intents[i]
		b := c.book(in.Symbol, true)
		b.intents = append(b.intents, &in)
		if in.IsPending() {
			c.pending.Add(1)
		}
	}
	metrics.IntentsRecovered.Add(int64(len(intents)))
	metrics.PendingIntents.Set(float64(c.pending.Load()))
	log.Infof("♻️ 从存储恢复 %d 条意图（PENDING=%d）", len(intents), c.pending.Load())
	return nil
}

// Config 返回生效配置
func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) book(symbol string, create bool) *symbolBook {
	c.mu.RLock()
	b := c.books[symbol]
	c.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b = c.books[symbol]; b == nil {
		b = &symbolBook{}
		c.books[symbol] = b
	}
	return b
}

// snapshotBooks 返回当前所有 symbol book（按 symbol 排序，保证遍历顺序稳定）
func (c *Coordinator) snapshotBooks() []*symbolBook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.books))
	for s := range c.books {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]*symbolBook, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, c.books[s])
	}
	return out
}

func normalizeAgent(agent string) string {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return unknownAgent
	}
	return agent
}

// checkMode 冲突判定的用途
type checkMode int

const (
	modeCheck  checkMode = iota // CheckConflict：计入统计
	modePeek                    // Peek：不计入统计
	modeCommit                  // TryRegister：计入拒绝统计，并原子占用 agent 额度
)

// CheckConflict 冲突检查（不注册，但计入统计）。
// 注意：单独调用 CheckConflict 再 Register 存在竞态，下单路径应使用 TryRegister。
func (c *Coordinator) CheckConflict(botID, symbol string, direction domain.Direction, agent string) ConflictResult {
	return c.inspect(botID, symbol, direction, agent, modeCheck)
}

// Peek 与 CheckConflict 判定相同，但不改动任何计数器，用于登记前的预检
func (c *Coordinator) Peek(botID, symbol string, direction domain.Direction, agent string) ConflictResult {
	return c.inspect(botID, symbol, direction, agent, modePeek)
}

func (c *Coordinator) inspect(botID, symbol string, direction domain.Direction, agent string, mode checkMode) (res ConflictResult) {
	if c == nil {
		return ConflictResult{CanProceed: false, Reason: ErrCoordinationUnavailable.Error()}
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Add(1)
			metrics.CoordinationChecks.WithLabelValues("unavailable").Inc()
			log.Errorf("❌ 冲突检查 panic: %v", r)
			res = ConflictResult{CanProceed: false, Reason: fmt.Sprintf("%s: %v", ErrCoordinationUnavailable, r)}
		}
	}()

	// 只读路径不建 book：未知 symbol 按空 book 判定
	b := c.book(symbol, false)
	if b == nil {
		b = &symbolBook{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.checkLocked(b, botID, symbol, direction, normalizeAgent(agent), c.now(), mode)
}

// conflict 记一次拒绝
func (c *Coordinator) conflict(mode checkMode, label string) {
	if mode == modePeek {
		return
	}
	c.orderConflicts.Add(1)
	metrics.CoordinationChecks.WithLabelValues(label).Inc()
}

// approve 记一次成功协调
func (c *Coordinator) approve() {
	c.successfulCoordinations.Add(1)
	metrics.CoordinationChecks.WithLabelValues("approved").Inc()
}

func (c *Coordinator) rateLimited(res ConflictResult, agent string, now time.Time, mode checkMode) ConflictResult {
	c.conflict(mode, "rate_limited")
	count := c.agents.Count(agent, now)
	log.WithField("agent", agent).Warnf("⛔ agent 注册过于频繁: %d 次/%s", count, c.cfg.AgentRateWindow)
	res.CanProceed = false
	res.Reason = fmt.Sprintf("rate limit exceeded: agent %s registered %d intents in the last %s",
		agent, count, c.cfg.AgentRateWindow)
	return res
}

// checkLocked 冲突判定，调用方必须持有 b.mu。
// modeCommit 通过时已占用一次 agent 额度，登记失败须 Release。
func (c *Coordinator) checkLocked(b *symbolBook, botID, symbol string, direction domain.Direction, agent string, now time.Time, mode checkMode) ConflictResult {
	var same, opposite []domain.OrderIntent
	symbolPending := 0
	for _, in := range b.intents {
		if !in.IsPending() {
			continue
		}
		symbolPending++
		if in.BotID != botID {
			continue
		}
		if in.Direction == direction {
			same = append(same, *in)
		} else {
			opposite = append(opposite, *in)
		}
	}

	// 1. 同方向重复
	if len(same) > 0 {
		c.conflict(mode, "duplicate")
		log.WithFields(logrus.Fields{"bot": botID, "symbol": symbol, "direction": direction, "agent": agent}).
			Warnf("⛔ 同方向已有 %d 个待处理意图，拒绝", len(same))
		return ConflictResult{
			CanProceed:         false,
			Reason:             fmt.Sprintf("%d pending %s order(s) already exist for %s", len(same), direction, symbol),
			ConflictingIntents: same,
		}
	}

	res := ConflictResult{CanProceed: true}

	// 2. 反方向：对冲提示，不阻断
	if len(opposite) > 0 {
		res.HedgeWarning = true
		res.ConflictingIntents = opposite
		if mode != modePeek {
			log.WithFields(logrus.Fields{"bot": botID, "symbol": symbol, "direction": direction}).
				Warnf("⚠️ 存在 %d 个反方向待处理意图（对冲）", len(opposite))
		}
	}

	// 3. agent 注册频率（跨 symbol 计数）
	if c.agents.Exceeded(agent, now) {
		return c.rateLimited(res, agent, now, mode)
	}

	// 4. symbol 拥挤
	if symbolPending >= c.cfg.MaxPendingPerSymbol {
		c.conflict(mode, "symbol_crowded")
		log.WithField("symbol", symbol).Warnf("⛔ symbol 待处理意图过多: %d", symbolPending)
		res.CanProceed = false
		res.Reason = fmt.Sprintf("too many pending orders for %s (%d >= %d)", symbol, symbolPending, c.cfg.MaxPendingPerSymbol)
		return res
	}

	// 5. 通过。登记路径在 agent 窗口锁内检查并占用额度，其它 symbol 的并发登记不会越过上限
	if mode == modeCommit && !c.agents.TryReserve(agent, now) {
		return c.rateLimited(res, agent, now, mode)
	}
	if mode == modeCheck {
		c.approve()
	}
	if res.HedgeWarning {
		res.Reason = fmt.Sprintf("approved with hedge warning: %d opposite pending order(s) on %s", len(opposite), symbol)
	}
	return res
}

// TryRegister 原子的"检查 + 注册"：在 symbol 锁内完成冲突检查与插入，
// 消除两次调用之间的 TOCTOU 窗口。
func (c *Coordinator) TryRegister(botID, symbol string, decision Decision, agent string) (res ConflictResult, intent *domain.OrderIntent) {
	if c == nil {
		return ConflictResult{CanProceed: false, Reason: ErrCoordinationUnavailable.Error()}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Add(1)
			metrics.CoordinationChecks.WithLabelValues("unavailable").Inc()
			log.Errorf("❌ TryRegister panic: %v", r)
			res = ConflictResult{CanProceed: false, Reason: fmt.Sprintf("%s: %v", ErrCoordinationUnavailable, r)}
			intent = nil
		}
	}()

	agent = normalizeAgent(agent)
	now := c.now()
	b := c.book(symbol, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	res = c.checkLocked(b, botID, symbol, decision.Direction, agent, now, modeCommit)
	if !res.CanProceed {
		return res, nil
	}
	in, err := c.insertLocked(b, botID, symbol, decision, agent, now)
	if err != nil {
		c.agents.Release(agent, now)
		metrics.CoordinationChecks.WithLabelValues("unavailable").Inc()
		return ConflictResult{CanProceed: false, Reason: err.Error()}, nil
	}
	c.approve()
	return res, &in
}

// Register 直接注册意图（不做频率/拥挤检查，但仍保证同方向唯一）
func (c *Coordinator) Register(botID, symbol string, decision Decision, agent string) (domain.OrderIntent, error) {
	if c == nil {
		return domain.OrderIntent{}, ErrCoordinationUnavailable
	}
	agent = normalizeAgent(agent)
	now := c.now()
	b := c.book(symbol, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, in := range b.intents {
		if in.IsPending() && in.BotID == botID && in.Direction == decision.Direction {
			return domain.OrderIntent{}, fmt.Errorf("%w: bot=%s symbol=%s direction=%s", ErrDuplicateIntent, botID, symbol, decision.Direction)
		}
	}
	in, err := c.insertLocked(b, botID, symbol, decision, agent, now)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	c.agents.Record(agent, now)
	return in, nil
}

// insertLocked 插入 PENDING 意图并写穿存储；调用方必须持有 b.mu，agent 额度由调用方记账
func (c *Coordinator) insertLocked(b *symbolBook, botID, symbol string, decision Decision, agent string, now time.Time) (domain.OrderIntent, error) {
	if !decision.Direction.Valid() {
		return domain.OrderIntent{}, fmt.Errorf("非法方向: %q", decision.Direction)
	}
	expiresAt := now.Add(c.cfg.TTLFor(decision.OrderType))
	if decision.Expiration != nil && !decision.Expiration.IsZero() {
		expiresAt = *decision.Expiration
	}
	in := &domain.OrderIntent{
		ID:              uuid.NewString(),
		BotID:           botID,
		Symbol:          symbol,
		Direction:       decision.Direction,
		OrderType:       decision.OrderType,
		RequestingAgent: agent,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
		Status:          domain.IntentStatusPending,
	}

	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
		err := c.store.SaveIntent(ctx, *in)
		cancel()
		if err != nil {
			metrics.StoreErrors.Add(1)
			log.Errorf("❌ 持久化意图失败，拒绝注册（fail closed）: %v", err)
			return domain.OrderIntent{}, fmt.Errorf("%w: %v", ErrCoordinationUnavailable, err)
		}
	}

	b.intents = append(b.intents, in)
	c.pending.Add(1)
	metrics.PendingIntents.Set(float64(c.pending.Load()))

	log.WithFields(logrus.Fields{
		"id": in.ID, "bot": botID, "symbol": symbol, "direction": in.Direction,
		"type": in.OrderType, "agent": agent, "expires_at": expiresAt.Format(time.RFC3339),
	}).Info("📝 注册下单意图")
	return *in, nil
}

// transitionLocked 执行状态迁移并写穿存储；调用方必须持有 b.mu
func (c *Coordinator) transitionLocked(in *domain.OrderIntent, to domain.IntentStatus, reason string, now time.Time) bool {
	if !in.Transition(to, reason, now) {
		return false
	}
	c.pending.Add(-1)
	metrics.PendingIntents.Set(float64(c.pending.Load()))
	metrics.IntentTransitions.WithLabelValues(string(to)).Inc()
	c.persist(*in)
	return true
}

// persist 写穿存储（非注册路径：失败只记日志）
func (c *Coordinator) persist(in domain.OrderIntent) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.store.SaveIntent(ctx, in); err != nil {
		metrics.StoreErrors.Add(1)
		log.Errorf("❌ 更新意图状态失败: id=%s status=%s err=%v", in.ID, in.Status, err)
	}
}

// Cancel 取消 (bot, symbol) 下所有 PENDING 意图，返回取消数量
func (c *Coordinator) Cancel(botID, symbol, reason string) int {
	if c == nil {
		return 0
	}
	b := c.book(symbol, false)
	if b == nil {
		return 0
	}
	now := c.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, in := range b.intents {
		if in.IsPending() && in.BotID == botID {
			if c.transitionLocked(in, domain.IntentStatusCancelled, reason, now) {
				n++
			}
		}
	}
	if n > 0 {
		log.WithFields(logrus.Fields{"bot": botID, "symbol": symbol}).Infof("🛑 取消 %d 个意图: %s", n, reason)
	}
	return n
}

// MarkFilled 将匹配的 PENDING 意图标记为已成交，返回数量
func (c *Coordinator) MarkFilled(botID, symbol string, direction domain.Direction) int {
	if c == nil {
		return 0
	}
	b := c.book(symbol, false)
	if b == nil {
		return 0
	}
	now := c.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, in := range b.intents {
		if in.IsPending() && in.BotID == botID && in.Direction == direction {
			if c.transitionLocked(in, domain.IntentStatusFilled, "filled", now) {
				n++
			}
		}
	}
	if n > 0 {
		log.WithFields(logrus.Fields{"bot": botID, "symbol": symbol, "direction": direction}).Infof("✅ %d 个意图已成交", n)
	}
	return n
}

// EmergencyClearAll 取消所有 PENDING 意图（启动恢复 / 运维重置）
func (c *Coordinator) EmergencyClearAll(reason string) int {
	if c == nil {
		return 0
	}
	now := c.now()
	n := 0
	for _, b := range c.snapshotBooks() {
		b.mu.Lock()
		for _, in := range b.intents {
			if in.IsPending() && c.transitionLocked(in, domain.IntentStatusCancelled, reason, now) {
				n++
			}
		}
		b.mu.Unlock()
	}
	metrics.EmergencyClears.Add(1)
	log.Warnf("🚨 紧急清空 %d 个待处理意图: %s", n, reason)
	return n
}

// Intents 返回意图快照（botID/symbol 为空表示不过滤）
func (c *Coordinator) Intents(botID, symbol string) []domain.OrderIntent {
	if c == nil {
		return nil
	}
	var books []*symbolBook
	if symbol != "" {
		if b := c.book(symbol, false); b != nil {
			books = append(books, b)
		}
	} else {
		books = c.snapshotBooks()
	}
	var out []domain.OrderIntent
	for _, b := range books {
		b.mu.Lock()
		for _, in := range b.intents {
			if botID == "" || in.BotID == botID {
				out = append(out, *in)
			}
		}
		b.mu.Unlock()
	}
	return out
}

// PendingCount 当前 PENDING 总数
func (c *Coordinator) PendingCount() int {
	if c == nil {
		return 0
	}
	return int(c.pending.Load())
}
