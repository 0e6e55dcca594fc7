package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// memStore 测试用内存存储，可注入写失败
type memStore struct {
	mu       sync.Mutex
	intents  map[string]domain.OrderIntent
	failSave bool
	delay    time.Duration // 模拟磁盘写入耗时
	deleted  []string
}

func newMemStore() *memStore {
	return &memStore{intents: make(map[string]domain.OrderIntent)}
}

func (s *memStore) SaveIntent(_ context.Context, in domain.OrderIntent) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return fmt.Errorf("disk full")
	}
	s.intents[in.ID] = in
	return nil
}

func (s *memStore) DeleteIntent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *memStore) LoadIntents(_ context.Context) ([]domain.OrderIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OrderIntent, 0, len(s.intents))
	for _, in := range s.intents {
		out = append(out, in)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(id string) (domain.OrderIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	return in, ok
}

func newTestCoordinator(t *testing.T, clock *fakeClock, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	c, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	return c
}

func buy(ot domain.OrderType) Decision {
	return Decision{Direction: domain.DirectionBuy, OrderType: ot}
}

func sell(ot domain.OrderType) Decision {
	return Decision{Direction: domain.DirectionSell, OrderType: ot}
}

func TestRegisterThenSameDirectionConflicts(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())

	_, err := c.Register("bot-1", "EURUSD", buy(domain.OrderTypeLimit), "entry-agent")
	require.NoError(t, err)

	for _, agent := range []string{"entry-agent", "other-agent", ""} {
		res := c.CheckConflict("bot-1", "EURUSD", domain.DirectionBuy, agent)
		assert.False(t, res.CanProceed, "agent=%q 不应通过", agent)
		assert.Contains(t, res.Reason, "1 pending BUY")
		assert.Len(t, res.ConflictingIntents, 1)
	}

	// 不同 bot 不受影响
	assert.True(t, c.CheckConflict("bot-2", "EURUSD", domain.DirectionBuy, "entry-agent").CanProceed)

	_, err = c.Register("bot-1", "EURUSD", buy(domain.OrderTypeMarket), "entry-agent")
	assert.ErrorIs(t, err, ErrDuplicateIntent)
}

func TestOppositeDirectionIsHedgeWarningOnly(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	_, err := c.Register("bot-1", "GBPUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)

	res := c.CheckConflict("bot-1", "GBPUSD", domain.DirectionSell, "a")
	assert.True(t, res.CanProceed)
	assert.True(t, res.HedgeWarning)
	require.Len(t, res.ConflictingIntents, 1)
	assert.Equal(t, domain.DirectionBuy, res.ConflictingIntents[0].Direction)
}

func TestAgentRateLimitRejectsEleventh(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock)

	for i := 0; i < 10; i++ {
		symbol := fmt.Sprintf("SYM%d", i)
		res := c.CheckConflict("bot-1", symbol, domain.DirectionBuy, "scanner")
		require.True(t, res.CanProceed, "第 %d 次应通过: %s", i+1, res.Reason)
		_, err := c.Register("bot-1", symbol, buy(domain.OrderTypeLimit), "scanner")
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	res := c.CheckConflict("bot-1", "SYM10", domain.DirectionBuy, "scanner")
	assert.False(t, res.CanProceed)
	assert.Contains(t, res.Reason, "rate limit")

	// 其它 agent 不受影响
	assert.True(t, c.CheckConflict("bot-1", "SYM10", domain.DirectionBuy, "other").CanProceed)

	// 窗口滑过后恢复
	clock.Advance(time.Minute)
	assert.True(t, c.CheckConflict("bot-1", "SYM10", domain.DirectionBuy, "scanner").CanProceed)
}

func TestTooManyPendingOrdersOnSymbol(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	for i := 0; i < 5; i++ {
		_, err := c.Register(fmt.Sprintf("bot-%d", i), "EURUSD", buy(domain.OrderTypeLimit), fmt.Sprintf("agent-%d", i))
		require.NoError(t, err)
	}

	for _, dir := range []domain.Direction{domain.DirectionBuy, domain.DirectionSell} {
		res := c.CheckConflict("bot-new", "EURUSD", dir, "fresh-agent")
		assert.False(t, res.CanProceed)
		assert.Contains(t, res.Reason, "too many pending orders")
	}

	st := c.Statistics("")
	assert.Equal(t, int64(2), st.OrderConflicts)
}

func TestDefaultTTLByOrderType(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock)
	now := clock.Now()

	cases := map[domain.OrderType]time.Duration{
		domain.OrderTypeMarket:    5 * time.Minute,
		domain.OrderTypeLimit:     24 * time.Hour,
		domain.OrderTypeStop:      12 * time.Hour,
		domain.OrderTypeStopLimit: time.Hour,
	}
	i := 0
	for ot, ttl := range cases {
		in, err := c.Register("bot", fmt.Sprintf("S%d", i), buy(ot), "a")
		require.NoError(t, err)
		assert.Equal(t, now.Add(ttl), in.ExpiresAt, "type=%s", ot)
		i++
	}

	exp := now.Add(90 * time.Minute)
	in, err := c.Register("bot", "OVERRIDE", Decision{Direction: domain.DirectionSell, OrderType: domain.OrderTypeMarket, Expiration: &exp}, "a")
	require.NoError(t, err)
	assert.Equal(t, exp, in.ExpiresAt)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	_, err := c.Register("bot", "USDJPY", sell(domain.OrderTypeLimit), "a")
	require.NoError(t, err)

	assert.Equal(t, 1, c.Cancel("bot", "USDJPY", "operator"))
	assert.Equal(t, 0, c.MarkFilled("bot", "USDJPY", domain.DirectionSell))
	assert.Equal(t, 0, c.Cancel("bot", "USDJPY", "again"))
	assert.Equal(t, 0, c.EmergencyClearAll("reset"))

	intents := c.Intents("bot", "USDJPY")
	require.Len(t, intents, 1)
	assert.Equal(t, domain.IntentStatusCancelled, intents[0].Status)
	assert.Equal(t, "operator", intents[0].StatusReason)
	assert.Equal(t, 0, c.PendingCount())

	// 终态后可以重新注册
	assert.True(t, c.CheckConflict("bot", "USDJPY", domain.DirectionSell, "a").CanProceed)
}

func TestMarkFilledOnlyMatchingDirection(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	_, err := c.Register("bot", "XAUUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)
	_, err = c.Register("bot", "XAUUSD", sell(domain.OrderTypeStop), "a")
	require.NoError(t, err)

	assert.Equal(t, 1, c.MarkFilled("bot", "XAUUSD", domain.DirectionBuy))
	st := c.Statistics("bot")
	assert.Equal(t, 1, st.TotalPendingOrders)
	assert.Equal(t, 0, c.MarkFilled("other-bot", "XAUUSD", domain.DirectionSell))
	assert.Equal(t, 0, c.MarkFilled("bot", "UNKNOWN", domain.DirectionSell))
}

func TestSweepExpiresByTTLAndSafetyNet(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock)

	market, err := c.Register("bot", "EURUSD", buy(domain.OrderTypeMarket), "a")
	require.NoError(t, err)
	limit, err := c.Register("bot", "GBPUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	rep := c.Sweep()
	assert.Equal(t, SweepReport{Expired: 1}, rep)

	clock.Advance(55 * time.Minute) // LIMIT 已存在 61 分钟，TTL 24h 但超过 1h 兜底
	rep = c.Sweep()
	assert.Equal(t, 1, rep.ForceExpired)
	assert.Equal(t, 0, c.PendingCount())

	byID := map[string]domain.OrderIntent{}
	for _, in := range c.Intents("", "") {
		byID[in.ID] = in
	}
	assert.Equal(t, domain.IntentStatusExpired, byID[market.ID].Status)
	assert.Equal(t, domain.IntentStatusExpired, byID[limit.ID].Status)
	assert.Contains(t, byID[limit.ID].StatusReason, "safety sweep")
}

func TestSweepIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, clock)
	for i := 0; i < 4; i++ {
		ot := domain.OrderTypeMarket
		if i%2 == 0 {
			ot = domain.OrderTypeLimit
		}
		_, err := c.Register(fmt.Sprintf("bot-%d", i), "EURUSD", buy(ot), "a")
		require.NoError(t, err)
	}
	clock.Advance(10 * time.Minute)

	c.Sweep()
	first := c.Intents("", "")
	firstStats := c.Statistics("")
	rep := c.Sweep()
	assert.Equal(t, SweepReport{}, rep)
	assert.Equal(t, first, c.Intents("", ""))
	assert.Equal(t, firstStats, c.Statistics(""))
}

func TestSweepPrunesTerminalHistory(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	c := newTestCoordinator(t, clock, WithStore(store))

	in, err := c.Register("bot", "EURUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)
	c.MarkFilled("bot", "EURUSD", domain.DirectionBuy)

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, c.Sweep().Pruned)
	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, c.Sweep().Pruned)

	assert.Empty(t, c.Intents("", ""))
	_, ok := store.get(in.ID)
	assert.False(t, ok)
}

func TestEmergencyClearAllCancelsEverything(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	for i := 0; i < 3; i++ {
		_, err := c.Register("bot", fmt.Sprintf("S%d", i), buy(domain.OrderTypeLimit), "a")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.EmergencyClearAll("operator reset"))
	for _, in := range c.Intents("", "") {
		assert.Equal(t, domain.IntentStatusCancelled, in.Status)
	}
}

func TestStatisticsFilteredByBot(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	_, _ = c.Register("bot-a", "EURUSD", buy(domain.OrderTypeLimit), "entry")
	_, _ = c.Register("bot-a", "EURUSD", sell(domain.OrderTypeLimit), "hedger")
	_, _ = c.Register("bot-b", "GBPUSD", buy(domain.OrderTypeLimit), "entry")
	c.CheckConflict("bot-c", "AUDUSD", domain.DirectionBuy, "entry")

	all := c.Statistics("")
	assert.Equal(t, 3, all.TotalPendingOrders)
	assert.Equal(t, map[string]int{"EURUSD": 2, "GBPUSD": 1}, all.PendingBySymbol)
	assert.Equal(t, map[string]int{"entry": 2, "hedger": 1}, all.PendingByAgent)
	assert.Equal(t, int64(1), all.SuccessfulCoordinations)

	a := c.Statistics("bot-a")
	assert.Equal(t, 2, a.TotalPendingOrders)
	assert.Equal(t, map[string]int{"EURUSD": 2}, a.PendingBySymbol)
}

func TestTryRegisterConcurrentSingleWinner(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())

	const workers = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, in := c.TryRegister("bot", "EURUSD", buy(domain.OrderTypeLimit), fmt.Sprintf("agent-%d", i))
			if res.CanProceed {
				assert.NotNil(t, in)
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, c.PendingCount())
	assert.Len(t, c.Intents("bot", "EURUSD"), 1)
}

func TestTryRegisterFailsClosedOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failSave = true
	c := newTestCoordinator(t, newFakeClock(), WithStore(store))

	res, in := c.TryRegister("bot", "EURUSD", buy(domain.OrderTypeLimit), "a")
	assert.False(t, res.CanProceed)
	assert.Nil(t, in)
	assert.Contains(t, res.Reason, ErrCoordinationUnavailable.Error())
	assert.Equal(t, 0, c.PendingCount())
}

func TestNilCoordinatorDeniesByDefault(t *testing.T) {
	var c *Coordinator
	res := c.CheckConflict("bot", "EURUSD", domain.DirectionBuy, "a")
	assert.False(t, res.CanProceed)
	res, in := c.TryRegister("bot", "EURUSD", buy(domain.OrderTypeLimit), "a")
	assert.False(t, res.CanProceed)
	assert.Nil(t, in)
}

func TestWriteThroughStore(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(t, newFakeClock(), WithStore(store))

	in, err := c.Register("bot", "EURUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)
	saved, ok := store.get(in.ID)
	require.True(t, ok)
	assert.Equal(t, domain.IntentStatusPending, saved.Status)

	c.Cancel("bot", "EURUSD", "manual")
	saved, _ = store.get(in.ID)
	assert.Equal(t, domain.IntentStatusCancelled, saved.Status)
}

func TestTryRegisterAgentLimitHoldsAcrossSymbols(t *testing.T) {
	store := newMemStore()
	store.delay = 5 * time.Millisecond
	c := newTestCoordinator(t, newFakeClock(), WithStore(store))

	const workers = 40
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c.TryRegister("bot", fmt.Sprintf("SYM%d", i), buy(domain.OrderTypeLimit), "agentA")
		}(i)
	}
	close(start)
	wg.Wait()

	st := c.Statistics("")
	assert.Equal(t, 10, st.PendingByAgent["agentA"], "同一时刻同一 agent 最多登记 10 个意图")
	assert.Equal(t, 10, c.PendingCount())
	assert.Equal(t, int64(10), st.SuccessfulCoordinations)
	assert.Equal(t, int64(workers-10), st.OrderConflicts)
}

func TestTryRegisterReleasesAgentQuotaOnStoreError(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	store.failSave = true
	c := newTestCoordinator(t, clock, WithStore(store))

	for i := 0; i < 15; i++ {
		res, in := c.TryRegister("bot", fmt.Sprintf("SYM%d", i), buy(domain.OrderTypeLimit), "a")
		require.False(t, res.CanProceed)
		require.Nil(t, in)
		assert.Contains(t, res.Reason, ErrCoordinationUnavailable.Error(), "第 %d 次应是存储失败而不是限频", i+1)
	}
	assert.Equal(t, 0, c.agents.Count("a", clock.Now()))
	assert.Equal(t, int64(0), c.Statistics("").SuccessfulCoordinations)

	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()
	res, in := c.TryRegister("bot", "SYM0", buy(domain.OrderTypeLimit), "a")
	assert.True(t, res.CanProceed, res.Reason)
	assert.NotNil(t, in)
}

func TestPeekDoesNotTouchStatistics(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	_, err := c.Register("bot", "EURUSD", buy(domain.OrderTypeLimit), "a")
	require.NoError(t, err)

	assert.False(t, c.Peek("bot", "EURUSD", domain.DirectionBuy, "a").CanProceed)
	res := c.Peek("bot", "EURUSD", domain.DirectionSell, "a")
	assert.True(t, res.CanProceed)
	assert.True(t, res.HedgeWarning)

	st := c.Statistics("")
	assert.Equal(t, int64(0), st.OrderConflicts)
	assert.Equal(t, int64(0), st.SuccessfulCoordinations)

	// Peek 之后再 TryRegister：只计一次成功
	res, in := c.TryRegister("bot", "EURUSD", sell(domain.OrderTypeLimit), "a")
	require.True(t, res.CanProceed)
	require.NotNil(t, in)
	assert.Contains(t, res.Reason, "hedge warning")
	assert.Equal(t, int64(1), c.Statistics("").SuccessfulCoordinations)
}

func TestCheckConflictUnknownSymbolCreatesNoBook(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	for i := 0; i < 100; i++ {
		assert.True(t, c.CheckConflict("bot", fmt.Sprintf("LOOKUP%d", i), domain.DirectionBuy, "a").CanProceed)
		assert.True(t, c.Peek("bot", fmt.Sprintf("LOOKUP%d", i), domain.DirectionSell, "a").CanProceed)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.books)
}

func TestCheckConflictUnknownSymbolStillRateLimited(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	for i := 0; i < 10; i++ {
		_, in := c.TryRegister("bot", fmt.Sprintf("SYM%d", i), buy(domain.OrderTypeLimit), "scanner")
		require.NotNil(t, in)
	}
	res := c.CheckConflict("bot", "NEVERSEEN", domain.DirectionBuy, "scanner")
	assert.False(t, res.CanProceed)
	assert.Contains(t, res.Reason, "rate limit exceeded")
}
