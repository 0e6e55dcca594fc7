package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
)

func seedPending(store *memStore, n int, at time.Time) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("seed-%02d", i)
		store.intents[id] = domain.OrderIntent{
			ID:              id,
			BotID:           "bot",
			Symbol:          fmt.Sprintf("S%02d", i),
			Direction:       domain.DirectionBuy,
			OrderType:       domain.OrderTypeLimit,
			RequestingAgent: "restored",
			CreatedAt:       at,
			ExpiresAt:       at.Add(24 * time.Hour),
			Status:          domain.IntentStatusPending,
		}
	}
}

func TestNewRecoversIntentsFromStore(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	seedPending(store, 3, clock.Now())

	c := newTestCoordinator(t, clock, WithStore(store))
	assert.Equal(t, 3, c.PendingCount())

	res := c.CheckConflict("bot", "S01", domain.DirectionBuy, "a")
	assert.False(t, res.CanProceed)
}

func TestStartupClearsLargeBacklog(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	seedPending(store, 11, clock.Now())

	cfg := DefaultConfig()
	cfg.StartupDelay = 10 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	c, err := New(cfg, WithClock(clock.Now), WithStore(store))
	require.NoError(t, err)
	require.Equal(t, 11, c.PendingCount())

	c.Start(context.Background())
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	for _, in := range c.Intents("", "") {
		assert.Equal(t, domain.IntentStatusCancelled, in.Status)
		assert.Contains(t, in.StatusReason, "startup recovery")
	}
	saved, ok := store.get("seed-00")
	require.True(t, ok)
	assert.Equal(t, domain.IntentStatusCancelled, saved.Status)
}

func TestStartupKeepsSmallBacklog(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	seedPending(store, 10, clock.Now())

	cfg := DefaultConfig()
	cfg.StartupDelay = 5 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	c, err := New(cfg, WithClock(clock.Now), WithStore(store))
	require.NoError(t, err)

	c.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	assert.Equal(t, 10, c.PendingCount())
}

func TestBackgroundSweepExpiresIntents(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.StartupDelay = 5 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond
	c, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)

	_, err = c.Register("bot", "EURUSD", buy(domain.OrderTypeMarket), "a")
	require.NoError(t, err)

	c.Start(context.Background())
	defer c.Stop()
	clock.Advance(6 * time.Minute)

	require.Eventually(t, func() bool { return c.PendingCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopWithoutStartAndTwice(t *testing.T) {
	c := newTestCoordinator(t, newFakeClock())
	c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Stop()
	c.Stop()
}
