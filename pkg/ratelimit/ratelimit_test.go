package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_ExceededAfterLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sw := NewSlidingWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.False(t, sw.Exceeded(base), "第 %d 次之前不应超限", i+1)
		sw.Record(base.Add(time.Duration(i) * time.Second))
	}
	assert.True(t, sw.Exceeded(base.Add(3*time.Second)))

	// 第一条滑出窗口后恢复
	assert.False(t, sw.Exceeded(base.Add(time.Minute+time.Millisecond)))
	assert.Equal(t, 2, sw.Count(base.Add(time.Minute+time.Millisecond)))
}

func TestSlidingWindow_AllowRecords(t *testing.T) {
	now := time.Now()
	sw := NewSlidingWindow(2, 10*time.Second)
	assert.True(t, sw.Allow(now))
	assert.True(t, sw.Allow(now))
	assert.False(t, sw.Allow(now))
	assert.Equal(t, 2, sw.Count(now))
	assert.True(t, sw.Allow(now.Add(10*time.Second+time.Millisecond)))
}

func TestSlidingWindow_ZeroLimitNeverExceeded(t *testing.T) {
	now := time.Now()
	sw := NewSlidingWindow(0, time.Second)
	for i := 0; i < 5; i++ {
		sw.Record(now)
	}
	assert.False(t, sw.Exceeded(now))
}

func TestKeyedWindows_IndependentKeys(t *testing.T) {
	now := time.Now()
	k := NewKeyedWindows(2, time.Minute)
	k.Record("agent-a", now)
	k.Record("agent-a", now)

	assert.True(t, k.Exceeded("agent-a", now))
	assert.False(t, k.Exceeded("agent-b", now))
	assert.Equal(t, 2, k.Count("agent-a", now))
	assert.Equal(t, 0, k.Count("agent-b", now))

	assert.Equal(t, 1, k.Prune(now.Add(2*time.Minute)))
	assert.Equal(t, 0, k.Count("agent-a", now.Add(2*time.Minute)))
}

func TestKeyedWindows_TryReserveAndRelease(t *testing.T) {
	now := time.Now()
	k := NewKeyedWindows(2, time.Minute)

	assert.True(t, k.TryReserve("agent-a", now))
	assert.True(t, k.TryReserve("agent-a", now))
	assert.False(t, k.TryReserve("agent-a", now), "满额后不应再记录")
	assert.Equal(t, 2, k.Count("agent-a", now))

	k.Release("agent-a", now)
	assert.Equal(t, 1, k.Count("agent-a", now))
	assert.True(t, k.TryReserve("agent-a", now))

	// 未知 key / 不存在的时刻：无操作
	k.Release("agent-b", now)
	k.Release("agent-a", now.Add(time.Second))
	assert.Equal(t, 2, k.Count("agent-a", now))
}

func TestKeyedWindows_TryReserveConcurrent(t *testing.T) {
	now := time.Now()
	k := NewKeyedWindows(10, time.Minute)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if k.TryReserve("agent-a", now) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), granted.Load())
	assert.Equal(t, 10, k.Count("agent-a", now))
}
