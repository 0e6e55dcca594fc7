package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow 滑动窗口计数器
//
// 既可以一步 Allow（检查并记录），也可以先 Exceeded 只读判断、之后再 Record。
// 非并发安全，由 KeyedWindows 或调用方加锁。
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	events     []time.Time   // 事件时间戳（按时间递增）
}

// NewSlidingWindow 创建新的滑动窗口
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		events:     make([]time.Time, 0, limit),
	}
}

// evict 移除窗口外的事件
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.events) && !sw.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.events = append(sw.events[:0], sw.events[i:]...)
	}
}

// Count 窗口内事件数
func (sw *SlidingWindow) Count(now time.Time) int {
	sw.evict(now)
	return len(sw.events)
}

// Exceeded 窗口内事件数是否已达到上限（再记一次就超限）
func (sw *SlidingWindow) Exceeded(now time.Time) bool {
	if sw.limit <= 0 {
		return false
	}
	return sw.Count(now) >= sw.limit
}

// Record 记录一次事件
func (sw *SlidingWindow) Record(now time.Time) {
	sw.evict(now)
	sw.events = append(sw.events, now)
}

// Allow 检查并记录（一步完成）
func (sw *SlidingWindow) Allow(now time.Time) bool {
	if sw.Exceeded(now) {
		return false
	}
	sw.Record(now)
	return true
}

// release 撤销一次 at 时刻的记录（从最新的开始找）
func (sw *SlidingWindow) release(at time.Time) bool {
	for i := len(sw.events) - 1; i >= 0; i-- {
		if sw.events[i].Equal(at) {
			sw.events = append(sw.events[:i], sw.events[i+1:]...)
			return true
		}
	}
	return false
}

// KeyedWindows 按 key（例如 agent 名）维护独立的滑动窗口，并发安全
type KeyedWindows struct {
	mu         sync.Mutex
	windows    map[string]*SlidingWindow
	limit      int
	windowSize time.Duration
}

// NewKeyedWindows 创建按 key 分组的滑动窗口管理器
func NewKeyedWindows(limit int, windowSize time.Duration) *KeyedWindows {
	return &KeyedWindows{
		windows:    make(map[string]*SlidingWindow),
		limit:      limit,
		windowSize: windowSize,
	}
}

func (k *KeyedWindows) get(key string) *SlidingWindow {
	w := k.windows[key]
	if w == nil {
		w = NewSlidingWindow(k.limit, k.windowSize)
		k.windows[key] = w
	}
	return w
}

// Exceeded key 的窗口是否已满
func (k *KeyedWindows) Exceeded(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.windows[key]
	if !ok {
		return false
	}
	return w.Exceeded(now)
}

// Count key 的窗口内事件数
func (k *KeyedWindows) Count(key string, now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.windows[key]
	if !ok {
		return 0
	}
	return w.Count(now)
}

// Record 为 key 记录一次事件
func (k *KeyedWindows) Record(key string, now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.get(key).Record(now)
}

// TryReserve 检查并记录一次（同一把锁内完成）。已满返回 false，不记录。
func (k *KeyedWindows) TryReserve(key string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.get(key).Allow(now)
}

// Release 撤销 TryReserve/Record 在 at 时刻记下的一次事件
func (k *KeyedWindows) Release(key string, at time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.windows[key]; ok {
		w.release(at)
	}
}

// Prune 删除窗口已空的 key，避免长期运行时 map 只增不减
func (k *KeyedWindows) Prune(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, w := range k.windows {
		if w.Count(now) == 0 {
			delete(k.windows, key)
			removed++
		}
	}
	return removed
}
