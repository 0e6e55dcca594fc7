// Package paper 内存纸交易网关：实现 ports.BrokerGateway，用于守护进程的 dry-run 模式与测试。
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/domain"
)

var log = logrus.WithField("module", "paper")

// ErrUnknownSymbol 没有该 symbol 的报价
var ErrUnknownSymbol = fmt.Errorf("unknown symbol")

// 可注入故障的方法名
const (
	MethodPrice     = "GetCurrentPrice"
	MethodPositions = "GetOpenPositions"
	MethodOrders    = "GetWorkingOrders"
	MethodAccount   = "GetAccount"
)

type position struct {
	id        string
	symbol    string
	side      domain.Direction
	size      decimal.Decimal
	entry     decimal.Decimal
	createdAt time.Time
}

// Gateway 纸交易网关。金额全部用 decimal 记账。
type Gateway struct {
	mu        sync.RWMutex
	balance   decimal.Decimal
	currency  string
	prices    map[string]decimal.Decimal
	positions []*position
	orders    []domain.BrokerOrderSnapshot
	failures  map[string]error
	now       func() time.Time
}

// Option 构造选项
type Option func(*Gateway)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New 创建纸交易网关
func New(balance float64, currency string, opts ...Option) *Gateway {
	if currency == "" {
		currency = "USD"
	}
	g := &Gateway{
		balance:  decimal.NewFromFloat(balance),
		currency: currency,
		prices:   make(map[string]decimal.Decimal),
		failures: make(map[string]error),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetPrice 设置报价
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = decimal.NewFromFloat(price)
}

// SetBalance 设置账户余额
func (g *Gateway) SetBalance(balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balance = decimal.NewFromFloat(balance)
}

// SetError 让指定方法返回错误；err 为 nil 时清除
func (g *Gateway) SetError(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, method)
		return
	}
	g.failures[method] = err
}

// OpenPosition 以给定价格开仓，返回持仓 ID
func (g *Gateway) OpenPosition(symbol string, side domain.Direction, size, entryPrice float64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &position{
		id:        "paper-pos-" + uuid.NewString(),
		symbol:    symbol,
		side:      side,
		size:      decimal.NewFromFloat(size),
		entry:     decimal.NewFromFloat(entryPrice),
		createdAt: g.now(),
	}
	g.positions = append(g.positions, p)
	if _, ok := g.prices[symbol]; !ok {
		g.prices[symbol] = p.entry
	}
	log.Infof("📝 [纸交易] 开仓: id=%s symbol=%s side=%s size=%s entry=%s", p.id, symbol, side, p.size, p.entry)
	return p.id
}

// ClosePosition 按当前价平仓，已实现盈亏计入余额
func (g *Gateway) ClosePosition(id string) (realized float64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, p := range g.positions {
		if p.id != id {
			continue
		}
		pnl := g.unrealizedLocked(p)
		g.balance = g.balance.Add(pnl)
		g.positions = append(g.positions[:i], g.positions[i+1:]...)
		log.Infof("📝 [纸交易] 平仓: id=%s pnl=%s balance=%s", id, pnl, g.balance)
		return pnl.InexactFloat64(), nil
	}
	return 0, fmt.Errorf("position %s not found", id)
}

// PlaceOrder 挂一个工作单，返回订单 ID
func (g *Gateway) PlaceOrder(o domain.BrokerOrderSnapshot) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o.ID == "" {
		o.ID = "paper-ord-" + uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = g.now()
	}
	g.orders = append(g.orders, o)
	log.Infof("📝 [纸交易] 挂单: id=%s symbol=%s %s %s size=%.4f price=%.5f",
		o.ID, o.Symbol, o.Direction, o.OrderType, o.Size, o.OrderPrice)
	return o.ID
}

// CancelOrder 撤单
func (g *Gateway) CancelOrder(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, o := range g.orders {
		if o.ID == id {
			g.orders = append(g.orders[:i], g.orders[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Gateway) fail(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.failures[method]; err != nil {
		return fmt.Errorf("paper %s: %w", method, err)
	}
	return nil
}

func (g *Gateway) markLocked(p *position) decimal.Decimal {
	if px, ok := g.prices[p.symbol]; ok && px.IsPositive() {
		return px
	}
	return p.entry
}

func (g *Gateway) unrealizedLocked(p *position) decimal.Decimal {
	diff := g.markLocked(p).Sub(p.entry)
	if p.side == domain.DirectionSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.size)
}

// GetCurrentPrice 实现 ports.PriceGetter
func (g *Gateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.fail(ctx, MethodPrice); err != nil {
		return 0, err
	}
	px, ok := g.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return px.InexactFloat64(), nil
}

// GetOpenPositions 实现 ports.PositionLister（按开仓时间排序）
func (g *Gateway) GetOpenPositions(ctx context.Context) ([]domain.BrokerPositionSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.fail(ctx, MethodPositions); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPositionSnapshot, 0, len(g.positions))
	for _, p := range g.positions {
		mark := g.markLocked(p)
		out = append(out, domain.BrokerPositionSnapshot{
			ID:            p.id,
			Symbol:        p.symbol,
			Side:          p.side,
			Size:          p.size.InexactFloat64(),
			EntryPrice:    p.entry.InexactFloat64(),
			CurrentPrice:  mark.InexactFloat64(),
			Value:         p.size.Mul(mark).InexactFloat64(),
			UnrealizedPnL: g.unrealizedLocked(p).InexactFloat64(),
			CreatedAt:     p.createdAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetWorkingOrders 实现 ports.WorkingOrderLister
func (g *Gateway) GetWorkingOrders(ctx context.Context) ([]domain.BrokerOrderSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.fail(ctx, MethodOrders); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerOrderSnapshot, len(g.orders))
	copy(out, g.orders)
	return out, nil
}

// GetAccount 实现 ports.AccountReader
func (g *Gateway) GetAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.fail(ctx, MethodAccount); err != nil {
		return domain.AccountSnapshot{}, err
	}
	return domain.AccountSnapshot{Balance: g.balance.InexactFloat64(), Currency: g.currency}, nil
}
