package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/ports"
)

var _ ports.BrokerGateway = (*Gateway)(nil)

func TestPositionsValuedAtMarkPrice(t *testing.T) {
	ctx := context.Background()
	g := New(10000, "USD")
	id := g.OpenPosition("EURUSD", domain.DirectionBuy, 1000, 1.1)
	g.OpenPosition("USDJPY", domain.DirectionSell, 10, 150)
	g.SetPrice("EURUSD", 1.2)
	g.SetPrice("USDJPY", 149)

	ps, err := g.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	byID := map[string]domain.BrokerPositionSnapshot{}
	for _, p := range ps {
		byID[p.Symbol] = p
	}
	assert.InDelta(t, 1200, byID["EURUSD"].Value, 1e-9)
	assert.InDelta(t, 100, byID["EURUSD"].UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10, byID["USDJPY"].UnrealizedPnL, 1e-9)

	pnl, err := g.ClosePosition(id)
	require.NoError(t, err)
	assert.InDelta(t, 100, pnl, 1e-9)

	acc, err := g.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10100, acc.Balance, 1e-9)
	assert.Equal(t, "USD", acc.Currency)

	_, err = g.ClosePosition(id)
	assert.Error(t, err)
}

func TestWorkingOrdersLifecycle(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	g := New(5000, "EUR", WithClock(func() time.Time { return now }))
	id := g.PlaceOrder(domain.BrokerOrderSnapshot{Symbol: "GBPUSD", Direction: domain.DirectionSell, OrderType: domain.OrderTypeLimit, Size: 2, OrderPrice: 1.3})

	orders, err := g.GetWorkingOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].ID)
	assert.Equal(t, now, orders[0].CreatedAt)

	// 返回副本
	orders[0].Size = 99
	again, _ := g.GetWorkingOrders(context.Background())
	assert.Equal(t, 2.0, again[0].Size)

	assert.True(t, g.CancelOrder(id))
	assert.False(t, g.CancelOrder(id))
}

func TestInjectedFailuresAndContext(t *testing.T) {
	g := New(1000, "")
	g.SetPrice("EURUSD", 1.1)

	boom := errors.New("broker offline")
	g.SetError(MethodPrice, boom)
	_, err := g.GetCurrentPrice(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, boom)

	g.SetError(MethodPrice, nil)
	px, err := g.GetCurrentPrice(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.1, px)

	_, err = g.GetCurrentPrice(context.Background(), "XAUUSD")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.GetAccount(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
