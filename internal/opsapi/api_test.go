package opsapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/ordercore/internal/awareness"
	"github.com/betbot/ordercore/internal/coordinator"
	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/gateway/paper"
)

type fixture struct {
	router *gin.Engine
	coord  *coordinator.Coordinator
	paper  *paper.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	coord, err := coordinator.New(coordinator.Config{})
	require.NoError(t, err)
	gw := paper.New(10000, "USD")
	r := gin.New()
	Register(r, Deps{
		Coordinator: coord,
		Gate:        awareness.NewGate(gw, awareness.DefaultPositionConfig(), awareness.DefaultOrderConfig()),
		Paper:       gw,
	})
	return &fixture{router: r, coord: coord, paper: gw}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (f *fixture) register(t *testing.T, bot, symbol string, dir domain.Direction) {
	t.Helper()
	_, err := f.coord.Register(bot, symbol, coordinator.Decision{Direction: dir, OrderType: domain.OrderTypeLimit}, "agent-a")
	require.NoError(t, err)
}

func TestCoordinatorStatsAndIntents(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bot-1", "EURUSD", domain.DirectionBuy)
	f.register(t, "bot-2", "GBPUSD", domain.DirectionSell)

	w, body := f.do(t, http.MethodGet, "/coordinator/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total_pending_orders"])

	w, body = f.do(t, http.MethodGet, "/coordinator/stats?bot_id=bot-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total_pending_orders"])

	w, body = f.do(t, http.MethodGet, "/coordinator/intents?symbol=GBPUSD", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = f.do(t, http.MethodGet, "/coordinator/intents?status=filled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestCoordinatorCancelFillAndClear(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bot-1", "EURUSD", domain.DirectionBuy)
	f.register(t, "bot-2", "EURUSD", domain.DirectionBuy)
	f.register(t, "bot-3", "USDJPY", domain.DirectionSell)

	w, body := f.do(t, http.MethodPost, "/coordinator/cancel", map[string]string{"bot_id": "bot-1", "symbol": "EURUSD"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["cancelled"])

	w, body = f.do(t, http.MethodPost, "/coordinator/fill", map[string]string{"bot_id": "bot-2", "symbol": "EURUSD", "direction": "buy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["filled"])

	w, _ = f.do(t, http.MethodPost, "/coordinator/fill", map[string]string{"bot_id": "bot-2", "symbol": "EURUSD", "direction": "up"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/coordinator/cancel", map[string]string{"symbol": "EURUSD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = f.do(t, http.MethodPost, "/coordinator/emergency-clear", map[string]string{"reason": "drill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["cleared"])
	assert.Equal(t, 0, f.coord.PendingCount())

	w, body = f.do(t, http.MethodPost, "/coordinator/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["expired"])
}

func TestAwarenessEvaluateWithPaper(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/awareness/evaluate", map[string]any{"symbol": "EURUSD", "direction": "BUY", "proposed_size": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])

	w, _ = f.do(t, http.MethodPost, "/paper/prices", map[string]any{"symbol": "EURUSD", "price": 1.1})
	require.Equal(t, http.StatusNoContent, w.Code)

	w, body = f.do(t, http.MethodPost, "/awareness/evaluate", map[string]any{"symbol": "EURUSD", "direction": "BUY", "proposed_size": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])

	w, _ = f.do(t, http.MethodPost, "/awareness/evaluate", map[string]any{"symbol": "EURUSD", "direction": "HOLD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaperPositionsAndOrders(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodPost, "/paper/positions", map[string]any{"symbol": "EURUSD", "side": "buy", "size": 1000, "entry_price": 1.1})
	require.Equal(t, http.StatusCreated, w.Code)
	posID, _ := body["id"].(string)
	require.NotEmpty(t, posID)

	w, body = f.do(t, http.MethodPost, "/paper/orders", map[string]any{"symbol": "EURUSD", "direction": "sell", "size": 500, "price": 1.12})
	require.Equal(t, http.StatusCreated, w.Code)
	ordID, _ := body["id"].(string)
	require.NotEmpty(t, ordID)

	w, _ = f.do(t, http.MethodDelete, "/paper/orders/"+ordID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = f.do(t, http.MethodDelete, "/paper/orders/"+ordID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/paper/positions/"+posID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodDelete, "/paper/positions/"+posID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/paper/orders", map[string]any{"symbol": "EURUSD", "direction": "sell", "size": 0, "price": 1.12})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterWithoutOptionalDeps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, Deps{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/coordinator/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
