// Package opsapi 在 ops gin 路由上挂协调器/感知闸门/纸交易的运维接口。
package opsapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ordercore/internal/awareness"
	"github.com/betbot/ordercore/internal/coordinator"
	"github.com/betbot/ordercore/internal/domain"
	"github.com/betbot/ordercore/internal/gateway/paper"
)

var log = logrus.WithField("module", "opsapi")

// Deps 运维接口依赖；Gate/Paper 为空时对应路由不挂载
type Deps struct {
	Coordinator *coordinator.Coordinator
	Gate        *awareness.Gate
	Paper       *paper.Gateway
}

// Register 挂载路由
func Register(r gin.IRouter, d Deps) {
	if d.Coordinator != nil {
		h := &coordHandlers{c: d.Coordinator}
		g := r.Group("/coordinator")
		g.GET("/stats", h.stats)
		g.GET("/intents", h.intents)
		g.POST("/sweep", h.sweep)
		g.POST("/emergency-clear", h.emergencyClear)
		g.POST("/cancel", h.cancel)
		g.POST("/fill", h.fill)
	}
	if d.Gate != nil {
		r.POST("/awareness/evaluate", (&gateHandlers{g: d.Gate}).evaluate)
	}
	if d.Paper != nil {
		h := &paperHandlers{p: d.Paper}
		g := r.Group("/paper")
		g.POST("/prices", h.setPrice)
		g.POST("/positions", h.openPosition)
		g.DELETE("/positions/:id", h.closePosition)
		g.POST("/orders", h.placeOrder)
		g.DELETE("/orders/:id", h.cancelOrder)
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

type coordHandlers struct {
	c *coordinator.Coordinator
}

func (h *coordHandlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.c.Statistics(c.Query("bot_id")))
}

func (h *coordHandlers) intents(c *gin.Context) {
	items := h.c.Intents(c.Query("bot_id"), c.Query("symbol"))
	if status := strings.ToUpper(c.Query("status")); status != "" {
		filtered := items[:0]
		for _, in := range items {
			if string(in.Status) == status {
				filtered = append(filtered, in)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []domain.OrderIntent{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "intents": items})
}

func (h *coordHandlers) sweep(c *gin.Context) {
	rep := h.c.Sweep()
	c.JSON(http.StatusOK, gin.H{"expired": rep.Expired, "force_expired": rep.ForceExpired, "pruned": rep.Pruned})
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (h *coordHandlers) emergencyClear(c *gin.Context) {
	var body reasonBody
	_ = c.ShouldBindJSON(&body)
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "operator emergency clear"
	}
	n := h.c.EmergencyClearAll(reason)
	log.Warnf("🚨 运维触发紧急清空: cleared=%d reason=%s client=%s", n, reason, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

type intentTarget struct {
	BotID     string `json:"bot_id" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
}

func (h *coordHandlers) cancel(c *gin.Context) {
	var body intentTarget
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "cancelled via ops api"
	}
	n := h.c.Cancel(body.BotID, body.Symbol, reason)
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (h *coordHandlers) fill(c *gin.Context) {
	var body intentTarget
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		badRequest(c, err)
		return
	}
	n := h.c.MarkFilled(body.BotID, body.Symbol, dir)
	c.JSON(http.StatusOK, gin.H{"filled": n})
}

type gateHandlers struct {
	g *awareness.Gate
}

type evaluateBody struct {
	Symbol                 string  `json:"symbol" binding:"required"`
	Direction              string  `json:"direction" binding:"required"`
	StrategyRiskPercentage float64 `json:"strategy_risk_percentage"`
	TradesToday            int     `json:"trades_today"`
	ProposedPrice          float64 `json:"proposed_price"`
	ProposedSize           float64 `json:"proposed_size"`
}

func (h *gateHandlers) evaluate(c *gin.Context) {
	var body evaluateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		badRequest(c, err)
		return
	}
	res := h.g.Evaluate(c.Request.Context(), awareness.Request{
		Symbol:                 body.Symbol,
		Direction:              dir,
		StrategyRiskPercentage: body.StrategyRiskPercentage,
		TradesToday:            body.TradesToday,
		ProposedPrice:          body.ProposedPrice,
		ProposedSize:           body.ProposedSize,
	})
	c.JSON(http.StatusOK, gin.H{
		"allowed":         res.Allowed,
		"reasoning":       res.Reasoning,
		"recommendations": res.Recommendations,
		"metrics":         res.Metrics,
	})
}

type paperHandlers struct {
	p *paper.Gateway
}

type priceBody struct {
	Symbol string  `json:"symbol" binding:"required"`
	Price  float64 `json:"price" binding:"required,gt=0"`
}

func (h *paperHandlers) setPrice(c *gin.Context) {
	var body priceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	h.p.SetPrice(body.Symbol, body.Price)
	c.Status(http.StatusNoContent)
}

type positionBody struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Side       string  `json:"side" binding:"required"`
	Size       float64 `json:"size" binding:"required,gt=0"`
	EntryPrice float64 `json:"entry_price" binding:"required,gt=0"`
}

func (h *paperHandlers) openPosition(c *gin.Context) {
	var body positionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	side, err := domain.ParseDirection(body.Side)
	if err != nil {
		badRequest(c, err)
		return
	}
	id := h.p.OpenPosition(body.Symbol, side, body.Size, body.EntryPrice)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *paperHandlers) closePosition(c *gin.Context) {
	pnl, err := h.p.ClosePosition(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"realized_pnl": pnl})
}

type orderBody struct {
	Symbol    string  `json:"symbol" binding:"required"`
	Direction string  `json:"direction" binding:"required"`
	OrderType string  `json:"order_type"`
	Size      float64 `json:"size" binding:"required,gt=0"`
	Price     float64 `json:"price" binding:"required,gt=0"`
}

func (h *paperHandlers) placeOrder(c *gin.Context) {
	var body orderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	dir, err := domain.ParseDirection(body.Direction)
	if err != nil {
		badRequest(c, err)
		return
	}
	ot := domain.OrderType(strings.ToUpper(body.OrderType))
	if ot == "" {
		ot = domain.OrderTypeLimit
	}
	id := h.p.PlaceOrder(domain.BrokerOrderSnapshot{
		Symbol:     body.Symbol,
		Direction:  dir,
		OrderType:  ot,
		Size:       body.Size,
		OrderPrice: body.Price,
	})
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *paperHandlers) cancelOrder(c *gin.Context) {
	if !h.p.CancelOrder(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
