package router

import (
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// Handlers are the API handlers mounted by RegisterAPI
type Handlers struct {
	Sync       *handler.SyncHandler
	Alerts     *handler.AlertHandler
	DeadLetter *handler.DeadLetterHandler
	Breakers   *handler.CircuitBreakerHandler
	Healing    *handler.AutoHealingHandler
	Webhook    *handler.WebhookHandler
	System     *handler.SystemHandler
	Realtime   *handler.RealtimeHub
}

// Guards are the auth middleware applied per group
type Guards struct {
	// Authenticate validates bearer tokens on the REST API
	Authenticate gin.HandlerFunc
	// AuthenticateRealtime also accepts the token query parameter
	AuthenticateRealtime gin.HandlerFunc
	// RequireOperator protects every mutating route
	RequireOperator gin.HandlerFunc
	// RateLimit runs after authentication so clients are keyed by subject
	RateLimit gin.HandlerFunc
	// Annotate runs after authentication on every authenticated group
	Annotate gin.HandlerFunc
}

func (g Guards) authenticated(grp *Group, authenticate gin.HandlerFunc) {
	if authenticate != nil {
		grp.Use(authenticate)
	}
	if g.Annotate != nil {
		grp.Use(g.Annotate)
	}
}

func chain(guard gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if guard == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{guard, h}
}

// RegisterAPI mounts /health and every /api/v1 group
func RegisterAPI(r *Router, h Handlers, g Guards) {
	r.Engine().GET("/health", h.System.Health)

	op := func(fn gin.HandlerFunc) []gin.HandlerFunc { return chain(g.RequireOperator, fn) }

	api := NewGroup("api", "")
	g.authenticated(api, g.Authenticate)
	if g.RateLimit != nil {
		api.Use(g.RateLimit)
	}

	api.Group("sync", "/sync").
		POST("/:entity_type", op(h.Sync.TriggerSync)...)

	api.Group("runs", "/runs").
		GET("", h.Sync.ListRuns).
		GET("/:id", h.Sync.GetRun).
		POST("/:id/cancel", op(h.Sync.CancelRun)...)

	api.Group("stats", "/stats").
		GET("/combined", h.Healing.CombinedStats)

	api.Group("alerts", "/alerts").
		GET("", h.Alerts.ListAlerts).
		POST("/:id/acknowledge", op(h.Alerts.AcknowledgeAlert)...)

	api.Group("dead-letter", "/dead-letter").
		GET("", h.DeadLetter.ListItems).
		GET("/stats", h.DeadLetter.GetStats).
		POST("/requeue-all", op(h.DeadLetter.RequeueAll)...).
		GET("/:id", h.DeadLetter.GetItem).
		POST("/:id/requeue", op(h.DeadLetter.RequeueItem)...).
		DELETE("/:id", op(h.DeadLetter.PurgeItem)...)

	api.Group("circuit-breakers", "/circuit-breakers").
		GET("", h.Breakers.ListBreakers).
		POST("/:name/reset", op(h.Breakers.ResetBreaker)...)

	api.Group("auto-healing", "/auto-healing").
		GET("/stats", h.Healing.GetStats).
		POST("/run", op(h.Healing.RunPass)...)

	api.Group("system", "/system").
		GET("/info", h.System.GetSystemInfo)

	realtime := NewGroup("realtime", "/realtime")
	g.authenticated(realtime, g.AuthenticateRealtime)
	realtime.GET("/ws", h.Realtime.WebSocket).
		GET("/sse", h.Realtime.Stream)

	// Zoho cannot send bearer tokens; deliveries are signed instead.
	webhooks := NewGroup("webhooks", "/webhooks").
		POST("/zoho", h.Webhook.ReceiveZoho)

	r.Mount(webhooks, realtime, api)
}
