package main

import (
	"context"
	"fmt"
	"time"

	appalert "github.com/erp/syncengine/internal/application/alert"
	appsync "github.com/erp/syncengine/internal/application/datasync"
	appdl "github.com/erp/syncengine/internal/application/deadletter"
	"github.com/erp/syncengine/internal/application/reconciliation"
	"github.com/erp/syncengine/internal/application/webhook"
	domainbreaker "github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/breaker"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/event"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/infrastructure/storage"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/erp/syncengine/internal/infrastructure/zoho"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/erp/syncengine/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// lifecycle is a component started with the app and stopped in reverse order
type lifecycle struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

type app struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *persistence.Database
	caches     *cache.Factory
	engine     *gin.Engine
	hub        *handler.RealtimeHub
	components []lifecycle
	started    []lifecycle
	stopLimits chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, meters *telemetry.MeterProvider) (*app, error) {
	if !cfg.ZohoConfigured() {
		return nil, fmt.Errorf("zoho credentials are not configured (zoho.organization_id, zoho.client_id, zoho.refresh_token)")
	}

	gormLog := logger.NewSQLLogger(log, logger.GormConfig{
		Level:         logger.ParseGormLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
	})
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == config.DriverSQLite {
		// SQLite deployments have no migrate step.
		if err := db.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	if cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfigFrom(cfg.Telemetry, cfg.Database.Driver), log); err != nil {
			return nil, fmt.Errorf("register db tracing: %w", err)
		}
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	metrics, err := telemetry.NewSyncMetrics(meters.Meter("syncengine"))
	if err != nil {
		return nil, fmt.Errorf("sync metrics: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db, stopLimits: make(chan struct{})}

	bus := event.NewInMemoryEventBus(cfg.Realtime.BufferSize, log)
	a.add("event bus", bus.Start, bus.Stop)

	a.caches = cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	seen, err := a.caches.CreateIdempotencyStore()
	if err != nil {
		return nil, err
	}
	locker, err := a.caches.CreateLocker()
	if err != nil {
		return nil, err
	}

	runRepo := persistence.NewGormRunRepository(db.DB)
	eventRepo := persistence.NewGormEventRepository(db.DB)
	alertRepo := persistence.NewGormAlertRepository(db.DB)
	deadLetterRepo := persistence.NewGormDeadLetterRepository(db.DB)
	breakerRepo := persistence.NewGormBreakerRepository(db.DB)
	discrepancyRepo := persistence.NewGormDiscrepancyRepository(db.DB)
	reportRepo := persistence.NewGormReportRepository(db.DB)
	localStore := persistence.NewGormLocalStore(db.DB)

	gateway, err := zoho.NewClient(zoho.ConfigFrom(cfg.Zoho), log)
	if err != nil {
		return nil, err
	}

	alerts := appalert.NewManager(alertRepo, bus, cfg.Alert.DedupeWindow, log)

	breakers := breaker.NewRegistry(breaker.Config{
		Window:              cfg.Breaker.Window,
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		Cooldown:            cfg.Breaker.Cooldown,
		MaxCooldownMultiple: cfg.Breaker.MaxCooldownMultiple,
	}, breakerRepo, bus, log,
		[]string{domainbreaker.NameZohoAPI, domainbreaker.NameZohoInventoryPush},
		breaker.WithAlertRaiser(alerts),
		breaker.WithObserver(func(ctx context.Context, t domainbreaker.Transition) {
			metrics.BreakerTransition(ctx, t.Name, string(t.From), string(t.To))
		}),
	)
	if err := breakers.Load(ctx); err != nil {
		log.Warn("Failed to restore breaker state, starting closed", zap.Error(err))
	}

	deadLetters := appdl.NewService(appdl.Config{
		EscalationThreshold: cfg.DeadLetter.EscalationThreshold,
	}, deadLetterRepo, alerts, bus, log)

	processor := appsync.NewProcessor(appsync.ProcessorConfig{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		RetryBase:      cfg.Sync.RetryBase,
		RetryCap:       cfg.Sync.RetryCap,
		RetryJitter:    cfg.Sync.RetryJitter,
		RequestTimeout: cfg.Zoho.RequestTimeout,
	}, gateway, localStore, eventRepo, breakers, deadLetters, bus, log)
	processor.SetSyncMetrics(metrics)

	orchestrator := appsync.NewOrchestrator(appsync.OrchestratorConfig{
		Workers:   cfg.Sync.Workers,
		QueueSize: cfg.Sync.QueueSize,
		WorkerID:  cfg.App.WorkerID,
	}, runRepo, eventRepo, gateway, localStore, breakers, processor, bus, log)
	orchestrator.SetSyncMetrics(metrics)
	deadLetters.SetResubmitter(orchestrator)
	a.add("orchestrator", orchestrator.Start, orchestrator.Stop)

	healer := reconciliation.NewEngine(reconciliation.Config{LeaseTTL: cfg.Reconciliation.LeaseTTL},
		gateway, localStore, breakers, discrepancyRepo, reportRepo, orchestrator, locker, alerts, log)
	healer.SetSyncMetrics(metrics)
	healer.SetEventLookup(eventRepo)
	if cfg.Storage.Enabled {
		archive, err := storage.NewS3ReportArchive(cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("report archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Warn("Report archive bucket check failed", zap.String("bucket", archive.Bucket()), zap.Error(err))
		}
		healer.SetArchive(archive)
	}

	webhooks, err := webhook.NewService(webhook.Config{
		Secret:    cfg.Webhook.Secret,
		DedupeTTL: cfg.Webhook.DedupeTTL,
	}, orchestrator, seen, bus, log)
	if err != nil {
		return nil, err
	}
	webhooks.SetSyncMetrics(metrics)

	syncScheduler := scheduler.NewSyncScheduler(orchestrator, log, scheduler.SyncSchedulerConfig{
		Enabled:  cfg.Sync.ScheduleEnabled,
		Interval: cfg.Sync.ScheduleInterval,
	})
	a.add("sync scheduler", syncScheduler.Start, syncScheduler.Stop)

	healingScheduler := scheduler.NewReconciliationScheduler(healer, log, scheduler.ReconciliationSchedulerConfig{
		Enabled:     cfg.Reconciliation.Enabled,
		Interval:    cfg.Reconciliation.Interval,
		PassTimeout: cfg.Reconciliation.LeaseTTL,
	})
	a.add("reconciliation scheduler", healingScheduler.Start, healingScheduler.Stop)

	health := scheduler.NewHealthMonitor(map[string]scheduler.CheckFunc{
		"database": func(context.Context) error { return db.Ping() },
		"zoho":     gateway.Ping,
	}, bus, log, scheduler.HealthMonitorConfig{
		Interval:     cfg.Realtime.HealthInterval,
		CheckTimeout: 5 * time.Second,
	})
	a.add("health monitor", health.Start, health.Stop)

	a.hub = handler.NewRealtimeHub(bus, handler.RealtimeHubConfig{
		MaxClients:        cfg.Realtime.MaxClients,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
	}, log)
	a.hub.SetOriginPatterns(cfg.HTTP.CORSAllowOrigins)

	a.engine = a.buildEngine(meters, router.Handlers{
		Sync:       handler.NewSyncHandler(orchestrator),
		Alerts:     handler.NewAlertHandler(alerts),
		DeadLetter: handler.NewDeadLetterHandler(deadLetters),
		Breakers:   handler.NewCircuitBreakerHandler(breakers),
		Healing:    handler.NewAutoHealingHandler(healer),
		Webhook:    handler.NewWebhookHandler(webhooks),
		System:     handler.NewSystemHandler(health, cfg.App.Name, Version),
		Realtime:   a.hub,
	})
	return a, nil
}

func (a *app) add(name string, start, stop func(context.Context) error) {
	a.components = append(a.components, lifecycle{name: name, start: start, stop: stop})
}

func (a *app) buildEngine(meters *telemetry.MeterProvider, h router.Handlers) *gin.Engine {
	cfg := a.cfg
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			a.log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled))
	engine.Use(logger.Recovery(a.log))
	engine.Use(logger.GinMiddleware(a.log))
	engine.Use(middleware.SpanStatus())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meters,
		Enabled:       cfg.Telemetry.MetricsEnabled,
	}))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP)))
	engine.Use(middleware.BodyLimitWithOverrides(cfg.HTTP.MaxBodySize, map[string]int64{
		"/api/v1/webhooks": cfg.Webhook.MaxBodySize,
	}))

	jwtService := auth.NewJWTService(cfg.JWT)
	guards := router.Guards{
		Authenticate: middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService: jwtService,
			Logger:     a.log,
		}),
		AuthenticateRealtime: middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
			JWTService:      jwtService,
			AllowQueryToken: true,
			Logger:          a.log,
		}),
		RequireOperator: middleware.RequireRole(auth.RoleOperator),
		Annotate:        middleware.SpanAnnotator(),
	}
	if cfg.HTTP.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		go limiter.RunCleanup(a.stopLimits)
		guards.RateLimit = middleware.RateLimit(limiter)
		a.log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	r := router.New(engine, "v1")
	router.RegisterAPI(r, h, guards)
	return engine
}

// start starts every component in order. A failure stops what already started.
func (a *app) start(ctx context.Context) error {
	for _, c := range a.components {
		if err := c.start(ctx); err != nil {
			a.stop(ctx)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		a.started = append(a.started, c)
		a.log.Debug("Component started", zap.String("component", c.name))
	}
	return nil
}

// stop stops started components in reverse order and closes shared resources.
func (a *app) stop(ctx context.Context) {
	for i := len(a.started) - 1; i >= 0; i-- {
		c := a.started[i]
		if err := c.stop(ctx); err != nil {
			a.log.Error("Error stopping component", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.started = nil

	select {
	case <-a.stopLimits:
	default:
		close(a.stopLimits)
	}
	if err := a.caches.Close(); err != nil {
		a.log.Error("Error closing redis", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.log.Error("Error closing database", zap.Error(err))
	}
}
