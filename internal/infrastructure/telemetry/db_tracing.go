package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DBTracingConfigFrom maps the application telemetry section.
func DBTracingConfigFrom(cfg config.TelemetryConfig, driver string) DBTracingConfig {
	system := "postgresql"
	if driver == "sqlite" {
		system = "sqlite"
	}
	return DBTracingConfig{
		Enabled:         cfg.Enabled && cfg.DBTraceEnabled,
		LogFullSQL:      cfg.DBLogFullSQL,
		SlowQueryThresh: cfg.DBSlowQueryThresh,
		DBSystem:        system,
	}
}

type queryStartKey struct{}

// RegisterDBTracing installs otelgorm on db plus a callback that flags slow statements on their span.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = defaultSlowQuery
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	slow := &slowQueryMarker{thresh: cfg.SlowQueryThresh}
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("slow_query:before_create", slow.before); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("slow_query:before_query", slow.before); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("slow_query:before_update", slow.before); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("slow_query:before_delete", slow.before); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("slow_query:before_raw", slow.before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("slow_query:after_create", slow.after); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("slow_query:after_query", slow.after); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("slow_query:after_update", slow.after); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("slow_query:after_delete", slow.after); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("slow_query:after_raw", slow.after); err != nil {
		return err
	}

	logger.Info("database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

type slowQueryMarker struct {
	thresh time.Duration
}

func (s *slowQueryMarker) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (s *slowQueryMarker) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		RecordError(span, db.Error)
	}
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > s.thresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
	}
}
