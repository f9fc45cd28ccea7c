package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormConfig controls what the SQL logger emits.
type GormConfig struct {
	Level gormlogger.LogLevel
	// SlowThreshold raises statements slower than this to warn. Zero disables it.
	SlowThreshold time.Duration
	// LogNotFound logs gorm.ErrRecordNotFound as an error. Lookups for unknown
	// records are routine in sync, so it is off by default.
	LogNotFound bool
}

// DefaultGormConfig is warn level with a 200ms slow threshold.
func DefaultGormConfig() GormConfig {
	return GormConfig{Level: gormlogger.Warn, SlowThreshold: 200 * time.Millisecond}
}

// SQLLogger routes gorm statements into zap, tagged with the request, run and
// trace the statement ran under.
type SQLLogger struct {
	log *zap.Logger
	cfg GormConfig
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

func NewSQLLogger(log *zap.Logger, cfg GormConfig) *SQLLogger {
	return &SQLLogger{log: log.Named("sql"), cfg: cfg}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.cfg.Level = level
	return &cp
}

func (l *SQLLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.cfg.Level >= gormlogger.Info {
		l.log.Sugar().With(contextFields(ctx)...).Infof(msg, args...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.cfg.Level >= gormlogger.Warn {
		l.log.Sugar().With(contextFields(ctx)...).Warnf(msg, args...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.cfg.Level >= gormlogger.Error {
		l.log.Sugar().With(contextFields(ctx)...).Errorf(msg, args...)
	}
}

// Trace logs one statement. Failures go to error, slow statements to warn and
// everything else to debug when the level is info.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	if err != nil && !l.cfg.LogNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	var (
		lvl zapcore.Level
		msg string
	)
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error:
		lvl, msg = zapcore.ErrorLevel, "sql failed"
	case slow && l.cfg.Level >= gormlogger.Warn:
		lvl, msg = zapcore.WarnLevel, "slow sql"
	case err == nil && l.cfg.Level >= gormlogger.Info:
		lvl, msg = zapcore.DebugLevel, "sql"
	default:
		return
	}

	stmt, rows := fc()
	fields := append(contextFieldsZap(ctx),
		zap.String("sql", stmt),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)
	if slow {
		fields = append(fields, zap.Duration("slow_threshold", l.cfg.SlowThreshold))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := l.log.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func contextFieldsZap(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := GetRunID(ctx); v != "" {
		fields = append(fields, zap.String("run_id", v))
	}
	if v := GetTraceID(ctx); v != "" {
		fields = append(fields, zap.String("trace_id", v))
	}
	return fields
}

func contextFields(ctx context.Context) []any {
	zf := contextFieldsZap(ctx)
	out := make([]any, len(zf))
	for i, f := range zf {
		out[i] = f
	}
	return out
}

// ParseGormLevel maps the application log level onto gorm's. Debug and info
// both log every statement.
func ParseGormLevel(level string) gormlogger.LogLevel {
	levels := map[string]gormlogger.LogLevel{
		"silent": gormlogger.Silent,
		"error":  gormlogger.Error,
		"warn":   gormlogger.Warn,
		"info":   gormlogger.Info,
		"debug":  gormlogger.Info,
	}
	if lvl, ok := levels[level]; ok {
		return lvl
	}
	return gormlogger.Warn
}
