package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observedSQL(cfg GormConfig) (*SQLLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), cfg), recorded
}

func stmt(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestSQLLogger_TagsRunAndRequest(t *testing.T) {
	l, recorded := observedSQL(GormConfig{Level: gormlogger.Info})
	ctx := WithRunID(WithRequestIDValue(context.Background(), "req-1"), "run-1")

	l.Trace(ctx, time.Now(), stmt("SELECT 1", 1), nil)

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sql", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "SELECT 1", fields["sql"])
}

func TestSQLLogger_FailureIsError(t *testing.T) {
	l, recorded := observedSQL(DefaultGormConfig())
	l.Trace(context.Background(), time.Now(), stmt("INSERT", 0), errors.New("constraint"))

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "constraint", entries[0].ContextMap()["error"])
}

func TestSQLLogger_NotFound(t *testing.T) {
	l, recorded := observedSQL(DefaultGormConfig())
	l.Trace(context.Background(), time.Now(), stmt("SELECT", 0), gormlogger.ErrRecordNotFound)
	assert.Empty(t, recorded.All())

	cfg := DefaultGormConfig()
	cfg.LogNotFound = true
	loud, loudRecorded := observedSQL(cfg)
	loud.Trace(context.Background(), time.Now(), stmt("SELECT", 0), gormlogger.ErrRecordNotFound)
	assert.Len(t, loudRecorded.All(), 1)
}

func TestSQLLogger_SlowStatement(t *testing.T) {
	l, recorded := observedSQL(GormConfig{Level: gormlogger.Warn, SlowThreshold: time.Millisecond})
	l.Trace(context.Background(), time.Now().Add(-time.Second), stmt("SELECT pg_sleep(1)", 1), nil)

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow sql", entries[0].Message)
}

func TestSQLLogger_WarnLevelSkipsFastStatements(t *testing.T) {
	l, recorded := observedSQL(DefaultGormConfig())
	l.Trace(context.Background(), time.Now(), stmt("SELECT 1", 1), nil)
	assert.Empty(t, recorded.All())
}

func TestSQLLogger_SilentAndLogMode(t *testing.T) {
	l, recorded := observedSQL(GormConfig{Level: gormlogger.Silent})
	l.Trace(context.Background(), time.Now(), stmt("SELECT", 1), errors.New("x"))
	assert.Empty(t, recorded.All())

	loud := l.LogMode(gormlogger.Info)
	loud.Info(context.Background(), "migrated %d tables", 3)
	assert.Len(t, recorded.All(), 1)
	assert.Equal(t, gormlogger.Silent, l.cfg.Level)
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, ParseGormLevel("silent"))
	assert.Equal(t, gormlogger.Error, ParseGormLevel("error"))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel("warn"))
	assert.Equal(t, gormlogger.Info, ParseGormLevel("debug"))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel(""))
}
