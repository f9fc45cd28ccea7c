// Package logger builds the zap loggers used across the sync engine and
// carries them through context.Context.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes one logger. Level is debug, info, warn, error or fatal;
// Format is json or console; Output is stdout, stderr or a file path.
type Config struct {
	Level      string
	Format     string
	Output     string
	TimeFormat string
	// Service, when set, is stamped on every entry.
	Service string
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console", Output: "stdout"}
}

func ProductionConfig() *Config {
	return &Config{Level: "info", Format: "json", Output: "stdout"}
}

// New builds a logger from cfg. Extra cores, such as the OpenTelemetry log
// bridge, receive every entry the primary core accepts at their own level.
func New(cfg *Config, extra ...zapcore.Core) (*zap.Logger, error) {
	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, err
	}

	cores := make([]zapcore.Core, 0, len(extra)+1)
	cores = append(cores, zapcore.NewCore(encoderFor(cfg), sink, parseLevel(cfg.Level)))
	cores = append(cores, extra...)

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}
	return l, nil
}

// NewForEnvironment returns a stdout logger for bootstrapping, before the
// configured one exists. Production gets JSON.
func NewForEnvironment(env string) (*zap.Logger, error) {
	if strings.EqualFold(env, "production") {
		return New(ProductionConfig())
	}
	return New(DefaultConfig())
}

func parseLevel(level string) zapcore.Level {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "warning" {
		lvl = "warn"
	}
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil || lvl == "" {
		return zapcore.InfoLevel
	}
	return parsed
}

func encoderFor(cfg *Config) zapcore.Encoder {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = isoMillis
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(layout)
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if strings.EqualFold(cfg.Format, "console") {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", output, err)
	}
	return zapcore.AddSync(f), nil
}

// Sync flushes buffered entries. Errors from syncing a terminal are expected
// and are the caller's to ignore.
func Sync(l *zap.Logger) error {
	return l.Sync()
}
