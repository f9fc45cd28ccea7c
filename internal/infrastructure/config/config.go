package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Zoho           ZohoConfig
	Sync           SyncConfig
	Breaker        BreakerConfig
	DeadLetter     DeadLetterConfig
	Alert          AlertConfig
	Reconciliation ReconciliationConfig
	Realtime       RealtimeConfig
	Webhook        WebhookConfig
	Storage        StorageConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name     string
	Env      string
	Port     string
	WorkerID string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret                  string
	AccessTokenExpiration   time.Duration
	OperatorTokenExpiration time.Duration
	Issuer                  string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
}

// ZohoConfig holds the Zoho API connection settings
type ZohoConfig struct {
	BaseURL           string
	AccountsURL       string
	OrganizationID    string
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	Burst             int
	PageSize          int
}

// SyncConfig holds orchestrator and processor settings
type SyncConfig struct {
	Workers          int
	QueueSize        int
	MaxAttempts      int
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryJitter      float64
	ScheduleEnabled  bool
	ScheduleInterval time.Duration
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	Window              time.Duration
	FailureThreshold    int
	Cooldown            time.Duration
	MaxCooldownMultiple int
}

// DeadLetterConfig holds dead-letter settings
type DeadLetterConfig struct {
	EscalationThreshold int
}

// AlertConfig holds alert settings
type AlertConfig struct {
	DedupeWindow time.Duration
}

// ReconciliationConfig holds auto-healing settings
type ReconciliationConfig struct {
	Enabled  bool
	Interval time.Duration
	LeaseTTL time.Duration
}

// RealtimeConfig holds websocket and SSE hub settings
type RealtimeConfig struct {
	BufferSize        int
	MaxClients        int
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration
}

// WebhookConfig holds Zoho webhook intake settings
type WebhookConfig struct {
	Secret      string
	DedupeTTL   time.Duration
	MaxBodySize int64
}

// StorageConfig holds S3-compatible report archive settings
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper builds the configuration from an already prepared viper instance.
// Environment overrides are enabled on v.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			Port:     v.GetString("app.port"),
			WorkerID: v.GetString("app.worker_id"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                  v.GetString("jwt.secret"),
			AccessTokenExpiration:   v.GetDuration("jwt.access_token_expiration"),
			OperatorTokenExpiration: v.GetDuration("jwt.operator_token_expiration"),
			Issuer:                  v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Zoho: ZohoConfig{
			BaseURL:           v.GetString("zoho.base_url"),
			AccountsURL:       v.GetString("zoho.accounts_url"),
			OrganizationID:    v.GetString("zoho.organization_id"),
			ClientID:          v.GetString("zoho.client_id"),
			ClientSecret:      v.GetString("zoho.client_secret"),
			RefreshToken:      v.GetString("zoho.refresh_token"),
			RequestTimeout:    v.GetDuration("zoho.request_timeout"),
			RequestsPerMinute: v.GetInt("zoho.requests_per_minute"),
			Burst:             v.GetInt("zoho.burst"),
			PageSize:          v.GetInt("zoho.page_size"),
		},
		Sync: SyncConfig{
			Workers:          v.GetInt("sync.workers"),
			QueueSize:        v.GetInt("sync.queue_size"),
			MaxAttempts:      v.GetInt("sync.max_attempts"),
			RetryBase:        v.GetDuration("sync.retry_base"),
			RetryCap:         v.GetDuration("sync.retry_cap"),
			RetryJitter:      v.GetFloat64("sync.retry_jitter"),
			ScheduleEnabled:  v.GetBool("sync.schedule_enabled"),
			ScheduleInterval: v.GetDuration("sync.schedule_interval"),
		},
		Breaker: BreakerConfig{
			Window:              v.GetDuration("breaker.window"),
			FailureThreshold:    v.GetInt("breaker.failure_threshold"),
			Cooldown:            v.GetDuration("breaker.cooldown"),
			MaxCooldownMultiple: v.GetInt("breaker.max_cooldown_multiple"),
		},
		DeadLetter: DeadLetterConfig{
			EscalationThreshold: v.GetInt("deadletter.escalation_threshold"),
		},
		Alert: AlertConfig{
			DedupeWindow: v.GetDuration("alert.dedupe_window"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:  v.GetBool("reconciliation.enabled"),
			Interval: v.GetDuration("reconciliation.interval"),
			LeaseTTL: v.GetDuration("reconciliation.lease_ttl"),
		},
		Realtime: RealtimeConfig{
			BufferSize:        v.GetInt("realtime.buffer_size"),
			MaxClients:        v.GetInt("realtime.max_clients"),
			HeartbeatInterval: v.GetDuration("realtime.heartbeat_interval"),
			HealthInterval:    v.GetDuration("realtime.health_interval"),
		},
		Webhook: WebhookConfig{
			Secret:      v.GetString("webhook.secret"),
			DedupeTTL:   v.GetDuration("webhook.dedupe_ttl"),
			MaxBodySize: v.GetInt64("webhook.max_body_size"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sync-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.WorkerID == "" {
		cfg.App.WorkerID = cfg.App.Name
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "syncengine"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "syncengine.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.OperatorTokenExpiration == 0 {
		cfg.JWT.OperatorTokenExpiration = 24 * time.Hour
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "sync-engine"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// An empty origin list allows no cross-origin requests until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Zoho.RequestTimeout == 0 {
		cfg.Zoho.RequestTimeout = 30 * time.Second
	}
	if cfg.Zoho.RequestsPerMinute == 0 {
		cfg.Zoho.RequestsPerMinute = 100
	}
	if cfg.Zoho.Burst == 0 {
		cfg.Zoho.Burst = 10
	}
	if cfg.Zoho.PageSize == 0 {
		cfg.Zoho.PageSize = 200
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 256
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.RetryBase == 0 {
		cfg.Sync.RetryBase = time.Second
	}
	if cfg.Sync.RetryCap == 0 {
		cfg.Sync.RetryCap = 5 * time.Minute
	}
	if cfg.Sync.RetryJitter == 0 {
		cfg.Sync.RetryJitter = 0.2
	}
	if cfg.Sync.ScheduleInterval == 0 {
		cfg.Sync.ScheduleInterval = time.Hour
	}
	if cfg.Breaker.Window == 0 {
		cfg.Breaker.Window = 60 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 30 * time.Second
	}
	if cfg.Breaker.MaxCooldownMultiple == 0 {
		cfg.Breaker.MaxCooldownMultiple = 10
	}
	if cfg.DeadLetter.EscalationThreshold == 0 {
		cfg.DeadLetter.EscalationThreshold = 3
	}
	if cfg.Alert.DedupeWindow == 0 {
		cfg.Alert.DedupeWindow = 15 * time.Minute
	}
	if cfg.Reconciliation.Interval == 0 {
		cfg.Reconciliation.Interval = 15 * time.Minute
	}
	if cfg.Reconciliation.LeaseTTL == 0 {
		cfg.Reconciliation.LeaseTTL = 10 * time.Minute
	}
	if cfg.Realtime.BufferSize == 0 {
		cfg.Realtime.BufferSize = 64
	}
	if cfg.Realtime.MaxClients == 0 {
		cfg.Realtime.MaxClients = 100
	}
	if cfg.Realtime.HeartbeatInterval == 0 {
		cfg.Realtime.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Realtime.HealthInterval == 0 {
		cfg.Realtime.HealthInterval = 30 * time.Second
	}
	if cfg.Webhook.DedupeTTL == 0 {
		cfg.Webhook.DedupeTTL = 24 * time.Hour
	}
	if cfg.Webhook.MaxBodySize == 0 {
		cfg.Webhook.MaxBodySize = 1 << 20
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "reconciliation-reports"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sync-engine"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.RetryJitter < 0 || c.Sync.RetryJitter > 1 {
		return fmt.Errorf("sync.retry_jitter must be between 0 and 1, got %f", c.Sync.RetryJitter)
	}
	if c.Sync.RetryCap < c.Sync.RetryBase {
		return fmt.Errorf("sync.retry_cap (%s) cannot be below sync.retry_base (%s)", c.Sync.RetryCap, c.Sync.RetryBase)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required in production")
		}
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// ZohoConfigured reports whether Zoho credentials are present
func (c *Config) ZohoConfigured() bool {
	return c.Zoho.OrganizationID != "" && c.Zoho.ClientID != "" && c.Zoho.RefreshToken != ""
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
