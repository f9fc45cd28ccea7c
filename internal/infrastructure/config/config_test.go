package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "sync-engine", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, DriverPostgres, cfg.Database.Driver)
		assert.Equal(t, "syncengine", cfg.Database.DBName)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)

		assert.Equal(t, 4, cfg.Sync.Workers)
		assert.Equal(t, 5, cfg.Sync.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Sync.RetryBase)
		assert.Equal(t, 5*time.Minute, cfg.Sync.RetryCap)
		assert.Equal(t, 0.2, cfg.Sync.RetryJitter)
		assert.Equal(t, 60*time.Second, cfg.Breaker.Window)
		assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
		assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
		assert.Equal(t, 3, cfg.DeadLetter.EscalationThreshold)
		assert.Equal(t, 15*time.Minute, cfg.Alert.DedupeWindow)
		assert.Equal(t, 15*time.Minute, cfg.Reconciliation.Interval)
		assert.Equal(t, 64, cfg.Realtime.BufferSize)
		assert.False(t, cfg.ZohoConfigured())
	})

	t.Run("loads values from environment variables with SYNC prefix", func(t *testing.T) {
		t.Setenv("SYNC_APP_NAME", "test-app")
		t.Setenv("SYNC_DATABASE_DRIVER", "sqlite")
		t.Setenv("SYNC_DATABASE_SQLITE_PATH", "/tmp/test.db")
		t.Setenv("SYNC_SYNC_WORKERS", "8")
		t.Setenv("SYNC_BREAKER_FAILURE_THRESHOLD", "7")
		t.Setenv("SYNC_ALERT_DEDUPE_WINDOW", "5m")
		t.Setenv("SYNC_ZOHO_ORGANIZATION_ID", "org")
		t.Setenv("SYNC_ZOHO_CLIENT_ID", "client")
		t.Setenv("SYNC_ZOHO_REFRESH_TOKEN", "refresh")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "test-app", cfg.App.WorkerID)
		assert.Equal(t, DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, "/tmp/test.db", cfg.Database.DSN())
		assert.Equal(t, 8, cfg.Sync.Workers)
		assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
		assert.Equal(t, 5*time.Minute, cfg.Alert.DedupeWindow)
		assert.True(t, cfg.ZohoConfigured())
	})

	t.Run("rejects unknown database driver", func(t *testing.T) {
		t.Setenv("SYNC_DATABASE_DRIVER", "mysql")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.driver")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		t.Setenv("SYNC_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("SYNC_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("validates retry jitter range", func(t *testing.T) {
		t.Setenv("SYNC_SYNC_RETRY_JITTER", "1.5")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.retry_jitter")
	})

	t.Run("requires bucket when storage enabled", func(t *testing.T) {
		t.Setenv("SYNC_STORAGE_ENABLED", "true")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "storage.bucket")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	setValidProductionBase := func(t *testing.T) {
		t.Setenv("SYNC_APP_ENV", "production")
		t.Setenv("SYNC_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		t.Setenv("SYNC_WEBHOOK_SECRET", "webhook-secret")
		t.Setenv("SYNC_DATABASE_PASSWORD", "secure-password")
		t.Setenv("SYNC_DATABASE_SSLMODE", "require")
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		setValidProductionBase(t)
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"short jwt secret", map[string]string{"SYNC_JWT_SECRET": "short"}, "at least 32 characters"},
		{"missing webhook secret", map[string]string{"SYNC_WEBHOOK_SECRET": ""}, "webhook.secret is required"},
		{"sqlite in production", map[string]string{"SYNC_DATABASE_DRIVER": "sqlite"}, "must be postgres in production"},
		{"ssl disabled", map[string]string{"SYNC_DATABASE_SSLMODE": "disable"}, "sslmode cannot be 'disable'"},
		{"wildcard cors", map[string]string{"SYNC_HTTP_CORS_ALLOW_ORIGINS": "*"}, "cors_allow_origins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidProductionBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid postgres DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Driver:   DriverPostgres,
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "/testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass@word#123", DBName: "db", SSLMode: "disable"}
		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})

	t.Run("sqlite DSN is the file path", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: DriverSQLite, SQLitePath: "file::memory:?cache=shared"}
		assert.Equal(t, "file::memory:?cache=shared", cfg.DSN())
	})
}

func TestRedisConfig_Addr(t *testing.T) {
	assert.Equal(t, "redis:6380", RedisConfig{Host: "redis", Port: 6380}.Addr())
}
