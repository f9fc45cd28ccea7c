package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/breaker"
	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// recorded is one request seen by the fake server
type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type fakeServer struct {
	*httptest.Server
	requests []recorded
}

func newFakeServer(t *testing.T, routes map[string]http.HandlerFunc) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		fs.requests = append(fs.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(raw),
		})
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			writeEnvelope(w, http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "no route"))
			return
		}
		h(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func writeEnvelope(w http.ResponseWriter, status int, body dto.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(status int, data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, status, dto.NewSuccessResponse(data))
	}
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", server, "--token", "tok-1"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunsList(t *testing.T) {
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	runs := []dto.RunResponse{{
		ID: "run-1", RunType: "manual", EntityType: "product", Status: "running",
		TotalEvents: 10, ProcessedEvents: 4, FailedEvents: 1, StartedAt: &started,
	}}
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/runs": func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, dto.NewSuccessResponseWithMeta(runs, 1, 1, 20))
		},
	})

	out, err := execute(t, fs.URL, "runs", "list", "--status", "running", "--page-size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "4/10")
	assert.Contains(t, out, "1 total")

	require.Len(t, fs.requests, 1)
	assert.Equal(t, "Bearer tok-1", fs.requests[0].Auth)
	assert.Contains(t, fs.requests[0].Query, "status=running")
	assert.Contains(t, fs.requests[0].Query, "page_size=5")
	assert.NotContains(t, fs.requests[0].Query, "entity_type")
}

func TestRunsTrigger(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/sync/product": ok(http.StatusAccepted, dto.TriggerSyncResponse{RunID: "run-9"}),
	})

	out, err := execute(t, fs.URL, "runs", "trigger", "product", "--id", "a", "--id", "b")
	require.NoError(t, err)
	assert.Equal(t, "Run run-9 started\n", out)

	var body dto.TriggerSyncRequest
	require.NoError(t, json.Unmarshal([]byte(fs.requests[0].Body), &body))
	assert.Equal(t, []string{"a", "b"}, body.ItemIDs)
}

func TestRunsGet_JSON(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/runs/run-2": ok(http.StatusOK, dto.RunResponse{ID: "run-2", Status: "completed"}),
	})

	out, err := execute(t, fs.URL, "--json", "runs", "get", "run-2")
	require.NoError(t, err)
	var got dto.RunResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "completed", got.Status)
}

func TestAPIErrorsSurface(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/runs/run-3/cancel": func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusForbidden, dto.NewErrorResponse(dto.ErrCodeForbidden, "operator role required"))
		},
	})

	_, err := execute(t, fs.URL, "runs", "cancel", "run-3")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Contains(t, err.Error(), "operator role required")
}

func TestAlerts(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/alerts": func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, dto.NewSuccessResponseWithMeta([]dto.AlertResponse{
				{ID: "al-1", Severity: "critical", Title: "Breaker open", Source: "breaker", Occurrences: 3, IsActive: true},
			}, 1, 1, 20))
		},
		"POST /api/v1/alerts/al-1/acknowledge": ok(http.StatusOK, dto.AlertResponse{
			ID: "al-1", Title: "Breaker open", Acknowledged: true, AcknowledgedBy: "ops@example.com",
		}),
	})

	out, err := execute(t, fs.URL, "alerts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Breaker open")
	assert.Contains(t, fs.requests[0].Query, "is_active=true")

	out, err = execute(t, fs.URL, "alerts", "list", "--all")
	require.NoError(t, err)
	assert.NotContains(t, fs.requests[1].Query, "is_active")

	out, err = execute(t, fs.URL, "alerts", "ack", "al-1")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com")
}

func TestDeadLetter(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/dead-letter/requeue-all": ok(http.StatusAccepted, map[string]any{"requeued": 4, "run_id": "5d8c7c4e-8b2e-4ec8-9d8f-2f7d6c2c9b11"}),
		"POST /api/v1/dead-letter/dl-1/requeue": ok(http.StatusAccepted, map[string]any{
			"item_id": "0b8e3c54-2b0b-4f8f-8d4c-1f1f1f1f1f1f", "event_id": "1b8e3c54-2b0b-4f8f-8d4c-1f1f1f1f1f1f", "run_id": "2b8e3c54-2b0b-4f8f-8d4c-1f1f1f1f1f1f",
		}),
		"DELETE /api/v1/dead-letter/dl-1": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	})

	out, err := execute(t, fs.URL, "deadletter", "requeue", "--all", "--priority", "high")
	require.NoError(t, err)
	assert.Contains(t, out, "Requeued 4 items")
	assert.JSONEq(t, `{"priority":"high"}`, fs.requests[0].Body)

	out, err = execute(t, fs.URL, "dl", "requeue", "dl-1")
	require.NoError(t, err)
	assert.Contains(t, out, "as event 1b8e3c54")

	_, err = execute(t, fs.URL, "deadletter", "requeue")
	assert.Error(t, err, "an item id is required without --all")

	out, err = execute(t, fs.URL, "deadletter", "purge", "dl-1")
	require.NoError(t, err)
	assert.Equal(t, "Purged item dl-1\n", out)
}

func TestBreakers(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/circuit-breakers": ok(http.StatusOK, []breaker.Status{
			{Name: breaker.NameZohoAPI, State: breaker.StateOpen, FailureCount: 5, FailureThreshold: 5, LastError: "502"},
		}),
		"POST /api/v1/circuit-breakers/zoho_api/reset": ok(http.StatusOK, breaker.Status{Name: breaker.NameZohoAPI, State: breaker.StateClosed}),
	})

	out, err := execute(t, fs.URL, "breakers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "zoho_api")
	assert.Contains(t, out, string(breaker.StateOpen))

	out, err = execute(t, fs.URL, "breakers", "reset", "zoho_api")
	require.NoError(t, err)
	assert.Contains(t, out, string(breaker.StateClosed))
}

func TestHealing(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/auto-healing/stats": ok(http.StatusOK, map[string]any{"passes": 7, "auto_corrected": 12, "last_score": 97.5}),
		"POST /api/v1/auto-healing/run": ok(http.StatusOK, map[string]any{
			"stats":              []map[string]any{{"entity_type": "product", "zoho_total": 10, "local_total": 9, "matching": 9, "missing_in_local": 1, "match_percentage": 90}},
			"data_quality_score": 90, "auto_corrected": 1,
		}),
	})

	out, err := execute(t, fs.URL, "healing", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "97.5")

	out, err = execute(t, fs.URL, "healing", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "90.0%")
	assert.Contains(t, out, "Score 90.0, 1 auto-corrected")
}

func TestWatch(t *testing.T) {
	var gotAuth, gotTypes string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTypes = r.URL.Query().Get("types")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, map[string]any{"type": "connected", "payload": map[string]string{"client_id": "c1"}})
		_ = wsjson.Write(ctx, conn, map[string]any{"type": "heartbeat"})
		_ = wsjson.Write(ctx, conn, map[string]any{"type": "sync_progress", "payload": map[string]int{"processed": 3}})
		// The client closes after its limit; wait for that.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, srv.URL, "watch", "--types", "sync_progress,alert_created", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "sync_progress,alert_created", gotTypes)
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, `{"processed":3}`)
	assert.NotContains(t, out, "heartbeat")
}

func TestWatch_Refused(t *testing.T) {
	fs := newFakeServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/realtime/ws": func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusUnauthorized, dto.NewErrorResponse(dto.ErrCodeUnauthorized, "missing token"))
		},
	})
	_, err := execute(t, fs.URL, "watch")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestToken(t *testing.T) {
	secret := "syncctl-test-secret-that-is-long-enough"
	t.Setenv("SYNC_JWT_SECRET", secret)
	t.Setenv("SYNC_JWT_ISSUER", "syncctl-test")

	out, err := execute(t, "http://unused", "token", "--subject", "ops@example.com", "--role", "viewer", "--ttl", "1h", "--raw")
	require.NoError(t, err)

	claims, err := auth.NewJWTService(config.JWTConfig{Secret: secret, Issuer: "syncctl-test"}).
		ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, auth.RoleViewer, claims.Role)

	_, err = execute(t, "http://unused", "token", "--subject", "x", "--role", "admin")
	assert.ErrorIs(t, err, auth.ErrInvalidRole)

	_, err = execute(t, "http://unused", "token")
	assert.Error(t, err, "subject is required")
}

func TestNewAPIClient(t *testing.T) {
	_, err := newAPIClient("ftp://host", "", time.Second)
	assert.Error(t, err)

	c, err := newAPIClient("https://sync.example.com/base/", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com/base/api/v1/runs", c.endpoint("/runs", nil))
	assert.Equal(t, "wss://sync.example.com/base/api/v1/realtime/ws?types=a", c.websocketURL("/realtime/ws", map[string][]string{"types": {"a"}}))
}
