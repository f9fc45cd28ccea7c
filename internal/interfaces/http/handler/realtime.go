package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Control frames sent alongside bus messages
const (
	FrameConnected shared.EventType = "connected"
	FrameHeartbeat shared.EventType = "heartbeat"
)

var errHubFull = errors.New("realtime: maximum number of connections reached")

// RealtimeHubConfig holds hub limits
type RealtimeHubConfig struct {
	MaxClients        int
	HeartbeatInterval time.Duration
}

// RealtimeHub admits websocket and SSE clients and gives each its own bus
// subscription for the lifetime of the connection.
type RealtimeHub struct {
	BaseHandler
	bus            shared.EventSubscriber
	logger         *zap.Logger
	cfg            RealtimeHubConfig
	originPatterns []string

	mu      sync.Mutex
	clients map[string]*realtimeClient

	closed    chan struct{}
	closeOnce sync.Once
}

type realtimeClient struct {
	id          string
	subject     string
	transport   string
	sub         shared.Subscription
	connectedAt time.Time
}

// NewRealtimeHub creates a hub over bus
func NewRealtimeHub(bus shared.EventSubscriber, cfg RealtimeHubConfig, logger *zap.Logger) *RealtimeHub {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 1000
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHub{
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		clients: make(map[string]*realtimeClient),
		closed:  make(chan struct{}),
	}
}

// SetOriginPatterns lists the browser origins allowed to open a websocket
func (h *RealtimeHub) SetOriginPatterns(patterns []string) {
	h.originPatterns = patterns
}

// ClientCount returns the number of connected clients
func (h *RealtimeHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *RealtimeHub) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.logger.Info("Realtime hub closed")
	})
}

func (h *RealtimeHub) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// join registers a client and subscribes it to the bus
func (h *RealtimeHub) join(subject, transport string, types []shared.EventType) (*realtimeClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.cfg.MaxClients {
		return nil, errHubFull
	}
	cl := &realtimeClient{
		id:          uuid.NewString(),
		subject:     subject,
		transport:   transport,
		sub:         h.bus.Subscribe(types...),
		connectedAt: time.Now(),
	}
	h.clients[cl.id] = cl
	h.logger.Info("Realtime client connected",
		zap.String("client_id", cl.id),
		zap.String("subject", subject),
		zap.String("transport", transport),
		zap.Int("clients", len(h.clients)),
	)
	return cl, nil
}

// leave unsubscribes the client and forgets it
func (h *RealtimeHub) leave(cl *realtimeClient) {
	h.bus.Unsubscribe(cl.sub)
	h.mu.Lock()
	delete(h.clients, cl.id)
	remaining := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Realtime client disconnected",
		zap.String("client_id", cl.id),
		zap.String("transport", cl.transport),
		zap.Duration("connected_for", time.Since(cl.connectedAt)),
		zap.Uint64("dropped", cl.sub.Dropped()),
		zap.Int("clients", remaining),
	)
}

// admit parses the requested types and joins, writing the error response itself
func (h *RealtimeHub) admit(c *gin.Context, transport string) (*realtimeClient, bool) {
	if h.isClosed() {
		h.ServiceUnavailable(c, "Realtime channel is shutting down")
		return nil, false
	}
	types, err := parseEventTypes(c.Query("types"))
	if err != nil {
		h.BadRequest(c, "Invalid types filter: "+err.Error())
		return nil, false
	}
	cl, err := h.join(middleware.GetJWTSubject(c), transport, types)
	if err != nil {
		h.Error(c, http.StatusServiceUnavailable, "MAX_CONNECTIONS_REACHED", "Maximum number of realtime connections reached")
		return nil, false
	}
	return cl, true
}

// parseEventTypes reads a comma separated type filter. Empty means all types.
func parseEventTypes(raw string) ([]shared.EventType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []shared.EventType
	for _, part := range strings.Split(raw, ",") {
		t := shared.EventType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		out = append(out, t)
	}
	return out, nil
}

func heartbeatFrame() shared.Message {
	return shared.Message{Type: FrameHeartbeat, OccurredAt: time.Now().UTC()}
}

func connectedFrame(cl *realtimeClient) shared.Message {
	return shared.Message{
		Type:       FrameConnected,
		Payload:    gin.H{"client_id": cl.id},
		OccurredAt: time.Now().UTC(),
	}
}
