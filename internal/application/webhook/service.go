// Package webhook accepts Zoho change notifications and turns them into sync runs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appsync "github.com/erp/syncengine/internal/application/datasync"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Zoho-Webhook-Signature"

// DefaultDedupeTTL is how long a delivery id is remembered.
const DefaultDedupeTTL = 24 * time.Hour

const schemaURL = "zoho-webhook.json"

//go:embed schema.json
var schemaDoc []byte

// Webhook errors
var (
	ErrInvalidSignature = shared.NewDomainError("INVALID_SIGNATURE", "Webhook signature verification failed")
	ErrInvalidPayload   = shared.NewDomainError("INVALID_PAYLOAD", "Webhook payload does not match the expected schema")
)

// Submitter starts the runs a delivery asks for.
type Submitter interface {
	StartRun(ctx context.Context, in appsync.StartRunInput) (*appsync.StartRunResult, error)
	Resubmit(ctx context.Context, events ...*datasync.SyncEvent) (uuid.UUID, error)
}

// Config holds the webhook secret and dedupe window
type Config struct {
	Secret    string
	DedupeTTL time.Duration
}

// Delivery is a validated webhook body
type Delivery struct {
	DeliveryID string              `json:"delivery_id"`
	EntityType datasync.EntityType `json:"entity_type"`
	Operation  datasync.Operation  `json:"operation,omitempty"`
	EntityIDs  []string            `json:"entity_ids"`
	OccurredAt *time.Time          `json:"occurred_at,omitempty"`
}

// Received is the payload of webhook_received notifications
type Received struct {
	DeliveryID string              `json:"delivery_id"`
	EntityType datasync.EntityType `json:"entity_type"`
	Operation  datasync.Operation  `json:"operation"`
	Count      int                 `json:"count"`
	RunID      string              `json:"run_id"`
}

// Result describes how a delivery was handled
type Result struct {
	DeliveryID string    `json:"delivery_id"`
	RunID      uuid.UUID `json:"run_id"`
	Duplicate  bool      `json:"duplicate"`
}

// Service verifies, validates and dedupes deliveries before submitting work.
type Service struct {
	cfg       Config
	schema    *jsonschema.Schema
	runs      Submitter
	seen      shared.IdempotencyStore
	publisher shared.EventPublisher
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
}

// NewService creates a webhook service. seen may be nil to disable delivery dedupe.
func NewService(cfg Config, runs Submitter, seen shared.IdempotencyStore, publisher shared.EventPublisher, logger *zap.Logger) (*Service, error) {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		schema:    schema,
		runs:      runs,
		seen:      seen,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return schema, nil
}

// SetSyncMetrics sets the metrics recorder
func (s *Service) SetSyncMetrics(m *telemetry.SyncMetrics) {
	s.metrics = m
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature of body. A "sha256=" prefix is accepted.
func (s *Service) Verify(body []byte, signature string) bool {
	if s.cfg.Secret == "" || signature == "" {
		return false
	}
	signature = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	expected := Sign(s.cfg.Secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Parse validates body against the delivery schema and decodes it.
func (s *Service) Parse(body []byte) (*Delivery, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, ErrInvalidPayload.Wrap(err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, ErrInvalidPayload.Wrap(err)
	}
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, ErrInvalidPayload.Wrap(err)
	}
	if d.Operation == "" {
		d.Operation = datasync.OperationUpdate
	}
	d.EntityIDs = dedupeIDs(d.EntityIDs)
	return &d, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeKey(deliveryID string) string {
	return "webhook:zoho:" + deliveryID
}

// Receive handles one delivery end to end.
// A redelivered id is acknowledged without starting work.
func (s *Service) Receive(ctx context.Context, body []byte, signature string) (*Result, error) {
	log := logger.WithLogger(ctx, s.logger)

	if !s.Verify(body, signature) {
		s.metrics.Webhook(ctx, "rejected")
		log.Warn("Webhook signature rejected", zap.Int("body_size", len(body)))
		return nil, ErrInvalidSignature
	}
	d, err := s.Parse(body)
	if err != nil {
		s.metrics.Webhook(ctx, "invalid")
		log.Warn("Webhook payload rejected", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("delivery_id", d.DeliveryID))

	if s.seen != nil {
		processed, err := s.seen.IsProcessed(ctx, dedupeKey(d.DeliveryID))
		if err != nil {
			log.Warn("Webhook dedupe lookup failed, processing anyway", zap.Error(err))
		} else if processed {
			s.metrics.Webhook(ctx, "duplicate")
			log.Info("Duplicate webhook delivery ignored")
			return &Result{DeliveryID: d.DeliveryID, Duplicate: true}, nil
		}
	}

	runID, err := s.submit(ctx, d)
	if err != nil {
		s.metrics.Webhook(ctx, "failed")
		log.Error("Failed to submit webhook work", zap.Error(err))
		return nil, err
	}

	if s.seen != nil {
		if _, err := s.seen.MarkProcessed(ctx, dedupeKey(d.DeliveryID), s.cfg.DedupeTTL); err != nil {
			log.Warn("Failed to record webhook delivery", zap.Error(err))
		}
	}

	s.metrics.Webhook(ctx, "accepted")
	s.publisher.Publish(ctx, shared.EventWebhookReceived, Received{
		DeliveryID: d.DeliveryID,
		EntityType: d.EntityType,
		Operation:  d.Operation,
		Count:      len(d.EntityIDs),
		RunID:      runID.String(),
	})
	log.Info("Webhook delivery accepted",
		zap.String("entity_type", d.EntityType.String()),
		zap.String("operation", d.Operation.String()),
		zap.Int("entities", len(d.EntityIDs)),
		zap.String("run_id", runID.String()),
	)
	return &Result{DeliveryID: d.DeliveryID, RunID: runID}, nil
}

// submit starts a webhook run for the delivery. When a run of the type is
// already executing the events are resubmitted, which adds them to that run.
func (s *Service) submit(ctx context.Context, d *Delivery) (uuid.UUID, error) {
	et := d.EntityType
	in := appsync.StartRunInput{Trigger: datasync.RunTypeWebhook, EntityType: &et}
	if d.Operation == datasync.OperationUpdate {
		in.ExplicitIDs = d.EntityIDs
	} else {
		for _, id := range d.EntityIDs {
			in.Items = append(in.Items, appsync.WorkItem{
				EntityType: et,
				EntityID:   id,
				Operation:  d.Operation,
				Direction:  datasync.DirectionInbound,
			})
		}
	}

	res, err := s.runs.StartRun(ctx, in)
	if err == nil {
		return res.RunID, nil
	}
	if !errors.Is(err, datasync.ErrRunAlreadyInProgress) {
		return uuid.Nil, err
	}

	events := make([]*datasync.SyncEvent, 0, len(d.EntityIDs))
	for _, id := range d.EntityIDs {
		ev, err := datasync.NewSyncEvent(datasync.NewSyncEventInput{
			EntityType: et,
			EntityID:   id,
			Operation:  d.Operation,
			Direction:  datasync.DirectionInbound,
		})
		if err != nil {
			return uuid.Nil, err
		}
		events = append(events, ev)
	}
	return s.runs.Resubmit(ctx, events...)
}
