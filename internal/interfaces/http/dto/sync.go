package dto

import (
	"encoding/json"
	"time"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/deadletter"
)

// AllEntityTypesParam selects every entity type in POST /sync/{entity_type}
const AllEntityTypesParam = "all"

// TriggerSyncRequest is the optional body of a manual sync trigger
type TriggerSyncRequest struct {
	ItemIDs []string `json:"item_ids" binding:"omitempty,max=500,dive,required,max=128"`
}

// TriggerSyncResponse identifies the started run
type TriggerSyncResponse struct {
	RunID string `json:"run_id"`
}

// RunListRequest filters GET /runs
type RunListRequest struct {
	ListRequest
	Status     string `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	EntityType string `form:"entity_type" binding:"omitempty,entity_type"`
	RunType    string `form:"run_type" binding:"omitempty,oneof=manual scheduled webhook"`
}

// Filter converts the request into a repository filter
func (r RunListRequest) Filter() datasync.RunFilter {
	n := r.Normalized()
	f := datasync.RunFilter{SortBy: n.SortBy, SortOrder: n.SortOrder, Page: n.Page, PageSize: n.PageSize}
	if r.Status != "" {
		s := datasync.RunStatus(r.Status)
		f.Status = &s
	}
	if et, err := datasync.ParseEntityType(r.EntityType); err == nil {
		f.EntityType = &et
	}
	if r.RunType != "" {
		rt := datasync.RunType(r.RunType)
		f.RunType = &rt
	}
	return f
}

// RunResponse is the API view of a SyncRun
type RunResponse struct {
	ID              string     `json:"id"`
	RunType         string     `json:"run_type"`
	EntityType      string     `json:"entity_type"`
	WorkSet         string     `json:"work_set"`
	Status          string     `json:"status"`
	TotalEvents     int64      `json:"total_events"`
	ProcessedEvents int64      `json:"processed_events"`
	FailedEvents    int64      `json:"failed_events"`
	SkippedEvents   int64      `json:"skipped_events"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMs      int64      `json:"duration_ms"`
	WorkerID        string     `json:"worker_id,omitempty"`
	ErrorSummary    string     `json:"error_summary,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewRunResponse maps a run
func NewRunResponse(r datasync.SyncRun) RunResponse {
	return RunResponse{
		ID:              r.ID.String(),
		RunType:         r.RunType.String(),
		EntityType:      r.EntityKey(),
		WorkSet:         string(r.WorkSet),
		Status:          r.Status.String(),
		TotalEvents:     r.TotalEvents,
		ProcessedEvents: r.ProcessedEvents,
		FailedEvents:    r.FailedEvents,
		SkippedEvents:   r.SkippedEvents,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		DurationMs:      r.DurationMs,
		WorkerID:        r.WorkerID,
		ErrorSummary:    r.ErrorSummary,
		CreatedAt:       r.CreatedAt,
	}
}

// AlertListRequest filters GET /alerts
type AlertListRequest struct {
	ListRequest
	Severity string `form:"severity" binding:"omitempty,oneof=info warning error critical"`
	IsActive *bool  `form:"is_active"`
	Source   string `form:"source" binding:"omitempty,max=64"`
}

// Filter converts the request into a repository filter
func (r AlertListRequest) Filter() alert.Filter {
	n := r.Normalized()
	f := alert.Filter{IsActive: r.IsActive, Source: r.Source, SortBy: n.SortBy, SortOrder: n.SortOrder, Page: n.Page, PageSize: n.PageSize}
	if r.Severity != "" {
		s := alert.Severity(r.Severity)
		f.Severity = &s
	}
	return f
}

// AlertResponse is the API view of an alert
type AlertResponse struct {
	ID             string     `json:"id"`
	Severity       string     `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	DedupeKey      *string    `json:"dedupe_key,omitempty"`
	Source         string     `json:"source"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	Occurrences    int        `json:"occurrences"`
	IsActive       bool       `json:"is_active"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// NewAlertResponse maps an alert
func NewAlertResponse(a alert.Alert) AlertResponse {
	return AlertResponse{
		ID:             a.ID.String(),
		Severity:       a.Severity.String(),
		Title:          a.Title,
		Message:        a.Message,
		DedupeKey:      a.DedupeKey,
		Source:         a.Source,
		TriggeredAt:    a.TriggeredAt,
		LastSeenAt:     a.LastSeenAt,
		Occurrences:    a.Occurrences,
		IsActive:       a.IsActive,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

// DeadLetterListRequest filters GET /dead-letter
type DeadLetterListRequest struct {
	ListRequest
	Priority   string `form:"priority" binding:"omitempty,oneof=low normal high critical"`
	EntityType string `form:"entity_type" binding:"omitempty,entity_type"`
}

// Filter converts the request into a repository filter
func (r DeadLetterListRequest) Filter() deadletter.Filter {
	n := r.Normalized()
	f := deadletter.Filter{Page: n.Page, PageSize: n.PageSize}
	if r.Priority != "" {
		p := datasync.Priority(r.Priority)
		f.Priority = &p
	}
	if et, err := datasync.ParseEntityType(r.EntityType); err == nil {
		f.EntityType = &et
	}
	return f
}

// RequeueAllRequest is the optional body of POST /dead-letter/requeue-all
type RequeueAllRequest struct {
	Priority string `json:"priority" binding:"omitempty,oneof=low normal high critical"`
}

// DeadLetterItemResponse is the API view of a dead-letter item
type DeadLetterItemResponse struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	RunID          string          `json:"run_id"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Operation      string          `json:"operation"`
	Direction      string          `json:"direction"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
	Priority       string          `json:"priority"`
	FailureReason  string          `json:"failure_reason"`
	FirstFailedAt  time.Time       `json:"first_failed_at"`
	LastAttemptAt  time.Time       `json:"last_attempt_at"`
	RequeueCount   int             `json:"requeue_count"`
	FailedRequeues int             `json:"failed_requeues"`
	Escalated      bool            `json:"escalated"`
}

// NewDeadLetterItemResponse maps a dead-letter item
func NewDeadLetterItemResponse(i deadletter.Item) DeadLetterItemResponse {
	return DeadLetterItemResponse{
		ID:             i.ID.String(),
		EventID:        i.EventID.String(),
		RunID:          i.RunID.String(),
		EntityType:     i.EntityType.String(),
		EntityID:       i.EntityID,
		Operation:      i.Operation.String(),
		Direction:      string(i.Direction),
		Payload:        i.Payload,
		AttemptCount:   i.AttemptCount,
		Priority:       i.Priority.String(),
		FailureReason:  i.FailureReason,
		FirstFailedAt:  i.FirstFailedAt,
		LastAttemptAt:  i.LastAttemptAt,
		RequeueCount:   i.RequeueCount,
		FailedRequeues: i.FailedRequeues,
		Escalated:      i.Escalated,
	}
}
