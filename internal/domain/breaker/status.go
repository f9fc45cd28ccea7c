// Package breaker models circuit breaker state for outbound dependencies.
package breaker

import (
	"context"
	"time"
)

// Names of the breakers guarding Zoho calls.
const (
	NameZohoAPI           = "zoho_api"
	NameZohoInventoryPush = "zoho_inventory_push"
)

// State is the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// IsValid checks if the state is valid
func (s State) IsValid() bool {
	switch s {
	case StateClosed, StateOpen, StateHalfOpen:
		return true
	}
	return false
}

// String returns the string representation
func (s State) String() string {
	return string(s)
}

// Status is the persisted snapshot of one breaker.
// NextRetryAt is a stored deadline so an open breaker stays open across restarts.
type Status struct {
	Name             string     `json:"name"`
	State            State      `json:"state"`
	FailureCount     int        `json:"failure_count"`
	FailureThreshold int        `json:"failure_threshold"`
	ConsecutiveTrips int        `json:"consecutive_trips"`
	LastStateChange  time.Time  `json:"last_state_change"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// Transition describes one state change, published to real-time clients.
type Transition struct {
	Name         string    `json:"name"`
	From         State     `json:"from"`
	To           State     `json:"to"`
	FailureCount int       `json:"failure_count"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// Repository persists breaker status.
type Repository interface {
	// Save upserts the status keyed by name
	Save(ctx context.Context, status Status) error
	// FindAll returns every stored status
	FindAll(ctx context.Context) ([]Status, error)
}
