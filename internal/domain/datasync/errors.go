package datasync

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
)

// Sentinel errors
var (
	ErrInvalidEntityType = errors.New("datasync: invalid entity type")
	ErrInvalidRunType    = errors.New("datasync: invalid run type")
	ErrInvalidOperation  = errors.New("datasync: invalid operation")
	ErrRunNotFound       = shared.NewDomainError("NOT_FOUND", "Sync run not found")
	ErrEventNotFound     = shared.NewDomainError("NOT_FOUND", "Sync event not found")
	ErrRecordNotFound    = errors.New("datasync: record not found")
	ErrRunNotCancellable = shared.NewDomainError("INVALID_STATE", "Sync run is not running")
	ErrRunTransition     = shared.NewDomainError("INVALID_STATE", "Sync run cannot move to the requested status")

	// ErrRunAlreadyInProgress rejects a trigger while another Run for the same entity type is running.
	ErrRunAlreadyInProgress = shared.NewDomainError("RUN_ALREADY_IN_PROGRESS", "A sync run for this entity type is already in progress")
)

// TransientExternalError is a retryable failure talking to the external platform
// (timeout, 5xx, rate limiting, network).
type TransientExternalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientExternalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient external error: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient external error: %s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// PermanentExternalError is a failure that will not succeed on retry (404, validation).
type PermanentExternalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentExternalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent external error: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent external error: %s: %v", e.Op, e.Err)
}

func (e *PermanentExternalError) Unwrap() error { return e.Err }

// BreakerOpenError is returned when a call was short-circuited by an open circuit breaker.
type BreakerOpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// StorageError is a local write failure. It is always retried, never dropped.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError. A nil err returns nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientExternalError
	var se *StorageError
	return errors.As(err, &te) || errors.As(err, &se)
}

// IsPermanent reports whether err must go straight to the dead-letter store.
func IsPermanent(err error) bool {
	var pe *PermanentExternalError
	return errors.As(err, &pe)
}

// IsBreakerOpen reports whether err is a short-circuited call, returning the breaker error.
func IsBreakerOpen(err error) (*BreakerOpenError, bool) {
	var be *BreakerOpenError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsExternalFailure reports whether err counts against a circuit breaker.
// Permanent errors are the caller's fault and do not trip the breaker.
func IsExternalFailure(err error) bool {
	var te *TransientExternalError
	return errors.As(err, &te)
}
