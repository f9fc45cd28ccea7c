package shared

// DomainError is a business failure with a stable code. The HTTP layer maps
// codes to statuses, so callers match with errors.Is against a sentinel and
// two errors with the same code are the same failure.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Code == t.Code
}

func (e *DomainError) Unwrap() error { return e.cause }

// Wrap returns a copy carrying cause. The message shown to API clients is unchanged.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, cause: cause}
}

// PublicMessage is the message without the cause, safe to return to clients.
func (e *DomainError) PublicMessage() string { return e.Message }
