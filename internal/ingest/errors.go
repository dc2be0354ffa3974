package ingest

import (
	"errors"
	"fmt"
)

// Reason classifies a systemic batch failure.
type Reason string

const (
	ReasonSourceUnreadable   Reason = "source_unreadable"
	ReasonStorageUnavailable Reason = "storage_unavailable"
	ReasonErrorCeiling       Reason = "error_ceiling"
	ReasonCancelled          Reason = "cancelled"
)

// SystemicError aborts the remainder of a batch and marks it failed. Chunks
// committed before it stay persisted.
type SystemicError struct {
	Reason Reason
	Cause  error
}

func (e *SystemicError) Error() string {
	if e.Cause == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
}

func (e *SystemicError) Unwrap() error {
	return e.Cause
}

func systemic(reason Reason, cause error) *SystemicError {
	return &SystemicError{Reason: reason, Cause: cause}
}

// AsSystemic returns the SystemicError in err's chain, if any.
func AsSystemic(err error) (*SystemicError, bool) {
	var se *SystemicError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
