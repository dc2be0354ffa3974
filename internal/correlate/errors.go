package correlate

import (
	"errors"
	"fmt"
)

// InputReason classifies a rejected correlation request.
type InputReason string

const (
	ReasonMissionNotFound InputReason = "mission_not_found"
	ReasonInvalidWindow   InputReason = "invalid_window"
	ReasonInvalidMission  InputReason = "invalid_mission"
)

// InputError rejects a correlation request before any computation.
type InputError struct {
	Reason  InputReason
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("correlate: %s: %s", e.Reason, e.Message)
}

func inputError(reason InputReason, format string, args ...any) *InputError {
	return &InputError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsInputError returns the InputError in err's chain, if any.
func AsInputError(err error) (*InputError, bool) {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
