package normalize

import "fmt"

// Rule names a validation rule a source row can violate.
type Rule string

const (
	RuleUnknownMapping      Rule = "unknown_mapping"
	RuleMissingNumber       Rule = "missing_number"
	RuleInvalidNumber       Rule = "invalid_number"
	RuleInvalidDuration     Rule = "invalid_duration"
	RuleInvalidTimestamp    Rule = "invalid_timestamp"
	RuleTimestampOutOfRange Rule = "timestamp_out_of_range"
	RuleEndBeforeStart      Rule = "invalid_end_before_start"
	RuleEmptyCell           Rule = "empty_cell"
	RuleMissingCell         Rule = "missing_cell"
	RuleInvalidBytes        Rule = "invalid_bytes"
	RuleInvalidCoordinates  Rule = "invalid_coordinates"
	RuleInvalidSequence     Rule = "invalid_sequence"
	RuleInvalidSignal       Rule = "invalid_signal"
)

// ValidationError reports one violated rule for one source row. Row is
// filled in by the caller, which knows the row's position in the file.
type ValidationError struct {
	Row     int    `json:"row,omitempty"`
	Rule    Rule   `json:"rule"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s (%s): %s", e.Row, e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Rule, e.Field, e.Message)
}

type violations []ValidationError

func (v *violations) add(rule Rule, field, format string, args ...any) {
	*v = append(*v, ValidationError{Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)})
}
