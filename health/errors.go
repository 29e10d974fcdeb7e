package health

import "fmt"

// InvalidInputError reports a record field outside its accepted domain.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func invalid(field string, value any, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}

// NewInvalidInput is used by callers that detect a domain violation outside
// Record.Validate, such as a label missing from a persisted encoding.
func NewInvalidInput(field, value, reason string) *InvalidInputError {
	return &InvalidInputError{Field: field, Value: value, Reason: reason}
}
