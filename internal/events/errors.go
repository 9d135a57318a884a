package events

import (
	"errors"
	"strings"
)

var (
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed event payload")
)

// FieldError names one failing field. Field is a dotted path ("geoLocation.city");
// it is empty when the input as a whole is rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationError collects every field-level failure of one input.
// It matches ErrSchemaValidation, and ErrUnknownEventType when the tag was not recognised.
type ValidationError struct {
	Errors      []FieldError `json:"errors"`
	unknownType bool
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrSchemaValidation:
		return true
	case ErrUnknownEventType:
		return e.unknownType
	}
	return false
}

func (e *ValidationError) add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// HasField reports whether field failed validation.
func (e *ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Fields returns the failing field paths in report order.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		out = append(out, fe.Field)
	}
	return out
}
