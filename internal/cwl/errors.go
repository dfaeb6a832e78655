package cwl

import "fmt"

// ParseError reports a failure to load or schema-normalize a document:
// malformed YAML/JSON, an unsupported cwlVersion, a missing required
// field, or a type specification that does not parse (spec §7).
type ParseError struct {
	Message string
	Cause   error
}

// NewParseError builds a ParseError, optionally wrapping a cause.
func NewParseError(message string, cause error) *ParseError {
	return &ParseError{Message: message, Cause: cause}
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// InspectionError reports any failure after a document has loaded
// successfully: an unresolvable path, a type mismatch during coercion, an
// expression evaluation failure, or a reference to an unsupported feature
// (spec §7).
type InspectionError struct {
	Message string
	Path    string // the navigator path or input id involved, if any
	Cause   error
}

// NewInspectionError builds an InspectionError, optionally wrapping a cause.
func NewInspectionError(message string, cause error) *InspectionError {
	return &InspectionError{Message: message, Cause: cause}
}

// WithPath attaches a path/id to the error for context and returns it.
func (e *InspectionError) WithPath(path string) *InspectionError {
	e.Path = path
	return e
}

func (e *InspectionError) Error() string {
	prefix := "inspection error"
	if e.Path != "" {
		prefix = fmt.Sprintf("inspection error at %s", e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *InspectionError) Unwrap() error {
	return e.Cause
}
