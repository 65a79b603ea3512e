// Package apperrors holds the error types shared by the request path and
// the background job path.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by store reads for an unknown job identifier.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed or missing inbound field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation creates a ValidationError for field.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamHTTPError is a non-success status from an upstream service.
type UpstreamHTTPError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s HTTP error: %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s HTTP error: %d: %s", e.Service, e.Status, e.Body)
}

// MalformedResponseError is an upstream response that could not be
// interpreted: invalid JSON or a missing required field.
type MalformedResponseError struct {
	Service string
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPStatus returns the upstream status carried by err, or 0.
func HTTPStatus(err error) int {
	var ue *UpstreamHTTPError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
