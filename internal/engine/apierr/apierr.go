// Package apierr defines the error kinds the engine surfaces to the
// transport, each carrying a wire status and an optional violation list.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an engine error. Each kind maps to exactly one HTTP status.
type Kind int

const (
	// KindPayloadShape means the request body fails structural JSON:API rules.
	KindPayloadShape Kind = iota
	// KindValidation means a well-formed request violates schema, search, or sort rules.
	KindValidation
	// KindNotFound means the target id does not exist.
	KindNotFound
	// KindConflict means a unique constraint or precondition failed.
	KindConflict
	// KindForbidden means the permission gate denied the request.
	KindForbidden
	// KindUnsupportedContentType means the media type was not acceptable.
	KindUnsupportedContentType
	// KindConfiguration means a resource definition is invalid; raised at registration.
	KindConfiguration
	// KindInternal covers everything else.
	KindInternal
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindPayloadShape:
		return "payload_shape"
	case KindValidation:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnsupportedContentType:
		return "unsupported_media_type"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal_error"
	}
}

// Status returns the HTTP status the kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindPayloadShape:
		return http.StatusBadRequest
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnsupportedContentType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// Violation describes a single rule failure on a field. Field is a dotted
// path into the request document (e.g. data.attributes.title).
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message,omitempty"`
}

// Pointer renders the violation's field path as a JSON pointer.
func (v Violation) Pointer() string {
	if v.Field == "" {
		return ""
	}
	return "/" + strings.ReplaceAll(v.Field, ".", "/")
}

// Error is the engine's error type.
type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Rule))
		}
		return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithViolation appends a violation to the error and returns it.
func (e *Error) WithViolation(field, rule, message string) *Error {
	e.Violations = append(e.Violations, Violation{Field: field, Rule: rule, Message: message})
	return e
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// PayloadShape builds a 400-kind error.
func PayloadShape(format string, args ...interface{}) *Error {
	return New(KindPayloadShape, format, args...)
}

// Validation builds a 422-kind error.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// NotFound builds a 404-kind error.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict builds a 409-kind error.
func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

// Forbidden builds a 403-kind error.
func Forbidden(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

// Configuration builds a registration-time error.
func Configuration(format string, args ...interface{}) *Error {
	return New(KindConfiguration, format, args...)
}

// Internal wraps an unexpected error.
func Internal(cause error) *Error {
	return Wrap(KindInternal, cause, "internal error")
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status for an error chain.
func StatusOf(err error) int {
	return KindOf(err).Status()
}

// As extracts an *Error from the chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
