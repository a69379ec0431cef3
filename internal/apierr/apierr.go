// Package apierr maps the error taxonomy of spec.md §7 (NotFound, Conflict,
// Unauthorized, Banned, BadRequest, Timeout, Transient, Fatal) to HTTP
// statuses. Grounded on the teacher's pkg/api/errors.go, which does the
// same kind of errors.Is/errors.As dispatch against a small fixed set of
// sentinel/typed errors, generalized here to Thorium's taxonomy and kept
// on gin (the framework cmd/tarsy/main.go actually wires) rather than the
// echo exploration pkg/api/server.go leaves unfinished.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the behavioral error categories spec.md §7 defines.
type Kind string

// Error kinds and their HTTP status mapping.
const (
	NotFound     Kind = "NotFound"     // 404
	Conflict     Kind = "Conflict"     // 409
	Unauthorized Kind = "Unauthorized" // 401
	Banned       Kind = "Banned"       // 400
	BadRequest   Kind = "BadRequest"   // 400
	Timeout      Kind = "Timeout"      // 408
	Transient    Kind = "Transient"    // 503
	Fatal        Kind = "Fatal"        // 500
)

var statusByKind = map[Kind]int{
	NotFound:     http.StatusNotFound,
	Conflict:     http.StatusConflict,
	Unauthorized: http.StatusUnauthorized,
	Banned:       http.StatusBadRequest,
	BadRequest:   http.StatusBadRequest,
	Timeout:      http.StatusRequestTimeout,
	Transient:    http.StatusServiceUnavailable,
	Fatal:        http.StatusInternalServerError,
}

// Error is a taxonomy-tagged application error. Handlers wrap any
// service-layer failure that should surface a specific status in one of
// these before returning it to the API layer.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a kind, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Status returns the HTTP status for err, defaulting to 500 when err isn't
// (or doesn't wrap) an *Error.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if s, ok := statusByKind[e.Kind]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind from err, returning Fatal if err isn't tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Is reports whether err is tagged with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
