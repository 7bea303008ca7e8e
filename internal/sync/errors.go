package sync

import (
	"errors"
	"net/http"
	"time"

	"github.com/peteski22/dirsync/internal/graph"
)

// ErrorKind classifies a reconciliation failure.
type ErrorKind string

const (
	// KindAlreadyLinked means a create was requested for a target that already has a remote ID.
	KindAlreadyLinked ErrorKind = "already_linked"

	// KindHTTP means the directory rejected the call.
	KindHTTP ErrorKind = "http"

	// KindNotConfigured means tenant, client or secret is missing.
	KindNotConfigured ErrorKind = "not_configured"

	// KindNotLinked means an update, disable or delete was requested for a target without a remote ID.
	KindNotLinked ErrorKind = "not_linked"

	// KindSyncDisabledForEntity means sync is switched off for the target.
	KindSyncDisabledForEntity ErrorKind = "sync_disabled_for_entity"

	// KindSyncGloballyDisabled means the integration or user sync is switched off.
	KindSyncGloballyDisabled ErrorKind = "sync_globally_disabled"

	// KindTransport means the directory could not be reached.
	KindTransport ErrorKind = "transport"

	// KindUnauthenticated means no access token could be obtained.
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// Error is a structured reconciliation failure.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message describes the failure.
	Message string

	// RetryAfter is the directory's requested back-off, if any.
	RetryAfter time.Duration

	// StatusCode is the HTTP status for KindHTTP errors.
	StatusCode int
}

// Error implements the error interface and is the form stored in State.LastError.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Transient reports whether retrying may succeed without any external change.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindHTTP:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// newError returns an Error of the given kind.
func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// fromClientError converts a directory client error into an Error.
func fromClientError(err error) *Error {
	var apiErr *graph.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}

	e := &Error{
		Message:    apiErr.Message,
		RetryAfter: apiErr.RetryAfter,
		StatusCode: apiErr.StatusCode,
	}
	switch apiErr.Kind {
	case graph.KindHTTP:
		e.Kind = KindHTTP
	case graph.KindUnauthenticated:
		e.Kind = KindUnauthenticated
	default:
		e.Kind = KindTransport
	}
	return e
}
