package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a response body is kept on an APIError.
const maxErrorBody = 4096

// ErrorKind classifies a failed directory API call.
type ErrorKind string

const (
	// KindHTTP means the API answered with a non-success status.
	KindHTTP ErrorKind = "http"

	// KindTransport means the request never produced a response (network, timeout).
	KindTransport ErrorKind = "transport"

	// KindUnauthenticated means no access token could be obtained.
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// APIError is returned by every Client operation that fails.
type APIError struct {
	// Body is the raw response body, truncated.
	Body string

	// Code is the Graph error code from the response body, if any.
	Code string

	// Err is the underlying error for transport and authentication failures.
	Err error

	// Kind classifies the failure.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// RetryAfter is the server's requested back-off, if it sent one.
	RetryAfter time.Duration

	// StatusCode is the HTTP status for KindHTTP errors.
	StatusCode int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// AuthReason describes why a token could not be obtained.
type AuthReason string

const (
	// AuthNotConfigured means tenant, client or secret is missing.
	AuthNotConfigured AuthReason = "not_configured"

	// AuthRejected means the identity endpoint refused the credentials.
	AuthRejected AuthReason = "rejected"

	// AuthUnavailable means the identity endpoint could not be reached.
	AuthUnavailable AuthReason = "unavailable"
)

// AuthError is returned by the TokenProvider.
type AuthError struct {
	// Description is the identity endpoint's error_description, or a local explanation.
	Description string

	// Err is the underlying error.
	Err error

	// Reason classifies the failure.
	Reason AuthReason
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("token acquisition failed (%s): %s", e.Reason, e.Description)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// graphErrorBody is the error envelope returned by the Graph API.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newHTTPError builds an APIError from a non-success response.
func newHTTPError(resp *http.Response, body []byte, now time.Time) *APIError {
	raw := string(body)
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}

	apiErr := &APIError{
		Body:       raw,
		Kind:       KindHTTP,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
		StatusCode: resp.StatusCode,
	}

	detail := strings.TrimSpace(raw)
	var envelope graphErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		detail = envelope.Error.Message
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, detail)

	return apiErr
}

// newTransportError wraps a request that produced no response.
func newTransportError(err error) *APIError {
	return &APIError{
		Err:     err,
		Kind:    KindTransport,
		Message: err.Error(),
	}
}

// newTokenError maps a token failure onto an APIError.
// An unreachable identity endpoint is a transport failure; anything else is unauthenticated.
func newTokenError(err error) *APIError {
	kind := KindUnauthenticated
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Reason == AuthUnavailable {
		kind = KindTransport
	}
	return &APIError{
		Err:     err,
		Kind:    kind,
		Message: err.Error(),
	}
}

// parseRetryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
