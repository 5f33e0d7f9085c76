package vk

import (
	"errors"
	"fmt"
)

// ErrCursorExpired signals that the long-poll cursor was rejected by the
// server and a fresh one must be acquired. It is expected control flow, not a
// failure: events delivered before the expiry are gone by transport design.
var ErrCursorExpired = errors.New("vk: long poll cursor expired")

// ErrMalformedResponse marks a contract violation by the VK API: a body that
// is not valid JSON or lacks the documented shape. The transport does not
// retry it in place; the event loop recovers by re-acquiring the stream.
var ErrMalformedResponse = errors.New("vk: malformed response")

// ConnectivityError wraps a transient network failure (connection refused,
// timeout, 5xx). The transport retries these internally with exponential
// backoff; they are never surfaced to the pipeline.
type ConnectivityError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("vk: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsConnectivity reports whether err is a transient transport failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// APIError is a structured error returned by the VK API envelope.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("vk: api error %d: %s", e.Code, e.Message)
}

// VK error codes that indicate a transient condition worth retrying.
const (
	errCodeTooManyRequests = 6
	errCodeInternalServer  = 10
	errCodeRuntime         = 13
)

// Temporary reports whether the API error class is retryable (rate limiting
// or a server-side fault).
func (e *APIError) Temporary() bool {
	switch e.Code {
	case errCodeTooManyRequests, errCodeInternalServer, errCodeRuntime:
		return true
	}
	return false
}

// retryable reports whether the error is cured by waiting: a connectivity
// failure or a temporary API fault.
func retryable(err error) bool {
	if IsConnectivity(err) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}
