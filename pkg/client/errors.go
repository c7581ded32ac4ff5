package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies gateway failures
type ErrorKind string

const (
	// KindTransport covers unreachable networks, timeouts and aborted requests
	KindTransport ErrorKind = "transport"
	// KindProtocol covers non-2xx responses without a usable detail and malformed bodies
	KindProtocol ErrorKind = "protocol"
	// KindDomain covers well-formed error payloads carrying a detail string
	KindDomain ErrorKind = "domain"
)

// ErrNoTradableQuotes is the domain error for an empty validated quote set
var ErrNoTradableQuotes = errors.New("no tradable quotes")

// ErrMissingTraceID guards the trace id requirement of flow operations
var ErrMissingTraceID = errors.New("trace id is required")

// Error is the classified error returned by every gateway operation
type Error struct {
	Kind       ErrorKind
	Op         string // endpoint path
	StatusCode int    // 0 for transport failures
	Detail     string // server-provided message, if any
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s error (status %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether one more attempt may help: transport failures and 5xx only
func (e *Error) Retryable() bool {
	if e.Kind == KindTransport {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.Kind == KindProtocol && e.StatusCode >= 500
}

// KindOf returns the classification of err, or "" when err is not a gateway error
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

// IsTransport reports whether err is a transport failure
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// IsServerError reports whether err is an HTTP 5xx response
func IsServerError(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == KindProtocol && gwErr.StatusCode >= 500
}

// IsTimeout reports whether a transport failure was a timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
