package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a transport outcome. Every error leaving this
// package carries exactly one kind; callers branch on it instead of
// string-matching error text.
type ErrorKind int

const (
	// KindTimeout means the network deadline was exceeded. Timeouts are
	// the only errors that count toward crash detection.
	KindTimeout ErrorKind = iota
	// KindHTTPError means the daemon was reachable but answered non-2xx.
	KindHTTPError
	// KindPermissionDenied means the OS refused the operation. Surfaced
	// to the user verbatim and never retried automatically.
	KindPermissionDenied
	// KindSkippedDuringInstall marks a deliberately skipped probe while
	// an install/remove job is in flight. Not a failure.
	KindSkippedDuringInstall
	// KindJobNotFound means the daemon no longer knows the job ID.
	// Transient up to the poll-failure ceiling, then fatal for that job.
	KindJobNotFound
	// KindStallTimeout means a download made no progress for the whole
	// stall window.
	KindStallTimeout
	// KindTransport covers connection-level failures that are not
	// timeouts (refused, reset, DNS).
	KindTransport
)

// String returns the kind's wire/log label.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPError:
		return "http_error"
	case KindPermissionDenied:
		return "permission_denied"
	case KindSkippedDuringInstall:
		return "skipped_during_install"
	case KindJobNotFound:
		return "job_not_found"
	case KindStallTimeout:
		return "stall_timeout"
	default:
		return "transport"
	}
}

// Error is a classified transport error.
type Error struct {
	Kind       ErrorKind
	Op         string // e.g. "probe", "install app"
	StatusCode int    // set for KindHTTPError
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Kind == KindHTTPError:
		return fmt.Sprintf("%s: daemon returned status %d", e.Op, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	return kindOf(err) == KindTimeout
}

// IsJobNotFound reports whether err means the job ID is unknown.
func IsJobNotFound(err error) bool {
	return kindOf(err) == KindJobNotFound
}

// IsPermissionDenied reports whether err is a permission failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == KindPermissionDenied
}

func kindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	return KindTransport
}

// permissionPatterns are matched case-insensitively against error text.
// The OS reports these through the HTTP stack as opaque strings, so
// pattern matching is the only detection available.
var permissionPatterns = []string{
	"permission denied",
	"operation not permitted",
	"access is denied",
}

// classify converts a raw transport error into a *Error for op.
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Op: op, Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Op: op, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range permissionPatterns {
		if strings.Contains(msg, pattern) {
			return &Error{Kind: KindPermissionDenied, Op: op, Cause: err}
		}
	}

	return &Error{Kind: KindTransport, Op: op, Cause: err}
}

// httpError builds a KindHTTPError for a non-2xx response.
func httpError(op string, statusCode int) *Error {
	return &Error{Kind: KindHTTPError, Op: op, StatusCode: statusCode}
}
