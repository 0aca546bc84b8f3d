package ghl

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind string

const (
	// KindConfiguration means required credentials or IDs were missing
	// before any call was attempted. Never retried.
	KindConfiguration Kind = "configuration"

	// KindAuthFailed means the API rejected the access token and no
	// recovery was possible (no refresh capability, or the retry after a
	// refresh failed again).
	KindAuthFailed Kind = "auth_failed"

	// KindRefreshTokenExpired means the authorization server rejected the
	// refresh grant itself. Terminal: the operator must redo the
	// interactive authorization flow.
	KindRefreshTokenExpired Kind = "refresh_token_expired"

	// KindTransient covers timeouts, connection errors and 5xx responses.
	// Safe to retry at a higher level.
	KindTransient Kind = "transient"

	// KindAPI is a non-auth error response from the business API, e.g. a
	// 400 on bad input or a 404 on an unknown contact.
	KindAPI Kind = "api"
)

// Error is the classified error type returned by this package.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

// KindOf extracts the classification of err, or "" if err is not from this
// package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRefreshTokenExpired reports whether err is the terminal refresh-grant
// rejection that requires interactive re-authorization.
func IsRefreshTokenExpired(err error) bool {
	return KindOf(err) == KindRefreshTokenExpired
}
