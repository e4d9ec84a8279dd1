package wiki

import (
	"errors"
	"fmt"
)

// AuthErrorKind classifies why a session could not be acquired.
type AuthErrorKind int

const (
	AuthTokenFetchFailed AuthErrorKind = iota + 1
	AuthCredentialsRejected
	AuthTransport
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthTokenFetchFailed:
		return "token_fetch_failed"
	case AuthCredentialsRejected:
		return "credentials_rejected"
	case AuthTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// AuthError is returned by Authenticator.Acquire. It is scoped to one target.
type AuthError struct {
	Target string
	Kind   AuthErrorKind
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("wiki: login to %s failed (%s)", e.Target, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// EditErrorKind classifies why an edit failed.
type EditErrorKind int

const (
	EditTokenError EditErrorKind = iota + 1
	EditAPIError
	EditTransport
)

func (k EditErrorKind) String() string {
	switch k {
	case EditTokenError:
		return "token_error"
	case EditAPIError:
		return "api_error"
	case EditTransport:
		return "transport_error"
	default:
		return "unknown"
	}
}

// EditError is returned by Editor.Edit. It is scoped to one page.
type EditError struct {
	Target string
	Page   string
	Kind   EditErrorKind
	// Code and Info are set for EditAPIError.
	Code string
	Info string
	Err  error
}

func (e *EditError) Error() string {
	msg := fmt.Sprintf("wiki: edit %s on %s failed (%s)", e.Page, e.Target, e.Kind)
	if e.Code != "" || e.Info != "" {
		msg += fmt.Sprintf(": %s: %s", e.Code, e.Info)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EditError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
