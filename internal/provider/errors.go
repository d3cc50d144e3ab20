package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/oauth2"
)

// ErrNotConfigured indicates a provider is registered but has no client
// credentials. Surfaced at first use, not at startup.
var ErrNotConfigured = errors.New("provider credentials not configured")

// ErrorCode is a stable machine-readable classification of a provider
// failure, assigned at the descriptor boundary so callers never have to
// string-match provider error messages.
type ErrorCode string

const (
	CodeInvalidGrant  ErrorCode = "invalid_grant"
	CodeRevoked       ErrorCode = "revoked"
	CodeInvalidClient ErrorCode = "invalid_client"
	CodeUsageLimit    ErrorCode = "usage_limit"
	CodeTimeout       ErrorCode = "timeout"
	CodeUnavailable   ErrorCode = "unavailable"
	CodeUnknown       ErrorCode = "unknown"
)

// Error wraps a provider SDK or HTTP failure with a classification code.
type Error struct {
	Provider string
	Code     ErrorCode
	Status   int // HTTP status when known, 0 otherwise
	Message  string
	err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Code)
}

func (e *Error) Unwrap() error { return e.err }

// Permanent reports whether retrying this failure is futile: the grant
// itself is dead and the user must reconnect.
func (e *Error) Permanent() bool {
	switch e.Code {
	case CodeInvalidGrant, CodeRevoked, CodeInvalidClient, CodeUsageLimit:
		return true
	}
	return false
}

// Transient reports whether the failure looks like provider or network
// flakiness rather than anything wrong with the stored tokens.
func (e *Error) Transient() bool {
	switch e.Code {
	case CodeTimeout, CodeUnavailable:
		return true
	}
	return false
}

// wrapErr classifies an outbound call failure into an *Error. Responses
// from golang.org/x/oauth2 carry a structured error code; everything else
// is classified by status or network error shape.
func wrapErr(providerName string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &Error{
			Provider: providerName,
			Status:   re.Response.StatusCode,
			Message:  re.ErrorDescription,
			err:      err,
		}
		switch re.ErrorCode {
		case "invalid_grant":
			e.Code = CodeInvalidGrant
		case "invalid_client", "unauthorized_client":
			e.Code = CodeInvalidClient
		case "access_denied":
			e.Code = CodeRevoked
		case "temporarily_unavailable":
			e.Code = CodeUnavailable
		default:
			e.Code = classifyStatus(re.Response.StatusCode)
		}
		if e.Message == "" {
			e.Message = re.ErrorCode
		}
		return e
	}

	code := CodeUnknown
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &ne) && ne.Timeout():
		code = CodeTimeout
	}
	return &Error{Provider: providerName, Code: code, Message: err.Error(), err: err}
}

func classifyStatus(status int) ErrorCode {
	switch {
	case status == 429:
		return CodeUsageLimit
	case status >= 500:
		return CodeUnavailable
	case status == 401 || status == 403:
		return CodeInvalidGrant
	}
	return CodeUnknown
}

// httpError builds a classified error from a non-2xx provider response.
func httpError(providerName string, status int, body string) *Error {
	return &Error{
		Provider: providerName,
		Code:     classifyStatus(status),
		Status:   status,
		Message:  fmt.Sprintf("unexpected status %d: %s", status, body),
	}
}
