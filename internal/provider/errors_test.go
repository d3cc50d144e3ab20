package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"golang.org/x/oauth2"
)

func retrieveErr(code string, status int) error {
	return &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: status},
		ErrorCode: code,
	}
}

func TestWrapErr_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"invalid_grant", retrieveErr("invalid_grant", 400), CodeInvalidGrant},
		{"invalid_client", retrieveErr("invalid_client", 401), CodeInvalidClient},
		{"unauthorized_client", retrieveErr("unauthorized_client", 400), CodeInvalidClient},
		{"access_denied", retrieveErr("access_denied", 403), CodeRevoked},
		{"temporarily_unavailable", retrieveErr("temporarily_unavailable", 503), CodeUnavailable},
		{"bare 500", retrieveErr("", 500), CodeUnavailable},
		{"bare 502", retrieveErr("", 502), CodeUnavailable},
		{"bare 429", retrieveErr("", 429), CodeUsageLimit},
		{"bare 401", retrieveErr("", 401), CodeInvalidGrant},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"plain error", errors.New("something odd"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapErr("box", tt.err)
			if got.Code != tt.want {
				t.Fatalf("code = %q, want %q", got.Code, tt.want)
			}
			if got.Provider != "box" {
				t.Fatalf("provider = %q", got.Provider)
			}
			if !errors.Is(got, tt.err) {
				t.Fatal("wrapped error must unwrap to the original")
			}
		})
	}
}

func TestError_PermanentTransient(t *testing.T) {
	permanent := []ErrorCode{CodeInvalidGrant, CodeRevoked, CodeInvalidClient, CodeUsageLimit}
	for _, code := range permanent {
		e := &Error{Provider: "box", Code: code}
		if !e.Permanent() || e.Transient() {
			t.Errorf("%s: want permanent", code)
		}
	}

	transient := []ErrorCode{CodeTimeout, CodeUnavailable}
	for _, code := range transient {
		e := &Error{Provider: "box", Code: code}
		if !e.Transient() || e.Permanent() {
			t.Errorf("%s: want transient", code)
		}
	}

	unknown := &Error{Provider: "box", Code: CodeUnknown}
	if unknown.Permanent() || unknown.Transient() {
		t.Error("unknown must be neither permanent nor transient")
	}
}

func TestWrapErr_PreservesTypedErrors(t *testing.T) {
	orig := &Error{Provider: "box", Code: CodeInvalidGrant}
	if got := wrapErr("box", orig); got != orig {
		t.Fatal("already-typed errors must pass through unchanged")
	}
}
