package refreshjob

import (
	"errors"
	"strings"

	"github.com/showdeck/cloudconnect/internal/provider"
)

// FailureClass buckets a refresh failure for the sweep's bookkeeping.
type FailureClass int

const (
	// ClassTransient: provider or network flakiness. Never penalized.
	ClassTransient FailureClass = iota

	// ClassPermanent: the refresh token is dead. Deactivate immediately.
	ClassPermanent

	// ClassOther: ambiguous. Counted toward the failure ceiling.
	ClassOther
)

func (c FailureClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "other"
	}
}

// Substring fallbacks for errors that were not typed at the descriptor
// boundary. Heuristic by nature; typed codes always win.
var (
	permanentFragments = []string{
		"invalid_grant",
		"invalid_client",
		"revoked",
		"usage limit",
		"usage_limit_exceeded",
	}
	transientFragments = []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"bad gateway",
		"service unavailable",
		"gateway timeout",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
	}
)

// Classify buckets a refresh error. Typed provider errors classify on
// their machine code; anything else falls back to message substrings.
func Classify(err error) FailureClass {
	var pe *provider.Error
	if errors.As(err, &pe) {
		switch {
		case pe.Permanent():
			return ClassPermanent
		case pe.Transient():
			return ClassTransient
		default:
			return ClassOther
		}
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range permanentFragments {
		if strings.Contains(msg, frag) {
			return ClassPermanent
		}
	}
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return ClassTransient
		}
	}
	return ClassOther
}
