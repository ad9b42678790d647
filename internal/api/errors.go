package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies delivery failures. The sync engine's retry policy
// keys off this: transient kinds leave the record dirty for the next cycle,
// permanent kinds are surfaced to the caller.
type ErrorKind int

const (
	// KindUnauthorized is a 401 that survived the single refresh-and-retry.
	// The caller must prompt for re-authentication.
	KindUnauthorized ErrorKind = iota

	// KindClient is a 4xx other than 401. Not retried automatically.
	KindClient

	// KindServer is a 5xx. Eligible for the next scheduled sync cycle,
	// never retried inline.
	KindServer

	// KindNetworkUnavailable is a transport failure or timeout. Flips the
	// availability monitor; the operation is deferred, the record stays dirty.
	KindNetworkUnavailable

	// KindDecoding means the response body didn't match the expected shape.
	// Treated as a client-side bug signal; the record stays dirty so a
	// schema fix can later succeed.
	KindDecoding
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindClient:
		return "client error"
	case KindServer:
		return "server error"
	case KindNetworkUnavailable:
		return "network unavailable"
	case KindDecoding:
		return "decoding error"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every Client method.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // HTTP status, 0 for transport failures
	Message    string // server-supplied message when decodable
	Err        error  // underlying cause
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an api.Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsUnauthorized reports a terminal authentication failure.
func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }

// IsNetworkUnavailable reports a transport-level failure or timeout.
func IsNetworkUnavailable(err error) bool { return IsKind(err, KindNetworkUnavailable) }

// IsRetryable reports whether the failure should leave the record dirty
// for the next sync cycle rather than being surfaced.
func IsRetryable(err error) bool {
	return IsKind(err, KindServer) || IsKind(err, KindNetworkUnavailable)
}
