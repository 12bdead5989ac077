package dispatch

import (
	"errors"
	"time"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	KindNoCredentials  Kind = "no_credentials"
	KindExhausted      Kind = "all_credentials_exhausted"
	KindRateLimited    Kind = "rate_limited"
	KindUpstreamError  Kind = "upstream_error"
	KindNetworkFailure Kind = "network_failure"
	KindParseFailure   Kind = "parse_failure"
	KindTimeout        Kind = "timeout"
	KindEmptyInput     Kind = "empty_input"
)

// ErrEmptyInput is wrapped by failures for requests with nothing to translate.
var ErrEmptyInput = errors.New("nothing to translate")

// Error is the terminal failure of a Dispatch call. Message is always
// human readable and never contains an API key.
type Error struct {
	Kind Kind
	// Message describes the failure that ended the call.
	Message string
	// Attempts is the number of remote calls made.
	Attempts int
	// Status is the last HTTP status observed, 0 if none.
	Status int
	// RetryAfter is the last rate-limit hint, 0 if none.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not a dispatch failure.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Retryable reports whether a later call could succeed without any
// configuration change.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindUpstreamError, KindNetworkFailure, KindParseFailure, KindTimeout, KindExhausted:
		return true
	}
	return false
}
