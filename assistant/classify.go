package assistant

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind buckets a failure for retry and user-messaging decisions.
type ErrorKind string

const (
	// ErrorKindAbort is a user-initiated cancellation. Silent: no retry,
	// no user-facing error.
	ErrorKindAbort ErrorKind = "abort"
	// ErrorKindTimeout is an exceeded request deadline. Retryable; the UI
	// offers a "check your connection" message.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindNetwork is a transport-level failure. Retryable.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindOther is everything else. Surfaces immediately.
	ErrorKindOther ErrorKind = "other"
)

// timeoutPhrases and networkPhrases are the fixed substring sets used to
// classify errors that arrive as opaque strings from the HTTP layer.
var (
	timeoutPhrases = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	networkPhrases = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"broken pipe",
	}
)

// Classify buckets an error. Context cancellation is checked first so an
// aborted request is never mistaken for a network failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindOther
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range timeoutPhrases {
		if strings.Contains(msg, phrase) {
			return ErrorKindTimeout
		}
	}
	for _, phrase := range networkPhrases {
		if strings.Contains(msg, phrase) {
			return ErrorKindNetwork
		}
	}
	return ErrorKindOther
}

// IsRetryable reports whether the error class qualifies for the fixed
// retry/backoff policy. Only timeout and network failures retry; anything
// else surfaces immediately.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorKindTimeout, ErrorKindNetwork:
		return true
	default:
		return false
	}
}
