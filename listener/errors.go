package listener

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

var (
	// ErrCapabilityUnavailable is returned by a feed constructor or liveness check when
	// the underlying platform client cannot be used at all (no credentials,
	// unsupported platform). The caller degrades to the placeholder feed.
	ErrCapabilityUnavailable = errors.New("feed capability unavailable")
	// ErrEndOfStream reports that a session ended normally (broadcast over).
	ErrEndOfStream = errors.New("stream ended")
)

// FatalError marks a failure that reconnecting cannot fix.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the supervisor stops instead of reconnecting.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// PayloadError reports a notification that could not be decoded. The
// subscription stays usable; the side-channel loop reports it and moves on.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "bad payload: " + e.Err.Error() }
func (e *PayloadError) Unwrap() error { return e.Err }

// ErrorClass represents whether a feed failure should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates a transient failure; reconnect after backoff.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the feed cannot recover; stop the process.
	ErrorClassFatal
	// ErrorClassEndOfStream indicates the session ended normally.
	ErrorClassEndOfStream
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	case ErrorClassEndOfStream:
		return "end_of_stream"
	default:
		return "unknown"
	}
}

// ClassifyError classifies feed errors.
//
// Fatal (stop) only on an explicit signal:
// - errors wrapped with Fatal, ErrCapabilityUnavailable
// - a typed *googleapi.Error whose reason or code is an auth or bad-identifier failure
//
// End of stream (reconnect, logged at info):
// - ErrEndOfStream, a typed live chat ended/not found reason
// - a live chat ended message
//
// Retryable (reconnect, logged as warning):
// - everything else, including dial failures and untyped HTTP errors
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}

	var fatal *FatalError
	if errors.As(err, &fatal) || errors.Is(err, ErrCapabilityUnavailable) {
		return ErrorClassFatal
	}
	if errors.Is(err, ErrEndOfStream) {
		return ErrorClassEndOfStream
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassRetryable
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}

	// Message matching never yields Fatal; addresses and ports can contain anything.
	lower := strings.ToLower(err.Error())
	for _, p := range []string{"live chat ended", "livechatended", "chat is no longer live"} {
		if strings.Contains(lower, p) {
			return ErrorClassEndOfStream
		}
	}
	return ErrorClassRetryable
}

func classifyAPIError(e *googleapi.Error) ErrorClass {
	for _, item := range e.Errors {
		switch item.Reason {
		case "liveChatEnded", "liveChatNotFound", "liveChatDisabled":
			return ErrorClassEndOfStream
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return ErrorClassRetryable
		case "keyInvalid", "authError", "videoNotFound":
			return ErrorClassFatal
		}
	}
	switch {
	case e.Code == http.StatusUnauthorized:
		return ErrorClassFatal
	case e.Code == http.StatusNotFound:
		return ErrorClassEndOfStream
	case e.Code == http.StatusBadRequest:
		return ErrorClassFatal
	}
	return ErrorClassRetryable
}

// IsFatal reports whether err should stop the relay.
func IsFatal(err error) bool {
	return ClassifyError(err) == ErrorClassFatal
}
