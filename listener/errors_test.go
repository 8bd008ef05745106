package listener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorClassRetryable, "retryable"},
		{ErrorClassFatal, "fatal"},
		{ErrorClassEndOfStream, "end_of_stream"},
		{ErrorClassUnknown, "unknown"},
		{ErrorClass(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.class.String(); got != tt.want {
				t.Errorf("ErrorClass.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"wrapped fatal", fmt.Errorf("connect: %w", Fatal(errors.New("x"))), ErrorClassFatal},
		{"capability unavailable", fmt.Errorf("youtube client: %w", ErrCapabilityUnavailable), ErrorClassFatal},
		{"end of stream", fmt.Errorf("poll: %w", ErrEndOfStream), ErrorClassEndOfStream},
		{"deadline", context.DeadlineExceeded, ErrorClassRetryable},

		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrorClassRetryable},
		{"service unavailable", errors.New("503 Service Unavailable"), ErrorClassRetryable},
		{"rate limit", errors.New("429 too many requests"), ErrorClassRetryable},
		{"unknown message", errors.New("something odd"), ErrorClassRetryable},

		{"dial refused on port 4010", errors.New("dial tcp 10.0.0.7:4010: connect: connection refused"), ErrorClassRetryable},
		{"dial timeout on port 8401", errors.New(`Get "http://relay.example:8401/x": dial tcp: i/o timeout`), ErrorClassRetryable},
		{"untyped 401 text", errors.New("HTTP 401 Unauthorized"), ErrorClassRetryable},
		{"untyped login text", errors.New("Login authentication failed"), ErrorClassRetryable},
		{"wrapped login failure", fmt.Errorf("twitch irc: %w", Fatal(errors.New("login authentication failed"))), ErrorClassFatal},

		{"chat no longer live", errors.New("The live chat is no longer live"), ErrorClassEndOfStream},
		{"live chat ended", errors.New("live chat ended"), ErrorClassEndOfStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyGoogleAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  *googleapi.Error
		want ErrorClass
	}{
		{"chat ended", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "liveChatEnded"}}}, ErrorClassEndOfStream},
		{"chat not found", &googleapi.Error{Code: http.StatusNotFound, Errors: []googleapi.ErrorItem{{Reason: "liveChatNotFound"}}}, ErrorClassEndOfStream},
		{"quota", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, ErrorClassRetryable},
		{"bad key", &googleapi.Error{Code: http.StatusBadRequest, Errors: []googleapi.ErrorItem{{Reason: "keyInvalid"}}}, ErrorClassFatal},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, ErrorClassFatal},
		{"server error", &googleapi.Error{Code: http.StatusInternalServerError}, ErrorClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("list messages: %w", tt.err)
			if got := ClassifyError(wrapped); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
