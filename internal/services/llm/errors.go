package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
)

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
	After      time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm request: http %d", e.StatusCode)
	}
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}

// Throttled reports whether the provider rejected the call for rate limiting.
func (e *StatusError) Throttled() bool { return e.StatusCode == http.StatusTooManyRequests }

// Transient reports a 408 or 5xx answer.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= http.StatusInternalServerError
}

// RetryAfter returns the provider's Retry-After hint.
func (e *StatusError) RetryAfter() time.Duration { return e.After }

type emptyReplyError struct {
	op           string
	finishReason string
	refusal      string
}

func (e *emptyReplyError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q)", e.op, e.finishReason, e.refusal)
}

func (e *emptyReplyError) Transient() bool { return true }

// requestError is a failure before any HTTP status was received.
type requestError struct{ err error }

func (e *requestError) Error() string { return "llm request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Transient is true for timeouts. Cancellation is not.
func (e *requestError) Transient() bool {
	if errors.Is(e.err, context.Canceled) {
		return false
	}
	if errors.Is(e.err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.err, &netErr) && netErr.Timeout()
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &requestError{err: err}
	}
	statusErr := &StatusError{StatusCode: apiErr.StatusCode, Body: strings.TrimSpace(apiErr.Message)}
	if apiErr.Response != nil {
		statusErr.After = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return statusErr
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}
