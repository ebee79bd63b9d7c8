package design

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error types for classifying design service errors. Callers decide retry
// policy from the class, never from status codes.

// RateLimitError reports a 429 from the service. RetryAfter carries the
// server's Retry-After hint, zero when the header was absent.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
	err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Op)
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// TransientError represents a temporary failure that may succeed on retry.
type TransientError struct {
	Op  string
	err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.err)
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, err: err}
}

// FatalError represents a permanent failure that must not be retried.
type FatalError struct {
	Op         string
	StatusCode int
	err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.err)
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(op string, err error) error {
	return &FatalError{Op: op, err: err}
}

// IsRateLimit returns true if the error is a rate-limit response.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterHint extracts the server's Retry-After hint from a rate-limit
// error. Zero when the error is not a rate limit or carried no hint.
func RetryAfterHint(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsTransient returns true if the error is transient and worth retrying.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classifyStatus maps a non-2xx response to an error class. Rate limits
// are their own class so the governor can pause all in-flight work; 5xx
// and request timeouts are transient; the remaining 4xx are fatal.
func classifyStatus(op string, resp *http.Response, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("service error (status %d): %s", resp.StatusCode, bodyStr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Op:         op,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:        err,
		}
	case resp.StatusCode >= 500:
		return NewTransientError(op, err)
	case resp.StatusCode == http.StatusRequestTimeout:
		return NewTransientError(op, err)
	default:
		return NewFatalError(op, err)
	}
}

// parseRetryAfter handles both forms of the header: delay seconds and an
// HTTP date. Unparseable values yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
