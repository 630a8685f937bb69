package telegram

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is returned when Telegram answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram rate limited, retry after %s: %s", e.RetryAfter, e.Message)
}

// IsRetryable reports whether the request may succeed later.
func (e *RateLimitError) IsRetryable() bool { return true }

// PermanentError is a failure that retrying will not fix, such as a blocked
// bot, an unknown chat or an invalid token.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether the request may succeed later.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError is a transient server or network failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether the request may succeed later.
func (e *RetryableError) IsRetryable() bool { return true }

type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err is a transport error worth retrying.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// GetRetryAfter returns how long Telegram asked to wait, or zero.
func GetRetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
