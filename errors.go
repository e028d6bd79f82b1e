package parley

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("not found")

// ErrLLM reports a non-HTTP failure from an LLM or embedding provider.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP carries a non-2xx response from a remote API. The retry
// middleware uses Status to classify transience and RetryAfter as a
// minimum backoff.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrConfig reports an invalid configuration value. Configuration errors
// are startup-only and abort the process.
type ErrConfig struct {
	Field  string
	Reason string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ParseRetryAfter parses an HTTP Retry-After header value given in
// delay-seconds form. Returns 0 for empty or unparseable input.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
