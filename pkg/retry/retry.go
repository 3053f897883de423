package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Config controls the bounded-retry loop.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64

	// ShouldRetry classifies an attempt error. Nil means DefaultShouldRetry.
	ShouldRetry func(error) bool
}

// DefaultConfig is the retry policy used for external collaborator calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		ShouldRetry:       DefaultShouldRetry,
	}
}

// permanentError marks an error that must never be retried regardless of
// attempts remaining.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so DefaultShouldRetry never retries it. Used by
// adapters for validation and authorization failures.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// StatusCoder is implemented by errors carrying an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// DefaultShouldRetry retries transient network errors, 5xx-class responses
// and rate limiting. Authorization failures, explicitly permanent errors and
// context cancellation are never retried.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		code := coder.StatusCode()
		switch {
		case code == 401 || code == 403:
			return false
		case code == 408 || code == 429:
			return true
		case code >= 500:
			return true
		case code >= 400:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Unknown errors are assumed transient; permanent classes must be
	// marked by the caller.
	return true
}

// Do invokes fn, retrying per cfg with exponential backoff. The error of the
// final attempt propagates unchanged. Waiting between attempts is cut short
// by context cancellation.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	delay := cfg.InitialDelay
	var err error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts || !shouldRetry(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
	}

	return err
}
