package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultInitMaxAttempts = 3
	DefaultInitRetryDelay  = time.Second
)

// ErrInitializationFailed marks a resource that could not be constructed within
// its retry budget. Callers treat it as terminal.
var ErrInitializationFailed = errors.New("initialization failed after retries")

// InitError is the terminal error returned by Initialize. It matches
// ErrInitializationFailed; the last constructor error is kept in Last and is
// not part of the unwrap chain.
type InitError struct {
	Resource string
	Attempts int
	Last     error
}

func (e *InitError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s %s (%d attempts)", e.Resource, ErrInitializationFailed, e.Attempts)
	}
	return fmt.Sprintf("%s %s (%d attempts, last error: %v)", e.Resource, ErrInitializationFailed, e.Attempts, e.Last)
}

func (e *InitError) Unwrap() error { return ErrInitializationFailed }

// RetryPolicy bounds how often and how patiently a constructor is retried.
// The zero Backoff means a constant Delay between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     func(retry int, base time.Duration) time.Duration
}

// DefaultInitPolicy is three attempts one second apart, no growth, no jitter.
func DefaultInitPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultInitMaxAttempts,
		Delay:       DefaultInitRetryDelay,
	}
}

// CappedExponential returns a Backoff doubling the delay up to cap.
func CappedExponential(cap time.Duration) func(int, time.Duration) time.Duration {
	return func(retry int, base time.Duration) time.Duration {
		return ExponentialBackoff(retry, base, cap)
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultInitMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// DelayBefore returns the pause preceding the given retry (1-based).
func (p RetryPolicy) DelayBefore(retry int) time.Duration {
	if p.Backoff == nil {
		return p.Delay
	}
	return p.Backoff(retry-1, p.Delay)
}

// Initializer carries the collaborators of Initialize. Sleep and OnAttempt
// are optional.
type Initializer struct {
	Policy RetryPolicy
	Logger *slog.Logger

	// Sleep suspends the calling goroutine; it must return early with the
	// context error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnAttempt observes every constructor call; err is nil on success.
	OnAttempt func(resource string, attempt int, err error)
}

// Initialize calls construct until it succeeds or the policy's attempt budget
// is spent. Failed attempts are logged as warnings and followed by a pause,
// except the last one. A context cancelled during a pause aborts with the
// context error.
func Initialize[T any](ctx context.Context, in Initializer, resource string, construct func(context.Context) (T, error)) (T, error) {
	var zero T
	policy := in.Policy.normalized()
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := in.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var last error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		v, err := construct(ctx)
		if in.OnAttempt != nil {
			in.OnAttempt(resource, attempt, err)
		}
		if err == nil {
			return v, nil
		}
		last = err
		msg := "resource init failed, retrying"
		if attempt == policy.MaxAttempts {
			msg = "resource init failed, giving up"
		}
		logger.Warn(msg,
			slog.String("resource", resource),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.String("error", err.Error()),
		)
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, policy.DelayBefore(attempt)); err != nil {
			return zero, fmt.Errorf("%s init interrupted: %w", resource, err)
		}
	}
	return zero, &InitError{Resource: resource, Attempts: policy.MaxAttempts, Last: last}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
