// Package resilience provides the retry and circuit-breaker discipline used
// around detection requests.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrorClassification tells the executor how to treat a failure.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

// ErrorClassifier maps an error to its retry treatment.
type ErrorClassifier func(err error) ErrorClassification

// Config holds the retry schedule and optional breaker settings.
type Config struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt; it doubles
	// each attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	BreakerEnabled          bool
	BreakerFailureRatio     float64
	BreakerMinRequests      uint32
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig returns the standard detection retry schedule: 3 attempts
// total with 2s/4s/8s exponential backoff, breaker disabled.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:             3,
		InitialBackoff:          2 * time.Second,
		MaxBackoff:              8 * time.Second,
		Multiplier:              2,
		BreakerEnabled:          false,
		BreakerFailureRatio:     0.6,
		BreakerMinRequests:      5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Executor runs operations under the configured retry policy.
type Executor struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]

	// sleep is swappable so tests can record the schedule instead of
	// waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with the given configuration.
func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		cfg:   cfg.normalize(),
		sleep: sleepContext,
	}
	if e.cfg.BreakerEnabled {
		e.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "detection",
			MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
			Timeout:     e.cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < e.cfg.BreakerMinRequests {
					return false
				}
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= e.cfg.BreakerFailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return e
}

// SetSleepFunc replaces the backoff wait. Intended for tests.
func (e *Executor) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Execute runs fn under the retry policy. Only errors the classifier marks
// retryable are retried; after the final attempt the last error is returned
// as-is.
func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if classifier == nil {
		classifier = defaultClassifier
	}

	if e.breaker == nil {
		return e.executeWithRetry(ctx, operation, fn, classifier)
	}
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, e.executeWithRetry(ctx, operation, fn, classifier)
	})
	return err
}

func (e *Executor) executeWithRetry(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	backoff := e.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		class := classifier(lastErr)
		if !class.Retryable || attempt == e.cfg.MaxAttempts {
			return lastErr
		}

		wait := backoff
		if wait > e.cfg.MaxBackoff {
			wait = e.cfg.MaxBackoff
		}
		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"backoff", wait.String(),
			"error", lastErr,
		)

		if err := e.sleep(ctx, wait); err != nil {
			return lastErr
		}

		backoff = time.Duration(float64(backoff) * e.cfg.Multiplier)
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
