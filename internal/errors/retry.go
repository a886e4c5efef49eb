package errors

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries   int           // Maximum number of retries (0 = no retries)
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Delay multiplier for exponential backoff
	Jitter       float64       // Random jitter factor (0-1)
	RetryKinds   []Kind        // Error kinds that should be retried
}

// DefaultRetryConfig retries session setup twice.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryKinds:   []Kind{Session},
	}
}

// Retrier implements retry logic with exponential backoff.
type Retrier struct {
	config RetryConfig
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &Retrier{config: config}
}

// RetryResult holds the result of a retry operation.
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // The last error encountered
	Duration  time.Duration // Total time spent retrying
}

// Success reports whether the last attempt succeeded.
func (r *RetryResult) Success() bool {
	return r.LastError == nil
}

// Do executes fn until it succeeds, returns an error that is not retried,
// or the retries are used up.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) *RetryResult {
	result := &RetryResult{}
	start := time.Now()
	delay := r.config.InitialDelay

	for attempt := 0; ; attempt++ {
		result.Attempts++

		err := fn(ctx)
		result.LastError = err
		if err == nil || attempt >= r.config.MaxRetries || !r.shouldRetry(err) {
			break
		}

		timer := time.NewTimer(r.jitter(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = NewCancelledError("", op)
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = BackoffDuration(attempt+2, r.config.InitialDelay, r.config.MaxDelay, r.config.Multiplier)
	}

	if ctx.Err() != nil && result.LastError != nil {
		result.LastError = NewCancelledError("", op)
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Retrier) shouldRetry(err error) bool {
	kind := KindOf(err)
	for _, k := range r.config.RetryKinds {
		if kind == k {
			return true
		}
	}
	return IsTimeout(err)
}

func (r *Retrier) jitter(base time.Duration) time.Duration {
	if r.config.Jitter <= 0 || base <= 0 {
		return base
	}
	spread := r.config.Jitter * float64(base)
	return time.Duration(float64(base) + (rand.Float64()*2-1)*spread)
}

// DoWithResult executes a function that returns a value and error.
func DoWithResult[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, *RetryResult) {
	var value T
	result := r.Do(ctx, op, func(ctx context.Context) error {
		var err error
		value, err = fn(ctx)
		return err
	})
	return value, result
}

// BackoffDuration calculates the backoff duration for a given attempt.
func BackoffDuration(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
