package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetrier(maxRetries int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		RetryKinds:   []Kind{Session},
	})
}

func TestRetrier_Do(t *testing.T) {
	sessionErr := NewSessionError("launch", errors.New("chrome crashed"))

	tests := []struct {
		name         string
		failures     int
		err          error
		maxRetries   int
		wantAttempts int
		wantSuccess  bool
	}{
		{"success first try", 0, sessionErr, 2, 1, true},
		{"success after retry", 1, sessionErr, 2, 2, true},
		{"retries exhausted", 5, sessionErr, 2, 3, false},
		{"not retryable", 5, NewConfigurationError("x", "bad", nil), 2, 1, false},
		{"no retries", 5, sessionErr, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			result := fastRetrier(tt.maxRetries).Do(context.Background(), "launch", func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if result.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", result.Attempts, tt.wantAttempts)
			}
			if result.Success() != tt.wantSuccess {
				t.Errorf("Success() = %v, want %v (err %v)", result.Success(), tt.wantSuccess, result.LastError)
			}
		})
	}
}

func TestRetrier_DoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(RetryConfig{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, RetryKinds: []Kind{Session}})

	result := r.Do(ctx, "launch", func(context.Context) error {
		cancel()
		return NewSessionError("launch", errors.New("boom"))
	})

	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if KindOf(result.LastError) != Cancelled {
		t.Errorf("LastError kind = %v, want cancelled", KindOf(result.LastError))
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	value, result := DoWithResult(context.Background(), fastRetrier(2), "connect", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewSessionError("connect", errors.New("refused"))
		}
		return "ws://127.0.0.1:9222", nil
	})

	if !result.Success() || value != "ws://127.0.0.1:9222" {
		t.Errorf("DoWithResult() = %q, %v", value, result.LastError)
	}
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		got := BackoffDuration(tt.attempt, 100*time.Millisecond, time.Second, 2)
		if got != tt.want {
			t.Errorf("BackoffDuration(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
