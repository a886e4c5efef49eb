package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"
)

// exitRecorder stands in for os.Exit.
type exitRecorder struct {
	mu   sync.Mutex
	code int
	done chan struct{}
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{code: -1, done: make(chan struct{})}
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.code = code
	e.mu.Unlock()
	close(e.done)
}

func waitDone(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

// =============================================================================
// Signal Tests
// =============================================================================

func TestHandler_FirstSignalCancelsContext(t *testing.T) {
	var got os.Signal
	interrupted := make(chan struct{})

	h := New(Config{
		OnInterrupt: func(sig os.Signal) {
			got = sig
			close(interrupted)
		},
		Exit: newExitRecorder().exit,
	})
	defer h.Stop()

	if h.Interrupted() {
		t.Error("Interrupted() = true before any signal")
	}
	if h.Signal() != nil {
		t.Errorf("Signal() = %v before any signal, want nil", h.Signal())
	}

	h.Trigger()
	waitDone(t, interrupted, "interrupt callback")
	waitDone(t, h.Context().Done(), "context cancellation")

	if got != syscall.SIGTERM {
		t.Errorf("OnInterrupt signal = %v, want SIGTERM", got)
	}
	if !h.Interrupted() {
		t.Error("Interrupted() = false after signal")
	}
	if h.Signal() != syscall.SIGTERM {
		t.Errorf("Signal() = %v, want SIGTERM", h.Signal())
	}
}

func TestHandler_SecondSignalForcesExit(t *testing.T) {
	rec := newExitRecorder()
	forced := false

	h := New(Config{
		OnForce: func(os.Signal) { forced = true },
		Exit:    rec.exit,
	})
	defer h.Stop()

	h.Trigger()
	waitDone(t, h.Context().Done(), "context cancellation")
	h.Trigger()
	waitDone(t, rec.done, "forced exit")

	if !forced {
		t.Error("OnForce was not called")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.code != ForceExitCode {
		t.Errorf("exit code = %d, want %d", rec.code, ForceExitCode)
	}
}

func TestHandler_ParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	h := New(Config{Parent: parent, Exit: newExitRecorder().exit})
	defer h.Stop()

	cancel()
	waitDone(t, h.Context().Done(), "parent cancellation")

	if h.Interrupted() {
		t.Error("parent cancellation is not an interrupt")
	}
}

func TestHandler_Stop(t *testing.T) {
	h := New(Config{Exit: newExitRecorder().exit})

	h.Stop()
	h.Stop()

	waitDone(t, h.Context().Done(), "context release")
}

// =============================================================================
// Cleanup Tests
// =============================================================================

func TestHandler_CleanupLIFO(t *testing.T) {
	h := New(Config{Exit: newExitRecorder().exit})
	defer h.Stop()

	var order []string
	h.RegisterFunc("log file", func() { order = append(order, "log file") })
	h.RegisterFunc("progress", func() { order = append(order, "progress") })
	h.Register("state", func(context.Context) error {
		order = append(order, "state")
		return nil
	})

	if errs := h.Cleanup(); len(errs) != 0 {
		t.Fatalf("Cleanup() errors = %v", errs)
	}

	want := []string{"state", "progress", "log file"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}

	select {
	case <-h.Context().Done():
	default:
		t.Error("Cleanup() should cancel the context")
	}
}

func TestHandler_CleanupOnce(t *testing.T) {
	h := New(Config{Exit: newExitRecorder().exit})
	defer h.Stop()

	calls := 0
	h.Register("state", func(context.Context) error {
		calls++
		return errors.New("disk full")
	})

	first := h.Cleanup()
	second := h.Cleanup()

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("Cleanup() errors = %v then %v, want one error each", first, second)
	}
}

func TestHandler_CleanupTimeout(t *testing.T) {
	h := New(Config{Timeout: 20 * time.Millisecond, Exit: newExitRecorder().exit})
	defer h.Stop()

	h.Register("stuck", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	errs := h.Cleanup()
	if len(errs) != 1 {
		t.Fatalf("Cleanup() errors = %v, want one timeout", errs)
	}

	var timeoutErr *TimeoutError
	if !errors.As(errs[0], &timeoutErr) {
		t.Fatalf("error = %T, want *TimeoutError", errs[0])
	}
	if timeoutErr.CallbackName != "stuck" {
		t.Errorf("CallbackName = %q, want stuck", timeoutErr.CallbackName)
	}
	if timeoutErr.Error() != "shutdown callback timed out: stuck" {
		t.Errorf("Error() = %q", timeoutErr.Error())
	}
}
