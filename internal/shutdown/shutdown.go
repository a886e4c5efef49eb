// Package shutdown turns SIGINT/SIGTERM into cancellation of the crawl
// context and runs cleanup callbacks once the crawl has stopped.
//
// The first signal only cancels the context: the crawler then releases its
// browser and persists the partial report. A second signal exits at once.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ForceExitCode is the exit status used when a second signal arrives.
const ForceExitCode = 130

// Callback is a cleanup step run by Cleanup.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	// Parent is the context the handler's context derives from.
	Parent context.Context
	// Timeout bounds all cleanup callbacks together.
	Timeout time.Duration
	Signals []os.Signal

	// OnInterrupt runs when the first signal arrives.
	OnInterrupt func(sig os.Signal)
	// OnForce runs when a second signal arrives, right before Exit.
	OnForce func(sig os.Signal)
	// Exit ends the process on a second signal. Defaults to os.Exit.
	Exit func(code int)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type namedCallback struct {
	name string
	fn   Callback
}

// Handler cancels the crawl context on the first signal and runs cleanup.
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc

	signals chan os.Signal
	stop    chan struct{}
	stopped sync.Once

	timeout     time.Duration
	onInterrupt func(os.Signal)
	onForce     func(os.Signal)
	exit        func(int)

	interrupted atomic.Bool
	signal      atomic.Value

	mu        sync.Mutex
	callbacks []namedCallback

	cleanup     sync.Once
	cleanupErrs []error
}

// New creates a handler and starts listening for signals. Call Stop when
// the crawl is over.
func New(cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}
	if cfg.Parent == nil {
		cfg.Parent = context.Background()
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}

	ctx, cancel := context.WithCancel(cfg.Parent)
	h := &Handler{
		ctx:         ctx,
		cancel:      cancel,
		signals:     make(chan os.Signal, 2),
		stop:        make(chan struct{}),
		timeout:     cfg.Timeout,
		onInterrupt: cfg.OnInterrupt,
		onForce:     cfg.OnForce,
		exit:        cfg.Exit,
	}

	signal.Notify(h.signals, cfg.Signals...)
	go h.listen()
	return h
}

func (h *Handler) listen() {
	for {
		select {
		case sig := <-h.signals:
			if !h.interrupted.CompareAndSwap(false, true) {
				if h.onForce != nil {
					h.onForce(sig)
				}
				h.exit(ForceExitCode)
				return
			}
			h.signal.Store(sig)
			if h.onInterrupt != nil {
				h.onInterrupt(sig)
			}
			h.cancel()
		case <-h.stop:
			return
		}
	}
}

// Context returns the crawl context. It is cancelled by the first signal.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal has been received.
func (h *Handler) Interrupted() bool {
	return h.interrupted.Load()
}

// Signal returns the signal that interrupted the crawl, or nil.
func (h *Handler) Signal() os.Signal {
	sig, _ := h.signal.Load().(os.Signal)
	return sig
}

// Trigger delivers SIGTERM to the handler as if the process received it.
func (h *Handler) Trigger() {
	select {
	case h.signals <- syscall.SIGTERM:
	default:
	}
}

// Register adds a cleanup callback. Callbacks run in reverse order of
// registration.
func (h *Handler) Register(name string, fn Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, namedCallback{name: name, fn: fn})
}

// RegisterFunc registers a cleanup step that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Cleanup cancels the context and runs the callbacks once, all of them
// bounded by the handler timeout. Later calls return the first result.
func (h *Handler) Cleanup() []error {
	h.cleanup.Do(func() {
		h.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		callbacks := append([]namedCallback(nil), h.callbacks...)
		h.mu.Unlock()

		for i := len(callbacks) - 1; i >= 0; i-- {
			if err := run(ctx, callbacks[i]); err != nil {
				h.cleanupErrs = append(h.cleanupErrs, err)
			}
		}
	})
	return h.cleanupErrs
}

func run(ctx context.Context, cb namedCallback) error {
	done := make(chan error, 1)
	go func() {
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: cb.name}
	}
}

// Stop stops signal delivery and releases the context.
func (h *Handler) Stop() {
	h.stopped.Do(func() {
		signal.Stop(h.signals)
		close(h.stop)
		h.cancel()
	})
}

// TimeoutError is returned when a callback outlives the cleanup timeout.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
