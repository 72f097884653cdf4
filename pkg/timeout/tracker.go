package timeout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/pitcrew/internal/logging"
)

// DefaultPollInterval is the watchdog sweep interval.
const DefaultPollInterval = time.Second

// DefaultTimeout is the reply deadline used when Register receives a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// ErrAlreadyRunning is returned by Start when the watchdog is already active.
var ErrAlreadyRunning = errors.New("timeout tracker already running")

// ExpireFunc is invoked once for a message whose deadline passed unacknowledged.
type ExpireFunc func(messageID string)

// Observer receives tracker activity, typically for metrics.
type Observer interface {
	TimeoutRegistered()
	TimeoutAcknowledged()
	TimeoutExpired()
}

type pending struct {
	expiry   time.Time
	onExpire ExpireFunc
}

// Tracker owns the pending-timeout map and its watchdog.
// Register, Acknowledge and PendingCount are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]pending

	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithLogger configures a logger for the Tracker.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithPollInterval sets how often the watchdog sweeps for expired entries.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithObserver attaches an activity observer.
func WithObserver(observer Observer) Option {
	return func(t *Tracker) {
		t.observer = observer
	}
}

// New creates a Tracker. The watchdog does not run until Run or Start is called.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		pending:  make(map[string]pending),
		interval: DefaultPollInterval,
		now:      time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register starts supervising messageID. Registering an ID that is already
// pending replaces its deadline and callback.
func (t *Tracker) Register(messageID string, timeout time.Duration, onExpire ExpireFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t.mu.Lock()
	_, replaced := t.pending[messageID]
	t.pending[messageID] = pending{
		expiry:   t.now().Add(timeout),
		onExpire: onExpire,
	}
	t.mu.Unlock()

	if !replaced && t.observer != nil {
		t.observer.TimeoutRegistered()
	}
	t.logger.Debug("timeout registered", "message_id", messageID, "timeout", timeout)
}

// Acknowledge removes the pending entry for messageID and reports whether it
// was still pending. False means it already expired or was never registered;
// callers treat that as already handled.
func (t *Tracker) Acknowledge(messageID string) bool {
	t.mu.Lock()
	_, ok := t.pending[messageID]
	delete(t.pending, messageID)
	t.mu.Unlock()

	if ok && t.observer != nil {
		t.observer.TimeoutAcknowledged()
	}
	return ok
}

// PendingCount returns the number of live entries.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Sweep fires and removes every entry past its deadline and returns how many fired.
// The watchdog calls it on every tick.
func (t *Tracker) Sweep() int {
	now := t.now()

	t.mu.Lock()
	expired := make(map[string]ExpireFunc)
	for id, p := range t.pending {
		if !now.Before(p.expiry) {
			expired[id] = p.onExpire
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	// Callbacks run outside the lock so they may register or acknowledge.
	for id, fn := range expired {
		t.logger.Warn("message timed out", "message_id", id)
		if t.observer != nil {
			t.observer.TimeoutExpired()
		}
		t.fire(id, fn)
	}
	return len(expired)
}

func (t *Tracker) fire(messageID string, fn ExpireFunc) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timeout callback panicked",
				"message_id", messageID,
				"err", fmt.Errorf("panic: %v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(messageID)
}

// Run sweeps at the configured interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Debug("timeout watchdog started", "poll_interval", t.interval)
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("timeout watchdog stopped", "pending", t.PendingCount())
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Start runs the watchdog in the background until Stop or ctx cancellation.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		_ = t.Run(runCtx)
	}(t.done)
	return nil
}

// Stop halts a watchdog started with Start and waits for it to exit.
// Pending entries are kept.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}
