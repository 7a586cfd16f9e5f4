package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// BreakerState is the operating mode of a [Guard].
type BreakerState int

const (
	// BreakerClosed forwards every open.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects opens until the reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe through.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// GuardConfig holds tuning knobs for a [Guard].
type GuardConfig struct {
	// Name is a label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failed opens before the
	// breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration
}

// Guard wraps an [Opener] with a consecutive-failure circuit breaker so that
// a broken backend (for example a missing ffmpeg binary) fails fast instead
// of tying up acquisition slots. Only errors marked [ErrBackend] or
// [exec.ErrNotFound] count as failures. Any other error means the backend
// answered, so it resets the count just like a success. Cancelled or
// timed-out opens are not counted either way.
type Guard struct {
	next         Opener
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

var _ Opener = (*Guard)(nil)

// NewGuard returns a Guard in front of next.
func NewGuard(next Opener, cfg GuardConfig) *Guard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Guard{
		next:         next,
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// State returns the current breaker state.
func (g *Guard) State() BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == BreakerOpen && g.now().Sub(g.openedAt) >= g.resetTimeout {
		return BreakerHalfOpen
	}
	return g.state
}

// Open forwards to the wrapped opener unless the breaker is open.
func (g *Guard) Open(ctx context.Context, descriptor string) (Source, error) {
	if err := g.admit(); err != nil {
		return nil, err
	}
	src, err := g.next.Open(ctx, descriptor)
	g.record(err)
	return src, err
}

func (g *Guard) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case BreakerOpen:
		if g.now().Sub(g.openedAt) < g.resetTimeout {
			return fmt.Errorf("%w: %s breaker is open", ErrSourceUnavailable, g.name)
		}
		g.state = BreakerHalfOpen
		g.probing = false
		slog.Info("media: breaker half-open", "name", g.name)
		fallthrough
	case BreakerHalfOpen:
		if g.probing {
			return fmt.Errorf("%w: %s breaker is probing", ErrSourceUnavailable, g.name)
		}
		g.probing = true
	}
	return nil
}

func (g *Guard) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// The caller gave up; say nothing about backend health.
		if g.state == BreakerHalfOpen {
			g.probing = false
		}
		return
	}

	if err == nil || !backendFailure(err) {
		if g.state != BreakerClosed {
			slog.Info("media: breaker closed", "name", g.name)
		}
		g.state = BreakerClosed
		g.failures = 0
		g.probing = false
		return
	}

	g.failures++
	if g.state == BreakerHalfOpen || g.failures >= g.maxFailures {
		if g.state != BreakerOpen {
			slog.Warn("media: breaker open", "name", g.name, "failures", g.failures, "err", err)
		}
		g.state = BreakerOpen
		g.openedAt = g.now()
		g.probing = false
	}
}

// backendFailure reports whether err says the backend itself is broken, as
// opposed to the descriptor being bad.
func backendFailure(err error) bool {
	return errors.Is(err, ErrBackend) || errors.Is(err, exec.ErrNotFound)
}
