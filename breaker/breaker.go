// Package breaker implements a per-resource-name circuit breaker: a guard
// that stops calling a failing dependency during a cooldown period.
//
// A breaker moves between three states. Closed passes calls through and
// counts consecutive failures. Open fails calls immediately with *OpenError
// without invoking the work. Once the reset timeout has elapsed the breaker
// admits exactly one probe call (half-open); the probe's outcome decides
// whether the breaker closes again or re-opens.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/taskgridgo/taskctx"
)

// State is the current position of a breaker's state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OpenError is returned when a call is refused because the breaker is open
// (or a probe is already in flight during half-open).
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit %q is open, retry after %s", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("circuit %q is open", e.Name)
}

// Settings configures a breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed breaker open. Defaults to 5.
	FailureThreshold int

	// ResetTimeout is how long an open breaker refuses calls before
	// admitting a probe. Defaults to 30s.
	ResetTimeout time.Duration

	// OnStateChange, if set, is called after every transition. It runs
	// outside the breaker's lock and must not block for long.
	OnStateChange func(name string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	return s
}

// now is overridden in tests to provide deterministic timings.
var now = time.Now

// Breaker is a single named circuit breaker. All state transitions are
// mutually exclusive; State may be read concurrently.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker for the given resource name.
func New(name string, settings Settings) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
	}
}

// Name returns the resource name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting Open to HalfOpen once the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Execute applies the breaker rules around work. When the call is refused
// the work is never invoked and *OpenError is returned.
func (b *Breaker) Execute(ctx context.Context, work func(ctx context.Context) (any, error)) (any, error) {
	probe, from, err := b.allow()
	if err != nil {
		return nil, err
	}
	if probe {
		taskctx.Logger(ctx).Debug("Circuit breaker admitting probe call.", "breaker", b.name)
		if from != HalfOpen && b.settings.OnStateChange != nil {
			b.settings.OnStateChange(b.name, from, HalfOpen)
		}
	}

	value, workErr := work(ctx)
	b.record(ctx, probe, workErr)
	return value, workErr
}

// allow decides whether a call may proceed. It reports whether the call is
// the half-open probe, and the state the breaker was in before the call
// was admitted so Execute can report the transition accurately.
func (b *Breaker) allow() (probe bool, from State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, Closed, nil
	case Open:
		elapsed := now().Sub(b.openedAt)
		if elapsed < b.settings.ResetTimeout {
			return false, Open, &OpenError{Name: b.name, RetryAfter: b.settings.ResetTimeout - elapsed}
		}
		// Reset timeout elapsed: this caller becomes the sole probe.
		b.state = HalfOpen
		b.probing = true
		return true, Open, nil
	case HalfOpen:
		if b.probing {
			return false, HalfOpen, &OpenError{Name: b.name}
		}
		b.probing = true
		return true, HalfOpen, nil
	default:
		return false, b.state, fmt.Errorf("breaker %q in unknown state %d", b.name, int(b.state))
	}
}

// record applies the outcome of a finished call to the state machine.
func (b *Breaker) record(ctx context.Context, probe bool, workErr error) {
	b.mu.Lock()
	from := b.state

	if workErr != nil {
		if probe {
			b.probing = false
			b.trip()
		} else if b.state == Closed {
			b.failures++
			if b.failures >= b.settings.FailureThreshold {
				b.trip()
			}
		}
	} else {
		if probe {
			b.probing = false
			b.state = Closed
		}
		b.failures = 0
	}

	to := b.state
	b.mu.Unlock()

	if from != to {
		taskctx.Logger(ctx).Debug("Circuit breaker state changed.",
			"breaker", b.name, "from", from.String(), "to", to.String())
		if b.settings.OnStateChange != nil {
			b.settings.OnStateChange(b.name, from, to)
		}
	}
}

// trip opens the breaker and records the opening time. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = now()
	b.failures = 0
}
