// Package breaker implements a circuit breaker state machine used to
// isolate repeatedly-failing task handler types. One Breaker instance
// is shared by all tasks of the same type and outlives any single job.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the breaker is rejecting calls.
// Callers must not invoke the guarded handler after receiving it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the current position of the breaker's state machine.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configures a Breaker.
type Settings struct {
	// Threshold is the number of consecutive failures that trips the
	// breaker from closed to open. Values < 1 default to 5.
	Threshold int

	// Timeout is how long the breaker stays open before allowing a
	// single trial call. Values <= 0 default to 60 seconds.
	Timeout time.Duration
}

// DefaultSettings returns the settings used when a handler type is
// registered without explicit breaker configuration.
func DefaultSettings() Settings {
	return Settings{
		Threshold: 5,
		Timeout:   60 * time.Second,
	}
}

// Breaker is a closed/open/half-open state machine. All state is
// guarded by a single mutex: failure counting and state transitions
// are read-modify-write sequences hit concurrently by every executing
// task of the handler type.
type Breaker struct {
	mu sync.Mutex

	settings    Settings
	state       State
	failures    int
	lastFailure time.Time

	// trialInFlight serializes the half-open window: only one caller
	// may run the trial call, everyone else is rejected as if open.
	trialInFlight bool

	// now is overridable for tests.
	now func() time.Time
}

// New creates a closed Breaker with the given settings.
func New(settings Settings) *Breaker {
	if settings.Threshold < 1 {
		settings.Threshold = DefaultSettings().Threshold
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultSettings().Timeout
	}
	return &Breaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed. It returns nil when the
// call is admitted and ErrOpen when it must be rejected without
// invoking the handler. Admitted callers must report the outcome with
// exactly one of RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailure) > b.settings.Timeout {
			// Cooldown elapsed: admit one trial call.
			b.state = StateHalfOpen
			b.trialInFlight = true
			return nil
		}
		return ErrOpen

	case StateHalfOpen:
		if b.trialInFlight {
			// A trial is already running; treat as still open.
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	}

	return nil
}

// RecordSuccess reports a successful call through the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure reports a failed call through the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// Trial failed: back to open with a fresh cooldown.
		b.trialInFlight = false
		b.state = StateOpen
		b.lastFailure = b.now()

	default:
		b.failures++
		b.lastFailure = b.now()
		if b.failures >= b.settings.Threshold {
			b.state = StateOpen
		}
	}
}

// Status is a point-in-time view of the breaker for introspection.
type Status struct {
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Status returns the breaker's current state and failure count.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:        b.state,
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
	}
}
