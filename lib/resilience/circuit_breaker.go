// Package resilience protects the daemon from unreachable gateways and
// bridges.
//
// A Breaker counts consecutive failures of an operation such as dialing a
// gateway. Once the failure threshold is reached the breaker opens and calls
// fail fast with ErrCircuitOpen until the cooldown has elapsed, after which a
// limited number of trial calls decide whether it closes again.
//
//	Closed -> Open -> HalfOpen -> Closed
//	           ^          |
//	           +----------+ (trial failed)
package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the state of a breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of successful trials in half-open
	// state that closes the breaker.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before allowing trials.
	Cooldown time.Duration
	// MaxTrials caps concurrent calls in half-open state.
	MaxTrials int
	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultConfig returns defaults suited to dialing gateways.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
		MaxTrials:        1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.MaxTrials <= 0 {
		c.MaxTrials = def.MaxTrials
	}
	return c
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu     sync.Mutex
	config Config
	name   string
	now    func() time.Time

	state     State
	failures  int
	successes int
	trials    int

	lastFailure time.Time
	lastChange  time.Time
	openedAt    time.Time

	onStateChange func(name string, from, to State)
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{
		config:     cfg.withDefaults(),
		name:       name,
		now:        time.Now,
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// OnStateChange registers fn to be called after each transition. fn runs
// on its own goroutine.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDownLocked() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) cooledDownLocked() bool {
	return b.now().Sub(b.openedAt) >= b.config.Cooldown
}

// Allow reports whether a call may proceed and reserves a trial slot in
// half-open state. Callers that get true must report the outcome with
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.cooledDownLocked() {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.trials = 1
		return true
	case StateHalfOpen:
		if b.trials < b.config.MaxTrials {
			b.trials++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.trials > 0 {
			b.trials--
		}
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	case StateOpen:
		log.WithField("breaker", b.name).Debug("success recorded while open")
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with b.mu held.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.lastChange = b.now()

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.trials = 0
	case StateOpen:
		b.openedAt = b.lastChange
		b.successes = 0
		b.trials = 0
	case StateHalfOpen:
		b.successes = 0
		b.trials = 0
	}

	log.WithField("breaker", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("breaker state changed")

	if fn := b.onStateChange; fn != nil {
		go fn(b.name, from, to)
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		b.release()
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
		// The caller gave up; say nothing about the remote side.
		b.release()
		return err
	case b.countsAsFailure(err):
		b.RecordFailure()
	default:
		b.RecordSuccess()
	}
	return err
}

func (b *Breaker) countsAsFailure(err error) bool {
	if b.config.IsFailure == nil {
		return true
	}
	return b.config.IsFailure(err)
}

// release returns an unused half-open trial slot.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
}

// ForceOpen opens the breaker regardless of its counters.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateOpen)
}

// Reset returns the breaker to a fresh closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.openedAt = time.Time{}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
	LastChange  time.Time `json:"lastChange"`
}

// Stats returns the breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == StateOpen && b.cooledDownLocked() {
		state = StateHalfOpen
	}
	return Stats{
		Name:        b.name,
		State:       state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		LastChange:  b.lastChange,
	}
}
