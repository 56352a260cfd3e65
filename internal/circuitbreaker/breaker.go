// Package circuitbreaker guards calls to remote execution backends. A tripped
// breaker fails tasks fast instead of letting every task in a group wait out
// a timeout against a dead endpoint.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// Config tunes a breaker.
type Config struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// OnStateChange, when set, observes transitions.
	OnStateChange func(from, to State)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Cooldown: 30 * time.Second}
}

// Breaker is a consecutive-failure circuit breaker. Half-open admits a
// single probe; its outcome closes or re-opens the circuit.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	probing  bool
	openedAt time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{cfg: cfg}
}

// State returns the breaker's current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker. While open it returns ErrOpen without
// calling fn; fn's own error is passed through otherwise.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return ErrOpen
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.probing = false
		if err == nil {
			b.failures = 0
			b.setState(StateClosed)
		} else {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = time.Now()
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
