// Package breaker implements the per-host Circuit Breaker (spec.md §4.C) on
// top of github.com/sony/gobreaker's TwoStepCircuitBreaker, whose
// Allow()/done(bool) contract maps directly onto can_execute/record_success/
// record_failure instead of hand-rolling the state machine.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Token is the receipt for one admitted call, returned by CanExecute. Each
// call through the breaker gets its own token so concurrent callers never
// share or overwrite each other's completion state; exactly one of
// RecordSuccess/RecordFailure should be called on it, at most once.
type Token struct {
	mu   sync.Mutex
	done func(bool)
}

func (t *Token) complete(success bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	done := t.done
	t.done = nil
	t.mu.Unlock()
	if done != nil {
		done(success)
	}
}

// RecordSuccess reports the call this token admitted succeeded.
func (t *Token) RecordSuccess() { t.complete(true) }

// RecordFailure reports the call this token admitted failed.
func (t *Token) RecordFailure() { t.complete(false) }

// State mirrors the spec's closed/open/half_open vocabulary.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config carries the breaker's two knobs (spec.md §4.C).
type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 3, Cooldown: 60 * time.Second}
}

// Breaker is a per-host closed/open/half-open state machine guarding calls
// to a single upstream (a cloud provider or the local engine). Safe for
// concurrent use: every CanExecute call gets its own Token, so concurrent
// in-flight calls to the same upstream never clobber each other's
// completion.
type Breaker struct {
	name string
	cb   *gobreaker.TwoStepCircuitBreaker
}

func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Cooldown < 5*time.Second {
		cfg.Cooldown = 5 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}

	return &Breaker{
		name: name,
		cb:   gobreaker.NewTwoStepCircuitBreaker(settings),
	}
}

// CanExecute reports whether a caller may proceed, returning a Token the
// caller must complete with RecordSuccess or RecordFailure. In closed,
// always admits (ok=true, token non-nil). In open, admits iff the cooldown
// has elapsed, which also transitions the breaker to half_open. In
// half_open, admits at most one concurrent caller until that caller
// completes its token (enforced by gobreaker's MaxRequests=1 in the
// half_open generation); ok=false means the call must not proceed, and the
// returned token is nil.
func (b *Breaker) CanExecute() (*Token, bool) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, false
	}
	return &Token{done: done}, true
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// FailureCount is the current consecutive-failure count, bounded by the
// configured failure threshold.
func (b *Breaker) FailureCount() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}

// Name identifies which upstream this breaker guards (a host or provider
// name), for logging and metrics labels.
func (b *Breaker) Name() string {
	return b.name
}
