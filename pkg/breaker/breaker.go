// Package breaker implements per-endpoint failure isolation: a three-state
// circuit breaker that fails fast once an endpoint is judged unhealthy, and
// a registry holding one breaker per endpoint URL for the process lifetime.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// State is the breaker state for one endpoint.
type State string

const (
	// StateClosed passes calls through and records failures.
	StateClosed State = "CLOSED"

	// StateOpen fails fast without invoking the call until the recovery
	// timeout elapses.
	StateOpen State = "OPEN"

	// StateHalfOpen probes the endpoint: successes close the circuit, the
	// first failure reopens it.
	StateHalfOpen State = "HALF_OPEN"
)

// Settings tune a breaker.
type Settings struct {
	// FailureThreshold is the number of failures inside the trailing window
	// that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that close the
	// circuit again.
	SuccessThreshold int

	// Timeout is both the trailing failure window and the open-state
	// recovery delay.
	Timeout time.Duration
}

// DefaultSettings mirror the framework defaults.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// Breaker is the failure-isolation state machine for one endpoint URL.
// State transitions are serialized by the breaker's own lock; recovery is
// time-gated and attempted lazily on the next call, never by a background
// timer.
type Breaker struct {
	url      string
	settings Settings
	log      zerolog.Logger

	mu           sync.Mutex
	state        State
	failures     []time.Time
	successCount int
	changedAt    time.Time

	// now is injectable for tests.
	now func() time.Time

	// onTransition observes state changes (metrics hook).
	onTransition func(url string, from, to State)
}

// New creates a breaker for one endpoint URL.
func New(url string, settings Settings, opts ...BreakerOption) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultSettings().SuccessThreshold
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultSettings().Timeout
	}

	b := &Breaker{
		url:      url,
		settings: settings,
		log:      zerolog.Nop(),
		state:    StateClosed,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.changedAt = b.now()
	return b
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock injects the time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the breaker's logger.
func WithLogger(log zerolog.Logger) BreakerOption {
	return func(b *Breaker) { b.log = log }
}

// WithTransitionHook observes state changes.
func WithTransitionHook(hook func(url string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onTransition = hook }
}

// Execute runs call under the breaker. While the circuit is open and the
// recovery time has not been reached it fails immediately with the
// distinguished circuit-open error, without invoking call. Otherwise the
// call runs and its original error, if any, is always re-raised untouched:
// the breaker augments failure handling, it never swallows errors.
func (b *Breaker) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := call(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current state after applying lazy recovery.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.changedAt) >= b.settings.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// URL returns the endpoint this breaker protects.
func (b *Breaker) URL() string {
	return b.url
}

// allow decides whether a call may proceed, moving an expired open circuit
// to half-open lazily.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.changedAt)
	if elapsed < b.settings.Timeout {
		return control.NewCircuitOpenError(b.url, b.settings.Timeout-elapsed)
	}

	b.transition(StateHalfOpen)
	b.successCount = 0
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
			b.failures = nil
			b.successCount = 0
		}
	case StateClosed:
		// Steady state; failure history ages out of the window on its own.
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		// One failure while probing reopens immediately.
		b.transition(StateOpen)
		b.failures = nil
	default:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// prune drops failure timestamps older than the trailing window.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.Timeout)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.changedAt = b.now()
	b.log.Info().
		Str("endpoint", b.url).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("circuit breaker state change")
	if b.onTransition != nil {
		b.onTransition(b.url, from, to)
	}
}
