// Package breaker implements a circuit breaker guarding calls that can fail
// repeatedly — an agent invocation, a downstream orchestrator — so that a
// sustained failure stops retrying immediately instead of piling up latency.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// numeric mirrors the Prometheus gauge convention: 0=closed, 1=half_open, 2=open.
func (s State) numeric() int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// ErrHalfOpenSaturated is returned when the half-open trial budget is spent.
var ErrHalfOpenSaturated = errors.New("circuit breaker half-open call limit reached")

// Config tunes the breaker's thresholds. The zero value is invalid; use
// DefaultConfig or NewBreaker, which applies it automatically.
type Config struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	SuccessThreshold  int
	HalfOpenMaxCalls  int
}

// DefaultConfig mirrors the original Python service's tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		HalfOpenMaxCalls: 3,
	}
}

// Transition records one state change for the bounded transition log.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Stats is a point-in-time snapshot of the breaker's counters, safe to read
// without holding the breaker's lock.
type Stats struct {
	TotalCalls           int
	FailedCalls          int
	SuccessfulCalls      int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastSuccess          time.Time
}

// FailureRate returns FailedCalls/TotalCalls, or 0 when no calls were made.
func (s Stats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

const transitionLogSize = 5

// Breaker is a mutex-guarded circuit breaker state machine, one per
// protected callable (an agent, an orchestrator variant).
type Breaker struct {
	name    string
	config  Config
	metrics *metrics.Metrics

	mu             sync.Mutex
	state          State
	stats          Stats
	halfOpenCalls  int
	stateChangedAt time.Time
	transitions    []Transition
}

// NewBreaker constructs a breaker starting in the closed state. m may be nil
// to skip Prometheus recording (useful in tests).
func NewBreaker(name string, config Config, m *metrics.Metrics) *Breaker {
	if config.FailureThreshold == 0 {
		config = DefaultConfig()
	}
	return &Breaker{
		name:           name,
		config:         config,
		metrics:        m,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// Call executes fn through the breaker, applying state transitions before
// and after the invocation. The original error from fn is returned
// unwrapped so callers can inspect it with errors.Is/As.
func (b *Breaker) Call(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()

	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.stateChangedAt) >= b.config.RecoveryTimeout {
		b.changeStateLocked(StateHalfOpen)
		b.halfOpenCalls = 0
	}

	if b.state == StateOpen {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return fmt.Errorf("%s: %w", b.name, ErrHalfOpenSaturated)
		}
		b.halfOpenCalls++
	}

	b.stats.TotalCalls++
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccessLocked()
	} else {
		b.onFailureLocked()
	}
}

func (b *Breaker) onSuccessLocked() {
	b.stats.SuccessfulCalls++
	b.stats.ConsecutiveSuccesses++
	b.stats.ConsecutiveFailures = 0
	b.stats.LastSuccess = time.Now()

	if b.state == StateHalfOpen && b.stats.ConsecutiveSuccesses >= b.config.SuccessThreshold {
		b.changeStateLocked(StateClosed)
	}
}

func (b *Breaker) onFailureLocked() {
	b.stats.FailedCalls++
	b.stats.ConsecutiveFailures++
	b.stats.ConsecutiveSuccesses = 0
	b.stats.LastFailure = time.Now()

	if b.metrics != nil {
		b.metrics.RecordAgentError(b.name, "circuit_failure")
	}

	switch b.state {
	case StateClosed:
		if b.stats.ConsecutiveFailures >= b.config.FailureThreshold {
			b.changeStateLocked(StateOpen)
		}
	case StateHalfOpen:
		b.changeStateLocked(StateOpen)
	}
}

func (b *Breaker) changeStateLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stateChangedAt = time.Now()

	b.transitions = append(b.transitions, Transition{From: from, To: to, At: b.stateChangedAt})
	if len(b.transitions) > transitionLogSize {
		b.transitions = b.transitions[len(b.transitions)-transitionLogSize:]
	}

	log.WithFields(map[string]interface{}{
		"breaker":   b.name,
		"old_state": from,
		"new_state": to,
	}).Info("circuit breaker state changed")

	if b.metrics != nil {
		b.metrics.SetCircuitBreakerState(b.name, to.numeric())
		if to == StateOpen {
			b.metrics.RecordCircuitBreakerTrip(b.name)
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is an immutable snapshot of the breaker for external reporting.
type Status struct {
	Name             string
	State            State
	Stats            Stats
	Config           Config
	StateChangedAt   time.Time
	RecentTransitions []Transition
}

// GetStatus copies the breaker's state out under lock for safe concurrent
// reads, matching the teacher's ratelimit.Limiter snapshot idiom.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	transitions := make([]Transition, len(b.transitions))
	copy(transitions, b.transitions)

	return Status{
		Name:              b.name,
		State:             b.state,
		Stats:             b.stats,
		Config:            b.config,
		StateChangedAt:    b.stateChangedAt,
		RecentTransitions: transitions,
	}
}
