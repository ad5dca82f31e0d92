package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrProbeLimit         = errors.New("circuit breaker probe limit reached")
)

// IsBreakerError reports whether err was produced by the breaker itself
// rather than by the protected call.
func IsBreakerError(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrProbeLimit)
}

// Verdict is what a call result says about the dependency's health
type Verdict int

const (
	VerdictSuccess Verdict = iota
	VerdictFailure
	// VerdictNeutral results are ignored: the caller gave up, or the
	// dependency answered for a target it refuses to serve.
	VerdictNeutral
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// Classifier maps the error of a guarded call to a Verdict
type Classifier func(err error) Verdict

// DefaultClassifier treats nil as success and caller cancellation as
// neutral. Every other error, deadlines included, is a failure.
func DefaultClassifier(err error) Verdict {
	switch {
	case err == nil:
		return VerdictSuccess
	case errors.Is(err, context.Canceled):
		return VerdictNeutral
	default:
		return VerdictFailure
	}
}

// Config tunes a single breaker
type Config struct {
	FailureThreshold  uint32        // consecutive failures that open a closed breaker
	Window            time.Duration // a closed breaker forgets its failure streak after this; 0 never forgets
	Cooldown          time.Duration // how long an open breaker rejects before probing
	MaxProbes         uint32        // calls admitted at once while half-open
	RecoveryThreshold uint32        // probe successes needed to close again
	Classify          Classifier
	OnStateChange     func(name string, from State, to State)
}

// DefaultConfig returns the defaults used when no env override applies
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Window:            time.Minute,
		Cooldown:          10 * time.Second,
		MaxProbes:         3,
		RecoveryThreshold: 2,
	}
}

// Stats are lifetime totals of one breaker
type Stats struct {
	Admitted  uint64
	Rejected  uint64
	Successes uint64
	Failures  uint64
	Neutral   uint64
}

// ticket identifies an admitted call. Results whose epoch is stale were
// started before a transition and are discarded.
type ticket struct {
	epoch uint64
	probe bool
}

// CircuitBreaker sheds calls to a dependency that keeps failing. While
// open it rejects everything until the cooldown ends, then admits a
// limited number of probes whose results decide between closing and
// reopening.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mutex     sync.Mutex
	state     State
	epoch     uint64
	streak    uint32    // consecutive failures while closed
	forgetAt  time.Time // closed: streak resets after this
	reopenEnd time.Time // open: probing starts after this
	inFlight  uint32    // half-open: admitted probes still running
	recovered uint32    // half-open: probe successes
	stats     Stats
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Classify == nil {
		config.Classify = DefaultClassifier
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.MaxProbes == 0 {
		config.MaxProbes = 1
	}
	if config.RecoveryThreshold == 0 {
		config.RecoveryThreshold = 1
	}
	cb := &CircuitBreaker{name: name, config: config, logger: logger, now: time.Now}
	cb.forgetAt = cb.windowEnd(cb.now())
	return cb
}

// Name returns the breaker name used in logs and metrics
func (cb *CircuitBreaker) Name() string { return cb.name }

// Classify applies the breaker's classifier to err
func (cb *CircuitBreaker) Classify(err error) Verdict {
	return cb.config.Classify(err)
}

// Execute runs fn unless the breaker rejects the call. A context that is
// already done is returned without touching the breaker. A panic in fn
// counts as a failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := cb.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(t, VerdictFailure)
		}
	}()

	err = fn()
	settled = true
	cb.settle(t, cb.config.Classify(err))
	return err
}

// State returns the current state. An open breaker whose cooldown has
// passed reports half-open.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.advance(cb.now())
	return cb.state
}

// Stats returns a snapshot of the lifetime totals
func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.stats
}

func (cb *CircuitBreaker) admit() (ticket, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.advance(cb.now())
	switch cb.state {
	case StateOpen:
		cb.stats.Rejected++
		return ticket{}, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.config.MaxProbes {
			cb.stats.Rejected++
			return ticket{}, ErrProbeLimit
		}
		cb.inFlight++
		cb.stats.Admitted++
		return ticket{epoch: cb.epoch, probe: true}, nil
	default:
		cb.stats.Admitted++
		return ticket{epoch: cb.epoch}, nil
	}
}

func (cb *CircuitBreaker) settle(t ticket, v Verdict) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch v {
	case VerdictSuccess:
		cb.stats.Successes++
	case VerdictFailure:
		cb.stats.Failures++
	default:
		cb.stats.Neutral++
	}

	now := cb.now()
	cb.advance(now)
	if t.epoch != cb.epoch {
		return
	}

	if t.probe {
		cb.inFlight--
		switch v {
		case VerdictFailure:
			cb.moveTo(StateOpen, now)
		case VerdictSuccess:
			cb.recovered++
			if cb.recovered >= cb.config.RecoveryThreshold {
				cb.moveTo(StateClosed, now)
			}
		}
		return
	}

	switch v {
	case VerdictFailure:
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			cb.moveTo(StateOpen, now)
		}
	case VerdictSuccess:
		cb.streak = 0
	}
}

// advance applies the time-driven transitions
func (cb *CircuitBreaker) advance(now time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.forgetAt.IsZero() && now.After(cb.forgetAt) {
			cb.streak = 0
			cb.forgetAt = cb.windowEnd(now)
		}
	case StateOpen:
		if !now.Before(cb.reopenEnd) {
			cb.moveTo(StateHalfOpen, now)
		}
	}
}

func (cb *CircuitBreaker) windowEnd(now time.Time) time.Time {
	if cb.config.Window <= 0 {
		return time.Time{}
	}
	return now.Add(cb.config.Window)
}

func (cb *CircuitBreaker) moveTo(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.epoch++
	cb.streak = 0
	cb.inFlight = 0
	cb.recovered = 0

	switch state {
	case StateClosed:
		cb.forgetAt = cb.windowEnd(now)
	case StateOpen:
		cb.reopenEnd = now.Add(cb.config.Cooldown)
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
