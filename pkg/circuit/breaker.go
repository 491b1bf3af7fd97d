// Package circuit wraps a types.Sink with a circuit breaker:
// CLOSED -> OPEN -> HALF_OPEN -> CLOSED, tripping after consecutive
// write failures and gating the OPEN -> HALF_OPEN transition on the
// sink's own HealthCheck rather than on timeout alone.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"corelog/pkg/types"
)

// Config configures a Breaker.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures to open
	SuccessThreshold int           // successes in half-open to close
	Timeout          time.Duration // time spent open before a health-checked probe is allowed
}

// Breaker implements the circuit breaker pattern around a sink write.
// Reopening is a two-stage decision: the cooldown timer must elapse,
// AND the guarded sink must itself report healthy, before a single
// live probe write is admitted.
type Breaker struct {
	config Config
	logger *logrus.Logger

	mu sync.Mutex

	state         types.CircuitBreakerState
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time

	halfOpenStartTime time.Time
	halfOpenSuccesses int
	probeInFlight     bool

	onStateChange func(from, to types.CircuitBreakerState)
}

// New constructs a Breaker with defaults applied for any zero-valued
// field.
func New(cfg Config, logger *logrus.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Breaker{config: cfg, logger: logger, state: types.CircuitBreakerClosed}
}

// OnStateChange registers a callback invoked whenever the breaker
// transitions state.
func (b *Breaker) OnStateChange(fn func(from, to types.CircuitBreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Guard runs write, a sink write, through the breaker against sink,
// the same sink write targets. It is split into three phases so the
// lock is never held across write(): a pre-check (locked) decides
// whether write may run at all, write executes unlocked, and a
// post-check (locked) records the outcome and trips the breaker if
// warranted.
//
// The OPEN -> HALF_OPEN transition is gated on sink.HealthCheck(), not
// on the cooldown elapsing alone: a sink that still reports unhealthy
// keeps the breaker open and the cooldown resets, so a known-bad sink
// never spends a live probe just because its timeout ran out. Once the
// health check passes, HALF_OPEN admits exactly one in-flight probe
// write at a time.
func (b *Breaker) Guard(ctx context.Context, sink types.Sink, write func(ctx context.Context) error) error {
	b.mu.Lock()
	b.requests++

	switch b.state {
	case types.CircuitBreakerOpen:
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		if !sink.HealthCheck() {
			b.nextRetryTime = time.Now().Add(b.config.Timeout)
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open (sink failed health check)", b.config.Name)
		}
		b.setState(types.CircuitBreakerHalfOpen)
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
		b.probeInFlight = true

	case types.CircuitBreakerHalfOpen:
		// A half-open probe that never resolves would wedge the
		// breaker open forever; double the configured timeout as a
		// safety valve.
		if time.Since(b.halfOpenStartTime) > b.config.Timeout*2 {
			b.logger.WithField("breaker", b.config.Name).Warn("half-open probe timed out, reopening")
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open timeout", b.config.Name)
		}
		if b.probeInFlight {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (probe in flight)", b.config.Name)
		}
		b.probeInFlight = true
	}
	b.mu.Unlock()

	err := write(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false

	if err != nil {
		b.onExecutionFailure(err)
		if b.shouldTrip() {
			b.trip()
		}
		return err
	}
	b.onExecutionSuccess()
	return nil
}

func (b *Breaker) shouldTrip() bool {
	return b.state == types.CircuitBreakerClosed && b.failures >= int64(b.config.FailureThreshold)
}

func (b *Breaker) trip() {
	if b.state == types.CircuitBreakerOpen {
		return
	}
	b.setState(types.CircuitBreakerOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
	b.logger.WithFields(logrus.Fields{
		"breaker":         b.config.Name,
		"failures":        b.failures,
		"next_retry_time": b.nextRetryTime,
	}).Warn("circuit breaker opened")
}

func (b *Breaker) onExecutionFailure(err error) {
	b.failures++
	b.lastFailure = time.Now()
	if b.state == types.CircuitBreakerHalfOpen {
		b.trip()
	}
}

func (b *Breaker) onExecutionSuccess() {
	b.successes++
	b.lastSuccess = time.Now()

	switch b.state {
	case types.CircuitBreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(types.CircuitBreakerClosed)
			b.reset()
		}
	case types.CircuitBreakerClosed:
		b.failures = 0
	}
}

func (b *Breaker) reset() {
	b.failures = 0
	b.halfOpenSuccesses = 0
	b.probeInFlight = false
	b.nextRetryTime = time.Time{}
}

func (b *Breaker) setState(newState types.CircuitBreakerState) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if b.onStateChange != nil {
		b.onStateChange(old, newState)
	}
	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": old,
		"new_state": newState,
	}).Info("circuit breaker state changed")
}

// State returns the breaker's current state.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() types.CircuitBreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.CircuitBreakerStats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}

// Reset forces the breaker back to closed, clearing counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(types.CircuitBreakerClosed)
	b.reset()
}

// SinkBreaker wraps a types.Sink so every Write goes through a
// Breaker, and failures route to a fallback sink instead of the
// caller seeing them directly.
type SinkBreaker struct {
	primary  types.Sink
	breaker  *Breaker
	fallback types.Sink
}

// NewSinkBreaker constructs a SinkBreaker. fallback may be nil, in
// which case Write returns the breaker's error directly when open or
// the primary's error when it fails.
func NewSinkBreaker(primary types.Sink, cfg Config, logger *logrus.Logger, fallback types.Sink) *SinkBreaker {
	return &SinkBreaker{primary: primary, breaker: New(cfg, logger), fallback: fallback}
}

func (s *SinkBreaker) Name() string { return s.primary.Name() }

func (s *SinkBreaker) Start(ctx context.Context) error { return s.primary.Start(ctx) }

func (s *SinkBreaker) Stop() error { return s.primary.Stop() }

func (s *SinkBreaker) HealthCheck() bool { return s.primary.HealthCheck() }

func (s *SinkBreaker) Write(ctx context.Context, view types.SerializedView) error {
	err := s.breaker.Guard(ctx, s.primary, func(ctx context.Context) error {
		return s.primary.Write(ctx, view)
	})
	if err != nil && s.fallback != nil {
		return s.fallback.Write(ctx, view)
	}
	return err
}

// Breaker exposes the underlying breaker for stats/metrics wiring.
func (s *SinkBreaker) Breaker() *Breaker { return s.breaker }
