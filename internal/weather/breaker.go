package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"solar-pump-rl/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker is failing fast
var ErrCircuitOpen = errors.New("weather circuit breaker is open")

// BreakerState is the state of a Breaker
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after maxFailures consecutive failures and lets a single
// trial call through once resetTimeout has passed.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        Closed,
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op unless the breaker is open
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = HalfOpen
		logger.GetLogger().WithField("breaker", b.name).Info("Circuit breaker half-open, probing")
	case HalfOpen:
		// a probe is already in flight
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != Closed {
			logger.GetLogger().WithField("breaker", b.name).Info("Circuit breaker closed")
		}
		b.state = Closed
		b.failures = 0
		return nil
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.maxFailures {
		b.state = Open
		b.openedAt = b.now()
		logger.GetLogger().WithField("breaker", b.name).
			WithField("failures", b.failures).
			Warn("Circuit breaker opened")
	}
	return err
}
