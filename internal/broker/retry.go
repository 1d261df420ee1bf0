package broker

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

// RetryPolicy controls how transient venue failures are retried.
type RetryPolicy struct {
	MaxRetries    int           `json:"maxRetries"`
	InitialDelay  time.Duration `json:"initialDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterEnabled bool          `json:"jitterEnabled"`
}

// DefaultRetryPolicy returns the standard venue retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Do executes fn with exponential backoff. Only recoverable broker errors are
// retried; authorization failures, invariant violations, and every other fatal
// category abort immediately so a halted system never hammers the venue.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.MaxRetries || !isRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return lastErr
}

func isRetryable(err error) bool {
	if execerrors.IsFatal(err) {
		return false
	}
	return execerrors.CategoryOf(err) == execerrors.CategoryBroker
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := p.InitialDelay
	if attempt > 0 {
		delay = time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	return delay
}

// CircuitBreaker trips open after consecutive venue failures and rejects
// calls until the reset timeout elapses.
type CircuitBreaker struct {
	MaxFailures  int
	ResetTimeout time.Duration

	mu           sync.Mutex
	failures     int
	lastFailTime time.Time
	state        CircuitState
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
		state:        CircuitClosed,
	}
}

// Call executes fn through the breaker.
func (cb *CircuitBreaker) Call(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailTime) > cb.ResetTimeout {
			cb.state = CircuitHalfOpen
		} else {
			cb.mu.Unlock()
			return execerrors.New(execerrors.CategoryBroker, "broker", operation, "circuit breaker is open").
				WithReason("circuit_open")
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.failures >= cb.MaxFailures {
			cb.state = CircuitOpen
		}
		return err
	}
	cb.failures = 0
	cb.state = CircuitClosed
	return nil
}
