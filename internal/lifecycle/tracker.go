package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

// InvalidTransitionError is the typed rejection for a disallowed edge.
type InvalidTransitionError struct {
	OrderID string
	From    State
	To      State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order state transition %s -> %s for order %s", e.From, e.To, e.OrderID)
}

// TransitionSink receives validated transitions for durable audit recording.
// A nil sink disables persistence; recording failures are logged, not fatal,
// because the in-memory state has already advanced.
type TransitionSink interface {
	RecordTransition(orderID string, from, to State, at time.Time) error
}

// Tracker tracks canonical lifecycle states per broker order id. States are
// created on first observation, mutated only via validated transitions, and
// never deleted for the lifetime of the process.
//
// The map is guarded by a process-local mutex and is deliberately not
// cross-process-consistent; capital safety never depends on it.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
	logger *zap.Logger
	sink   TransitionSink
	clock  func() time.Time
}

// NewTracker creates an empty lifecycle tracker.
func NewTracker(logger *zap.Logger, sink TransitionSink) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		states: make(map[string]State),
		logger: logger,
		sink:   sink,
		clock:  time.Now,
	}
}

// Get returns the current state for orderID, if any.
func (t *Tracker) Get(orderID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[orderID]
	return s, ok
}

// Observe records state for an order seen for the first time, or applies a
// strict transition when the order is already tracked.
func (t *Tracker) Observe(orderID string, state State) error {
	return t.transition(orderID, state, true)
}

// Transition moves orderID to the target state. With strict=true an invalid
// edge returns InvalidTransitionError; with strict=false it is ignored
// (best-effort callers polling noisy broker feeds).
func (t *Tracker) Transition(orderID string, to State, strict bool) error {
	return t.transition(orderID, to, strict)
}

func (t *Tracker) transition(orderID string, to State, strict bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, tracked := t.states[orderID]
	if !tracked {
		t.states[orderID] = to
		t.record(orderID, to, to)
		return nil
	}
	if from == to {
		// Idempotent no-op.
		return nil
	}
	if !CanTransition(from, to) {
		err := &InvalidTransitionError{OrderID: orderID, From: from, To: to}
		if !strict {
			t.logger.Debug("ignoring invalid order state transition",
				zap.String("order_id", orderID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
			return nil
		}
		return execerrors.Wrap(err, execerrors.CategoryPolicy, "lifecycle", "transition").
			WithReason("invalid_transition")
	}

	t.states[orderID] = to
	t.record(orderID, from, to)
	return nil
}

func (t *Tracker) record(orderID string, from, to State) {
	if t.sink == nil {
		return
	}
	if err := t.sink.RecordTransition(orderID, from, to, t.clock()); err != nil {
		t.logger.Error("failed to persist order state transition",
			zap.String("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}
}
