package recovery

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/ordergate/internal/audit"
	"github.com/tradesys/ordergate/internal/monitoring"
	"github.com/tradesys/ordergate/internal/store"
	"github.com/tradesys/ordergate/pkg/types"
)

// OrderSyncer is the slice of the execution engine the sweep drives.
type OrderSyncer interface {
	Cancel(ctx context.Context, symbol, brokerOrderID string) error
	SyncAndLedgerIfFilled(ctx context.Context, symbol, brokerOrderID string) (decimal.Decimal, error)
}

// OpenOrderLister lists orders not yet in a terminal state.
type OpenOrderLister interface {
	ListOpenOrders(ctx context.Context) ([]store.OrderRecord, error)
}

// Sweeper is the reconciliation loop body: it lists open orders and applies
// the timeout policy — poll the stale ones, cancel the unfilled ones that
// outlived their timeout. Errors on individual orders are logged and do not
// stop the sweep.
type Sweeper struct {
	policy TimeoutPolicy
	orders OpenOrderLister
	syncer OrderSyncer
	sink   audit.Sink
	logger *zap.Logger
	clock  func() time.Time
}

// NewSweeper creates a sweeper. Recovery actions are emitted through the
// audit sink best-effort; the cancel path itself is audited fail-closed by
// the syncer.
func NewSweeper(policy TimeoutPolicy, orders OpenOrderLister, syncer OrderSyncer, sink audit.Sink, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		policy: policy,
		orders: orders,
		syncer: syncer,
		sink:   sink,
		logger: logger,
		clock:  time.Now,
	}
}

func (s *Sweeper) recordAction(rec store.OrderRecord, action, detail string) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(audit.Event{
		Kind:           audit.KindRecover,
		ClientIntentID: rec.ClientIntentID,
		TenantID:       rec.TenantID,
		AccountID:      rec.AccountID,
		Symbol:         rec.Symbol,
		Side:           rec.Side,
		Outcome:        action,
		Reason:         detail,
		At:             s.clock(),
	}); err != nil {
		s.logger.Warn("failed to emit recovery audit record",
			zap.String("broker_order_id", rec.BrokerOrderID),
			zap.Error(err))
	}
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Scanned   int
	Polled    int
	Cancelled int
	Errors    int
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	recs, err := s.orders.ListOpenOrders(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	now := s.clock()
	result := SweepResult{Scanned: len(recs)}
	for _, rec := range recs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		timeout := s.policy.TimeoutForIntent(types.AssetClass(rec.AssetClass), types.OrderType(rec.OrderType))
		switch {
		case rec.FilledQty.IsZero() && IsUnfilledPastTimeout(now, rec.CreatedAt, timeout):
			if err := s.syncer.Cancel(ctx, rec.Symbol, rec.BrokerOrderID); err != nil {
				result.Errors++
				s.logger.Error("failed to cancel timed-out order",
					zap.String("broker_order_id", rec.BrokerOrderID),
					zap.Error(err))
				continue
			}
			result.Cancelled++
			monitoring.RecordRecoveryAction("cancel")
			s.recordAction(rec, "cancel", "unfilled past timeout")
			s.logger.Info("cancelled unfilled order past timeout",
				zap.String("broker_order_id", rec.BrokerOrderID),
				zap.String("symbol", rec.Symbol),
				zap.Duration("timeout", timeout))

		case IsStaleForPoll(now, rec.LastSyncAt, s.policy.PollStaleAfter):
			delta, err := s.syncer.SyncAndLedgerIfFilled(ctx, rec.Symbol, rec.BrokerOrderID)
			if err != nil {
				result.Errors++
				s.logger.Error("failed to poll stale order",
					zap.String("broker_order_id", rec.BrokerOrderID),
					zap.Error(err))
				continue
			}
			result.Polled++
			monitoring.RecordRecoveryAction("poll")
			if delta.IsPositive() {
				s.recordAction(rec, "fill_delta", delta.String())
				s.logger.Info("ledgered fill delta during sweep",
					zap.String("broker_order_id", rec.BrokerOrderID),
					zap.String("delta", delta.String()))
			}
		}
	}
	return result, nil
}
