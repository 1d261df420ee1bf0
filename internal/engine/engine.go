package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/ordergate/internal/audit"
	"github.com/tradesys/ordergate/internal/authz"
	"github.com/tradesys/ordergate/internal/broker"
	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/internal/ledger"
	"github.com/tradesys/ordergate/internal/lifecycle"
	"github.com/tradesys/ordergate/internal/monitoring"
	"github.com/tradesys/ordergate/internal/store"
	"github.com/tradesys/ordergate/pkg/types"
)

// OrderStore is the slice of the persistence layer the engine writes through.
type OrderStore interface {
	CreateOrderRecord(ctx context.Context, rec *store.OrderRecord) (*store.OrderRecord, bool, error)
	GetOrderRecordByIntent(ctx context.Context, clientIntentID string) (*store.OrderRecord, error)
	UpdateOrderPlacement(ctx context.Context, clientIntentID, brokerOrderID, status string) error
	UpdateOrderStatus(ctx context.Context, brokerOrderID, status string) error
	AppendLedgerEntry(ctx context.Context, entry *store.LedgerEntry) error
	ApplyFill(ctx context.Context, brokerOrderID string, cumFilled, price decimal.Decimal) (decimal.Decimal, error)
}

// RiskValidator runs the policy check battery.
type RiskValidator interface {
	Validate(ctx context.Context, intent types.OrderIntent, snapshot types.AccountSnapshot) (types.RiskDecision, error)
}

// SnapshotProvider reads the account view an intent is evaluated against.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, tenantID, accountID string) (types.AccountSnapshot, error)
}

// Config is the engine's execution policy.
type Config struct {
	// DryRun bypasses the LIVE-mode requirement and the broker call. It never
	// bypasses the kill switch.
	DryRun bool
	// RequireToken demands a valid single-use confirmation token per attempt.
	RequireToken bool
	TokenScope   string
	// SymbolCooldown is the minimum spacing between trades on the same
	// (account, symbol) pair. Zero disables the check.
	SymbolCooldown time.Duration
}

// Engine orchestrates one execution attempt end to end: authorization gates,
// capital reservation with guaranteed release, risk validation, symbol
// cooldown, broker placement, lifecycle seeding, and ledger append.
type Engine struct {
	cfg       Config
	gate      *authz.Gate
	risk      RiskValidator
	snapshots SnapshotProvider
	capital   ledger.Service
	venue     broker.Broker
	tracker   *lifecycle.Tracker
	orders    OrderStore
	sink      audit.Sink
	cooldown  *symbolCooldown
	logger    *zap.Logger
	clock     func() time.Time
}

// New assembles the execution engine.
func New(cfg Config, gate *authz.Gate, risk RiskValidator, snapshots SnapshotProvider,
	capital ledger.Service, venue broker.Broker, tracker *lifecycle.Tracker,
	orders OrderStore, sink audit.Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}
	return &Engine{
		cfg:       cfg,
		gate:      gate,
		risk:      risk,
		snapshots: snapshots,
		capital:   capital,
		venue:     venue,
		tracker:   tracker,
		orders:    orders,
		sink:      sink,
		cooldown:  newSymbolCooldown(cfg.SymbolCooldown),
		logger:    logger,
		clock:     time.Now,
	}
}

// ExecuteIntent runs one execution attempt. Policy rejections come back as a
// result with status "rejected"; authorization-boundary violations, invariant
// failures, and broker errors come back as errors.
func (e *Engine) ExecuteIntent(ctx context.Context, rawIntent types.OrderIntent, confirmationToken string) (*types.ExecutionResult, error) {
	intent, err := rawIntent.Normalize()
	if err != nil {
		return nil, execerrors.NewInvariantError("engine", "execute_intent", err.Error())
	}

	correlationID := uuid.NewString()
	mode := e.gate.Mode.Current()
	attempt := audit.AttemptFor(intent, string(mode), correlationID)

	// A required confirmation token is validated and consumed on dry-run
	// attempts too; dry-run bypasses only the LIVE-mode requirement. The
	// consumed token id travels on the attempt record.
	var tokenErr error
	if e.cfg.RequireToken {
		if claims, err := e.gate.Tokens.Require(ctx, confirmationToken, e.cfg.TokenScope, e.clock()); err != nil {
			tokenErr = err
		} else {
			attempt.TokenID = claims.ID
		}
	}

	// The attempt record is written before any capital or broker side
	// effect. A live attempt that cannot be audited must not proceed.
	if err := e.sink.Emit(attempt); err != nil {
		if mode == authz.ModeLive && !e.cfg.DryRun {
			return nil, execerrors.Wrap(err, execerrors.CategoryAuthz, "engine", "execute_intent").
				WithReason("audit_unavailable")
		}
		e.logger.Warn("audit emission failed on non-live attempt", zap.Error(err))
	}
	if tokenErr != nil {
		return e.failAttempt(attempt, nil, tokenErr)
	}

	// Kill switch comes next, before any reservation is acquired, so a
	// halted system holds no capital for a call that can never proceed.
	if err := e.gate.Kill.RequireOff("execute_intent"); err != nil {
		return e.failAttempt(attempt, nil, err)
	}
	if !e.cfg.DryRun {
		if err := e.gate.Mode.RequireLive("execute_intent"); err != nil {
			return e.failAttempt(attempt, nil, err)
		}
	}

	// A client intent that already produced a broker order returns the
	// recorded outcome instead of double-placing.
	if existing, err := e.orders.GetOrderRecordByIntent(ctx, intent.ClientIntentID); err != nil {
		return e.failAttempt(attempt, nil, execerrors.NewStoreError("engine", "execute_intent", err))
	} else if existing != nil && existing.BrokerOrderID != "" {
		result := &types.ExecutionResult{
			Status:        types.StatusAccepted,
			BrokerOrderID: existing.BrokerOrderID,
			Message:       "intent already executed",
			CorrelationID: correlationID,
		}
		e.finishAttempt(attempt, result)
		return result, nil
	}

	snapshot, err := e.snapshots.Snapshot(ctx, intent.TenantID(), intent.AccountID)
	if err != nil {
		return e.failAttempt(attempt, nil, execerrors.NewDataUnavailableError("engine", "execute_intent", err))
	}

	notional, err := intent.Notional()
	if err != nil {
		result := e.rejected(correlationID, "notional_unavailable", types.RiskDecision{}, err.Error())
		e.finishAttempt(attempt, result)
		return result, nil
	}

	if _, err := e.capital.Reserve(ctx, intent.TenantID(), intent.AccountID, intent.ClientIntentID, notional, snapshot.BuyingPower); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBuyingPower):
			result := e.rejected(correlationID, "insufficient_buying_power", types.RiskDecision{}, "")
			e.finishAttempt(attempt, result)
			return result, nil
		case errors.Is(err, ledger.ErrDuplicateReservation):
			result := e.rejected(correlationID, "duplicate_reservation", types.RiskDecision{}, "")
			e.finishAttempt(attempt, result)
			return result, nil
		default:
			return e.failAttempt(attempt, nil, execerrors.NewStoreError("engine", "reserve_capital", err))
		}
	}
	guard := newReservationGuard(e.capital, intent.TenantID(), intent.AccountID, intent.ClientIntentID, e.logger)
	defer guard.release(ctx)

	decision, err := e.risk.Validate(ctx, intent, snapshot)
	if err != nil {
		_, ferr := e.failAttempt(attempt, &decision, err)
		return nil, ferr
	}
	if !decision.Allowed {
		guard.complete("rejected")
		result := e.rejected(correlationID, decision.Reason, decision, "")
		e.finishAttempt(attempt, result)
		return result, nil
	}

	cooldownStamp := e.clock()
	if !e.cooldown.Acquire(intent.AccountID, intent.Symbol, cooldownStamp) {
		guard.complete("rejected")
		result := e.rejected(correlationID, "symbol_cooldown", decision, "")
		e.finishAttempt(attempt, result)
		return result, nil
	}

	if e.cfg.DryRun {
		e.cooldown.Relinquish(intent.AccountID, intent.Symbol, cooldownStamp)
		guard.complete("dry_run")
		result := &types.ExecutionResult{
			Status:        types.StatusDryRun,
			Decision:      decision,
			CorrelationID: correlationID,
		}
		e.finishAttempt(attempt, result)
		return result, nil
	}

	rec := &store.OrderRecord{
		ClientIntentID: intent.ClientIntentID,
		TenantID:       intent.TenantID(),
		AccountID:      intent.AccountID,
		StrategyID:     intent.StrategyID,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		Quantity:       intent.Quantity,
		AssetClass:     string(intent.AssetClass),
		OrderType:      string(intent.OrderType),
		Status:         string(lifecycle.StateNew),
		FilledQty:      decimal.Zero,
		CreatedAt:      e.clock(),
	}
	if existing, created, err := e.orders.CreateOrderRecord(ctx, rec); err != nil {
		e.cooldown.Relinquish(intent.AccountID, intent.Symbol, cooldownStamp)
		return e.failAttempt(attempt, &decision, execerrors.NewStoreError("engine", "execute_intent", err))
	} else if !created && existing.BrokerOrderID != "" {
		e.cooldown.Relinquish(intent.AccountID, intent.Symbol, cooldownStamp)
		guard.complete("duplicate")
		result := &types.ExecutionResult{
			Status:        types.StatusAccepted,
			Decision:      decision,
			BrokerOrderID: existing.BrokerOrderID,
			Message:       "intent already executed",
			CorrelationID: correlationID,
		}
		e.finishAttempt(attempt, result)
		return result, nil
	}

	order, err := e.venue.PlaceOrder(ctx, intent)
	if err != nil {
		e.cooldown.Relinquish(intent.AccountID, intent.Symbol, cooldownStamp)
		monitoring.RecordBrokerError("place_order")
		_, ferr := e.failAttempt(attempt, &decision, execerrors.NewBrokerError("engine", "place_order", err))
		return nil, ferr
	}

	state, ok := lifecycle.BrokerOrderToState(order.Status, order.FilledQty, order.Qty)
	if !ok {
		state = lifecycle.StateNew
	}
	if err := e.tracker.Observe(order.ID, state); err != nil {
		e.logger.Error("failed to seed order lifecycle state", zap.String("broker_order_id", order.ID), zap.Error(err))
	}
	if err := e.orders.UpdateOrderPlacement(ctx, intent.ClientIntentID, order.ID, string(state)); err != nil {
		e.logger.Error("failed to record order placement", zap.String("broker_order_id", order.ID), zap.Error(err))
	}
	if err := e.orders.AppendLedgerEntry(ctx, &store.LedgerEntry{
		BrokerOrderID:  order.ID,
		ClientIntentID: intent.ClientIntentID,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		Quantity:       intent.Quantity,
		Outcome:        "placed",
		CreatedAt:      e.clock(),
	}); err != nil {
		e.logger.Error("failed to append placement ledger entry", zap.String("broker_order_id", order.ID), zap.Error(err))
	}
	if order.FilledQty.IsPositive() {
		if _, err := e.orders.ApplyFill(ctx, order.ID, order.FilledQty, order.AvgPrice); err != nil {
			e.logger.Error("failed to ledger immediate fill", zap.String("broker_order_id", order.ID), zap.Error(err))
		}
	}

	guard.complete("placed")
	notionalF, _ := notional.Float64()
	monitoring.RecordPlacedNotional(intent.Symbol, notionalF)

	result := &types.ExecutionResult{
		Status:        types.StatusPlaced,
		Decision:      decision,
		BrokerOrderID: order.ID,
		CorrelationID: correlationID,
	}
	e.finishAttempt(attempt, result)
	return result, nil
}

// Cancel requests cancellation of an open broker order. The authorization
// gates are re-read here, in the same call stack frame as the broker call.
func (e *Engine) Cancel(ctx context.Context, symbol, brokerOrderID string) error {
	if err := e.gate.Kill.RequireOff("cancel_order"); err != nil {
		return err
	}
	if err := e.gate.Mode.RequireLive("cancel_order"); err != nil {
		return err
	}

	if err := e.sink.Emit(audit.Event{
		Kind:          audit.KindCancel,
		CorrelationID: uuid.NewString(),
		Symbol:        symbol,
		Mode:          string(e.gate.Mode.Current()),
		At:            e.clock(),
	}); err != nil {
		return execerrors.Wrap(err, execerrors.CategoryAuthz, "engine", "cancel_order").
			WithReason("audit_unavailable")
	}

	if err := e.venue.CancelOrder(ctx, symbol, brokerOrderID); err != nil {
		monitoring.RecordBrokerError("cancel_order")
		return execerrors.NewBrokerError("engine", "cancel_order", err)
	}

	if err := e.tracker.Transition(brokerOrderID, lifecycle.StateCancelled, false); err != nil {
		e.logger.Error("failed to track cancellation", zap.String("broker_order_id", brokerOrderID), zap.Error(err))
	}
	if err := e.orders.UpdateOrderStatus(ctx, brokerOrderID, string(lifecycle.StateCancelled)); err != nil {
		e.logger.Error("failed to record cancellation", zap.String("broker_order_id", brokerOrderID), zap.Error(err))
	}
	return nil
}

// SyncAndLedgerIfFilled polls the venue state of an order, advances the
// lifecycle tracker best-effort, and ledgers only the fill delta since the
// last observed cumulative quantity. Returns the delta written.
func (e *Engine) SyncAndLedgerIfFilled(ctx context.Context, symbol, brokerOrderID string) (decimal.Decimal, error) {
	if err := e.gate.Kill.RequireOff("sync_order"); err != nil {
		return decimal.Zero, err
	}
	if err := e.gate.Mode.RequireLive("sync_order"); err != nil {
		return decimal.Zero, err
	}

	order, err := e.venue.GetOrderStatus(ctx, symbol, brokerOrderID)
	if err != nil {
		monitoring.RecordBrokerError("get_order_status")
		return decimal.Zero, execerrors.NewBrokerError("engine", "sync_order", err)
	}

	if state, ok := lifecycle.BrokerOrderToState(order.Status, order.FilledQty, order.Qty); ok {
		if err := e.tracker.Transition(brokerOrderID, state, false); err != nil {
			e.logger.Error("failed to track order state", zap.String("broker_order_id", brokerOrderID), zap.Error(err))
		}
		if err := e.orders.UpdateOrderStatus(ctx, brokerOrderID, string(state)); err != nil {
			e.logger.Error("failed to record order state", zap.String("broker_order_id", brokerOrderID), zap.Error(err))
		}
	}

	if !order.FilledQty.IsPositive() {
		return decimal.Zero, nil
	}
	delta, err := e.orders.ApplyFill(ctx, brokerOrderID, order.FilledQty, order.AvgPrice)
	if err != nil {
		return decimal.Zero, execerrors.NewStoreError("engine", "sync_order", err)
	}
	return delta, nil
}

// Tracker exposes the lifecycle tracker for the status CLI.
func (e *Engine) Tracker() *lifecycle.Tracker {
	return e.tracker
}

func (e *Engine) rejected(correlationID, reason string, decision types.RiskDecision, message string) *types.ExecutionResult {
	monitoring.RecordRejection(reason)
	if decision.Reason == "" {
		decision.Reason = reason
	}
	return &types.ExecutionResult{
		Status:        types.StatusRejected,
		Decision:      decision,
		Message:       message,
		CorrelationID: correlationID,
	}
}

func (e *Engine) finishAttempt(attempt audit.Event, result *types.ExecutionResult) {
	monitoring.RecordExecution(string(result.Status))
	reason := result.Decision.Reason
	if err := e.sink.Emit(audit.OutcomeFor(attempt, string(result.Status), reason, result.Decision.Checks)); err != nil {
		e.logger.Error("failed to emit outcome audit record", zap.Error(err))
	}
}

func (e *Engine) failAttempt(attempt audit.Event, decision *types.RiskDecision, cause error) (*types.ExecutionResult, error) {
	monitoring.RecordExecution("error")
	var checks []types.CheckRecord
	if decision != nil {
		checks = decision.Checks
	}
	if err := e.sink.Emit(audit.OutcomeFor(attempt, "error", execerrors.ReasonOf(cause), checks)); err != nil {
		e.logger.Error("failed to emit outcome audit record", zap.Error(err))
	}
	if execerrors.IsFatal(cause) {
		e.logger.Error("execution attempt terminated at the authorization boundary",
			zap.String("client_intent_id", attempt.ClientIntentID),
			zap.String("reason", execerrors.ReasonOf(cause)),
			zap.Error(cause),
		)
	}
	return nil, cause
}
