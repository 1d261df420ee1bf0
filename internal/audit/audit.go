package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradesys/ordergate/pkg/types"
)

// Event is one audit record. Attempts are emitted before any broker side
// effect; outcomes after. CorrelationID ties the two together.
type Event struct {
	Kind           string
	CorrelationID  string
	ClientIntentID string
	TenantID       string
	AccountID      string
	StrategyID     string
	Symbol         string
	Side           string
	Quantity       string
	Mode           string
	AgentName      string
	AgentRole      string
	AgentVersion   string
	TokenID        string
	Outcome        string
	Reason         string
	Checks         []types.CheckRecord
	At             time.Time
}

// Event kinds.
const (
	KindAttempt = "execution_attempt"
	KindOutcome = "execution_outcome"
	KindCancel  = "cancel_request"
	KindRecover = "recovery_action"
)

// Sink records audit events. Emit returns an error so callers on live paths
// can refuse to proceed when the trail cannot be written.
type Sink interface {
	Emit(event Event) error
}

// ZapSink writes audit events as structured log records through a dedicated
// logger, typically one teed to a durable output.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink over the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

// Emit implements Sink.
func (s *ZapSink) Emit(event Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("correlation_id", event.CorrelationID),
		zap.String("client_intent_id", event.ClientIntentID),
		zap.String("tenant_id", event.TenantID),
		zap.String("account_id", event.AccountID),
		zap.String("strategy_id", event.StrategyID),
		zap.String("symbol", event.Symbol),
		zap.String("side", event.Side),
		zap.String("qty", event.Quantity),
		zap.String("mode", event.Mode),
		zap.Time("at", event.At),
	}
	if event.AgentName != "" {
		fields = append(fields,
			zap.String("agent_name", event.AgentName),
			zap.String("agent_role", event.AgentRole),
			zap.String("agent_version", event.AgentVersion),
		)
	}
	if event.TokenID != "" {
		fields = append(fields, zap.String("token_id", event.TokenID))
	}
	if event.Outcome != "" {
		fields = append(fields, zap.String("outcome", event.Outcome))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if len(event.Checks) > 0 {
		fields = append(fields, zap.Any("checks", event.Checks))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// AttemptFor builds the attempt event for an intent, carrying the producing
// agent's identity from intent metadata.
func AttemptFor(intent types.OrderIntent, mode, correlationID string) Event {
	return Event{
		Kind:           KindAttempt,
		CorrelationID:  correlationID,
		ClientIntentID: intent.ClientIntentID,
		TenantID:       intent.TenantID(),
		AccountID:      intent.AccountID,
		StrategyID:     intent.StrategyID,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		Quantity:       intent.Quantity.String(),
		Mode:           mode,
		AgentName:      intent.Meta(types.MetaAgentName),
		AgentRole:      intent.Meta(types.MetaAgentRole),
		AgentVersion:   intent.Meta(types.MetaAgentVersion),
		At:             time.Now(),
	}
}

// OutcomeFor builds the outcome event paired with a prior attempt.
func OutcomeFor(attempt Event, outcome, reason string, checks []types.CheckRecord) Event {
	out := attempt
	out.Kind = KindOutcome
	out.Outcome = outcome
	out.Reason = reason
	out.Checks = checks
	out.At = time.Now()
	return out
}
