package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradesys/ordergate/internal/authz"
	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/pkg/types"
)

// Stable rejection reason codes emitted by the decision engine.
const (
	ReasonKillSwitch         = "kill_switch_engaged"
	ReasonDrawdownThrottle   = "drawdown_throttle"
	ReasonDrawdownPause      = "drawdown_pause"
	ReasonMarketOpenCooldown = "market_open_cooldown"
	ReasonAgentBudget        = "agent_budget_exceeded"
	ReasonAgentCapitalBudget = "agent_capital_budget_exceeded"
	ReasonDataUnavailable    = "risk_data_unavailable"
	ReasonMaxDailyTrades     = "max_daily_trades"
	ReasonMaxPositionSize    = "max_position_size"
)

// Config is the engine's validated, load-time configuration.
type Config struct {
	MaxDailyTrades     int
	MaxPositionSize    decimal.Decimal
	MarketOpenCooldown time.Duration
	CooldownOverride   bool
	DrawdownWindow     time.Duration
	ThrottleVelocity   float64
	PauseVelocity      float64
	FailOpenBudgets    bool
	AgentBudgets       map[string]AgentBudget
}

// Engine evaluates the ordered risk check battery against an order intent and
// an account snapshot. Checks short-circuit on first rejection; the trail of
// every check that ran is always returned for audit. Unavailable data
// dependencies reject fail-closed unless FailOpenBudgets flips the budget
// checks only.
type Engine struct {
	cfg       Config
	kill      *authz.KillSwitch
	drawdown  *DrawdownTracker
	calendar  TradingCalendar
	trades    TradeCounter
	positions PositionProvider
	budgets   BudgetCounter
	logger    *zap.Logger
}

// NewEngine assembles the decision engine from its providers.
func NewEngine(cfg Config, kill *authz.KillSwitch, drawdown *DrawdownTracker, calendar TradingCalendar,
	trades TradeCounter, positions PositionProvider, budgets BudgetCounter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		kill:      kill,
		drawdown:  drawdown,
		calendar:  calendar,
		trades:    trades,
		positions: positions,
		budgets:   budgets,
		logger:    logger,
	}
}

// Drawdown exposes the tracker so the service loop can feed equity samples.
func (e *Engine) Drawdown() *DrawdownTracker {
	return e.drawdown
}

type trail struct {
	checks []types.CheckRecord
}

func (t *trail) add(name string, outcome types.CheckOutcome, detail string, params map[string]string) {
	t.checks = append(t.checks, types.CheckRecord{Name: name, Params: params, Outcome: outcome, Detail: detail})
}

// Validate runs the check battery. The returned error is non-nil only for
// internal invariant violations, which must crash loudly rather than surface
// as a rejection; every business outcome is carried in the decision.
func (e *Engine) Validate(ctx context.Context, intent types.OrderIntent, snapshot types.AccountSnapshot) (types.RiskDecision, error) {
	now := time.Now()
	tr := &trail{}

	// 1. Intent invariant assertions. Malformed metadata is a programming
	// defect in the producer, not a business rejection.
	riskCap, riskAmount, err := e.assertIntentInvariants(intent)
	if err != nil {
		tr.add("intent_invariants", types.CheckRejected, err.Error(), nil)
		return types.Reject("internal_invariant", types.ScopeNone, tr.checks),
			execerrors.NewInvariantError("risk", "validate", err.Error())
	}
	tr.add("intent_invariants", types.CheckPassed, "", nil)

	// 2. Kill switch.
	if enabled, source := e.kill.State(); enabled {
		tr.add("kill_switch", types.CheckRejected, "kill switch engaged", map[string]string{"source": source})
		return types.Reject(ReasonKillSwitch, types.ScopeAccount, tr.checks), nil
	}
	tr.add("kill_switch", types.CheckPassed, "", nil)

	// 3. Loss-acceleration guard.
	if decision, rejected := e.checkLossAcceleration(now, tr); rejected {
		return decision, nil
	}

	// 4. Market-open cooldown.
	if decision, rejected := e.checkMarketOpenCooldown(now, intent, tr); rejected {
		return decision, nil
	}

	// 5. Per-agent execution budgets.
	if decision, rejected := e.checkAgentBudget(ctx, intent, snapshot, tr); rejected {
		return decision, nil
	}

	// 6. Max daily trade count for the (tenant, account) pair.
	if decision, rejected := e.checkDailyTrades(ctx, intent, snapshot, tr); rejected {
		return decision, nil
	}

	// 7. Max absolute position size after applying the intent.
	if decision, rejected := e.checkPositionSize(ctx, intent, tr); rejected {
		return decision, nil
	}

	// 8. Max risk per trade. Reaching this point means every other check
	// allowed the trade; a cap breach here is an invariant failure, never a
	// silent approval.
	if riskCap != nil && riskAmount != nil && riskAmount.GreaterThan(*riskCap) {
		detail := fmt.Sprintf("proposed risk %s exceeds per-trade cap %s", riskAmount, riskCap)
		tr.add("max_risk_per_trade", types.CheckRejected, detail, nil)
		return types.Reject("internal_invariant", types.ScopeStrategy, tr.checks),
			execerrors.NewInvariantError("risk", "validate", detail)
	}
	tr.add("max_risk_per_trade", types.CheckPassed, "", nil)

	return types.Allow(tr.checks), nil
}

// assertIntentInvariants validates the risk metadata fields. Either both cap
// and amount parse, or whichever is present parses; a present-but-garbage
// value is malformed producer output.
func (e *Engine) assertIntentInvariants(intent types.OrderIntent) (cap, amount *decimal.Decimal, err error) {
	if !intent.Quantity.IsPositive() {
		return nil, nil, fmt.Errorf("intent quantity %s is not positive", intent.Quantity)
	}
	if intent.Side != types.SideBuy && intent.Side != types.SideSell {
		return nil, nil, fmt.Errorf("intent side %q is not normalized", intent.Side)
	}

	if raw := intent.Meta(types.MetaRiskPerTradeCap); raw != "" {
		d, perr := decimal.NewFromString(raw)
		if perr != nil || !d.IsPositive() {
			return nil, nil, fmt.Errorf("metadata %s=%q is not a positive amount", types.MetaRiskPerTradeCap, raw)
		}
		cap = &d
	}
	if raw := intent.Meta(types.MetaRiskAmount); raw != "" {
		d, perr := decimal.NewFromString(raw)
		if perr != nil || d.IsNegative() {
			return nil, nil, fmt.Errorf("metadata %s=%q is not a valid amount", types.MetaRiskAmount, raw)
		}
		amount = &d
	}
	return cap, amount, nil
}

func (e *Engine) checkLossAcceleration(now time.Time, tr *trail) (types.RiskDecision, bool) {
	if e.drawdown == nil {
		tr.add("loss_acceleration", types.CheckSkipped, "no drawdown tracker configured", nil)
		return types.RiskDecision{}, false
	}
	action, velocity := e.drawdown.Action(now)
	params := map[string]string{
		"velocity_pct_per_min": strconv.FormatFloat(velocity, 'f', 4, 64),
		"action":               string(action),
	}
	switch action {
	case DrawdownPause:
		tr.add("loss_acceleration", types.CheckRejected, "drawdown velocity requires pause", params)
		return types.Reject(ReasonDrawdownPause, types.ScopeAccount, tr.checks), true
	case DrawdownThrottle:
		tr.add("loss_acceleration", types.CheckRejected, "drawdown velocity requires throttle", params)
		return types.Reject(ReasonDrawdownThrottle, types.ScopeAccount, tr.checks), true
	default:
		tr.add("loss_acceleration", types.CheckPassed, "", params)
		return types.RiskDecision{}, false
	}
}

func (e *Engine) checkMarketOpenCooldown(now time.Time, intent types.OrderIntent, tr *trail) (types.RiskDecision, bool) {
	if intent.AssetClass != types.AssetClassEquity || e.cfg.MarketOpenCooldown <= 0 {
		tr.add("market_open_cooldown", types.CheckSkipped, "not applicable", nil)
		return types.RiskDecision{}, false
	}
	if e.cfg.CooldownOverride {
		tr.add("market_open_cooldown", types.CheckSkipped, "explicit override", nil)
		return types.RiskDecision{}, false
	}
	if e.calendar == nil {
		tr.add("market_open_cooldown", types.CheckSkipped, "no calendar provider configured", nil)
		return types.RiskDecision{}, false
	}

	open, ok := e.calendar.LastOpen(now)
	if !ok {
		tr.add("market_open_cooldown", types.CheckPassed, "no recent session open", nil)
		return types.RiskDecision{}, false
	}
	elapsed := now.Sub(open)
	params := map[string]string{
		"session_open":     open.Format(time.RFC3339),
		"cooldown_minutes": strconv.Itoa(int(e.cfg.MarketOpenCooldown.Minutes())),
	}
	if elapsed >= 0 && elapsed < e.cfg.MarketOpenCooldown {
		tr.add("market_open_cooldown", types.CheckRejected,
			fmt.Sprintf("only %s since session open", elapsed.Round(time.Second)), params)
		return types.Reject(ReasonMarketOpenCooldown, types.ScopeAccount, tr.checks), true
	}
	tr.add("market_open_cooldown", types.CheckPassed, "", params)
	return types.RiskDecision{}, false
}

func (e *Engine) checkAgentBudget(ctx context.Context, intent types.OrderIntent, snapshot types.AccountSnapshot, tr *trail) (types.RiskDecision, bool) {
	budget, configured := e.cfg.AgentBudgets[intent.StrategyID]
	if !configured {
		tr.add("agent_budget", types.CheckSkipped, "no budget configured for strategy", nil)
		return types.RiskDecision{}, false
	}
	if e.budgets == nil {
		return e.budgetUnavailable(fmt.Errorf("no budget counter configured"), tr)
	}

	params := map[string]string{
		"strategy_id":            intent.StrategyID,
		"max_executions_per_day": strconv.Itoa(budget.MaxExecutionsPerDay),
		"max_capital_pct":        strconv.FormatFloat(budget.MaxCapitalPct, 'f', 2, 64),
	}

	if budget.MaxExecutionsPerDay > 0 {
		count, err := e.budgets.CountExecutionsToday(ctx, intent.StrategyID)
		if err != nil {
			return e.budgetUnavailable(err, tr)
		}
		if count >= budget.MaxExecutionsPerDay {
			tr.add("agent_budget", types.CheckRejected,
				fmt.Sprintf("%d executions today at limit %d", count, budget.MaxExecutionsPerDay), params)
			return types.Reject(ReasonAgentBudget, types.ScopeStrategy, tr.checks), true
		}
	}

	if budget.MaxCapitalPct > 0 {
		spent, err := e.budgets.SumCapitalToday(ctx, intent.StrategyID)
		if err != nil {
			return e.budgetUnavailable(err, tr)
		}
		notional, err := intent.Notional()
		if err != nil {
			tr.add("agent_budget", types.CheckSkipped, "intent has no notional to budget against", params)
			return types.RiskDecision{}, false
		}
		allowance := snapshot.Equity.Mul(decimal.NewFromFloat(budget.MaxCapitalPct)).Div(decimal.NewFromInt(100))
		if spent.Add(notional).GreaterThan(allowance) {
			tr.add("agent_budget", types.CheckRejected,
				fmt.Sprintf("capital spent %s plus %s exceeds allowance %s", spent, notional, allowance), params)
			return types.Reject(ReasonAgentCapitalBudget, types.ScopeStrategy, tr.checks), true
		}
	}

	tr.add("agent_budget", types.CheckPassed, "", params)
	return types.RiskDecision{}, false
}

func (e *Engine) budgetUnavailable(err error, tr *trail) (types.RiskDecision, bool) {
	if e.cfg.FailOpenBudgets {
		e.logger.Warn("agent budget data unavailable, failing open by explicit configuration", zap.Error(err))
		tr.add("agent_budget", types.CheckSkipped, "budget data unavailable, fail-open configured", nil)
		return types.RiskDecision{}, false
	}
	tr.add("agent_budget", types.CheckRejected, "budget data unavailable", nil)
	return types.Reject(ReasonDataUnavailable, types.ScopeStrategy, tr.checks), true
}

func (e *Engine) checkDailyTrades(ctx context.Context, intent types.OrderIntent, snapshot types.AccountSnapshot, tr *trail) (types.RiskDecision, bool) {
	if e.cfg.MaxDailyTrades <= 0 {
		tr.add("daily_trade_limit", types.CheckSkipped, "no daily trade limit configured", nil)
		return types.RiskDecision{}, false
	}
	count, err := e.trades.CountTradesToday(ctx, snapshot.TenantID, snapshot.AccountID)
	if err != nil {
		tr.add("daily_trade_limit", types.CheckRejected, "trade counter unavailable", nil)
		return types.Reject(ReasonDataUnavailable, types.ScopeAccount, tr.checks), true
	}
	params := map[string]string{
		"count": strconv.Itoa(count),
		"limit": strconv.Itoa(e.cfg.MaxDailyTrades),
	}
	if count >= e.cfg.MaxDailyTrades {
		tr.add("daily_trade_limit", types.CheckRejected, "daily trade limit reached", params)
		return types.Reject(ReasonMaxDailyTrades, types.ScopeAccount, tr.checks), true
	}
	tr.add("daily_trade_limit", types.CheckPassed, "", params)
	return types.RiskDecision{}, false
}

func (e *Engine) checkPositionSize(ctx context.Context, intent types.OrderIntent, tr *trail) (types.RiskDecision, bool) {
	if !e.cfg.MaxPositionSize.IsPositive() {
		tr.add("max_position_size", types.CheckSkipped, "no position limit configured", nil)
		return types.RiskDecision{}, false
	}
	current, err := e.positions.GetPositionQty(ctx, intent.AccountID, intent.Symbol)
	if err != nil {
		tr.add("max_position_size", types.CheckRejected, "position provider unavailable", nil)
		return types.Reject(ReasonDataUnavailable, types.ScopeAccount, tr.checks), true
	}
	next := current.Add(intent.SignedQuantity())
	params := map[string]string{
		"current": current.String(),
		"next":    next.String(),
		"limit":   e.cfg.MaxPositionSize.String(),
	}
	if next.Abs().GreaterThan(e.cfg.MaxPositionSize) {
		tr.add("max_position_size", types.CheckRejected, "resulting position exceeds limit", params)
		return types.Reject(ReasonMaxPositionSize, types.ScopeAccount, tr.checks), true
	}
	tr.add("max_position_size", types.CheckPassed, "", params)
	return types.RiskDecision{}, false
}
