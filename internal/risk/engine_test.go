package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesys/ordergate/internal/authz"
	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/pkg/types"
)

type stubTrades struct {
	count int
	err   error
}

func (s stubTrades) CountTradesToday(context.Context, string, string) (int, error) {
	return s.count, s.err
}

type stubPositions struct {
	qty decimal.Decimal
	err error
}

func (s stubPositions) GetPositionQty(context.Context, string, string) (decimal.Decimal, error) {
	return s.qty, s.err
}

type stubBudgets struct {
	count    int
	countErr error
	spent    decimal.Decimal
	spentErr error
}

func (s stubBudgets) CountExecutionsToday(context.Context, string) (int, error) {
	return s.count, s.countErr
}

func (s stubBudgets) SumCapitalToday(context.Context, string) (decimal.Decimal, error) {
	return s.spent, s.spentErr
}

type stubCalendar struct {
	open time.Time
	ok   bool
}

func (s stubCalendar) LastOpen(time.Time) (time.Time, bool) {
	return s.open, s.ok
}

type engineFixture struct {
	cfg       Config
	killFlag  string
	drawdown  *DrawdownTracker
	calendar  TradingCalendar
	trades    TradeCounter
	positions PositionProvider
	budgets   BudgetCounter
}

func defaultFixture() *engineFixture {
	return &engineFixture{
		cfg: Config{
			MaxDailyTrades:     10,
			MaxPositionSize:    decimal.NewFromInt(1000),
			MarketOpenCooldown: 15 * time.Minute,
			AgentBudgets: map[string]AgentBudget{
				"alpha": {MaxExecutionsPerDay: 5, MaxCapitalPct: 20},
			},
		},
		drawdown:  NewDrawdownTracker(10*time.Minute, 0.5, 1.5),
		calendar:  stubCalendar{open: time.Now().Add(-2 * time.Hour), ok: true},
		trades:    stubTrades{count: 1},
		positions: stubPositions{qty: decimal.NewFromInt(100)},
		budgets:   stubBudgets{count: 1, spent: decimal.NewFromInt(500)},
	}
}

func (f *engineFixture) build() *Engine {
	flag := f.killFlag
	kill := authz.NewKillSwitch(func() string { return flag }, nil)
	return NewEngine(f.cfg, kill, f.drawdown, f.calendar, f.trades, f.positions, f.budgets, nil)
}

func sampleIntent() types.OrderIntent {
	price := decimal.NewFromInt(150)
	return types.OrderIntent{
		StrategyID:     "alpha",
		AccountID:      "acct-1",
		Symbol:         "AAPL",
		Side:           types.SideBuy,
		Quantity:       decimal.NewFromInt(10),
		OrderType:      types.OrderTypeLimit,
		TimeInForce:    types.TimeInForceDay,
		LimitPrice:     &price,
		AssetClass:     types.AssetClassEquity,
		ClientIntentID: "intent-1",
		Metadata:       map[string]string{types.MetaTenantID: "t1"},
	}
}

func sampleSnapshot() types.AccountSnapshot {
	return types.AccountSnapshot{
		TenantID:    "t1",
		AccountID:   "acct-1",
		Equity:      decimal.NewFromInt(100000),
		BuyingPower: decimal.NewFromInt(50000),
	}
}

func checkNames(d types.RiskDecision) []string {
	names := make([]string, 0, len(d.Checks))
	for _, c := range d.Checks {
		names = append(names, c.Name)
	}
	return names
}

func TestValidateAllowsWithCompleteOrderedTrail(t *testing.T) {
	engine := defaultFixture().build()

	decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, []string{
		"intent_invariants",
		"kill_switch",
		"loss_acceleration",
		"market_open_cooldown",
		"agent_budget",
		"daily_trade_limit",
		"max_position_size",
		"max_risk_per_trade",
	}, checkNames(decision))
	for _, c := range decision.Checks {
		assert.NotEqual(t, types.CheckRejected, c.Outcome, "check %s", c.Name)
	}
}

func TestValidateKillSwitchShortCircuits(t *testing.T) {
	f := defaultFixture()
	f.killFlag = "true"
	// Providers that would fail if any later check ran.
	f.trades = stubTrades{err: errors.New("must not be called")}
	f.positions = stubPositions{err: errors.New("must not be called")}
	engine := f.build()

	decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonKillSwitch, decision.Reason)
	assert.Equal(t, []string{"intent_invariants", "kill_switch"}, checkNames(decision))
}

func TestValidateMalformedRiskMetadataIsInvariantError(t *testing.T) {
	engine := defaultFixture().build()
	intent := sampleIntent()
	intent.Metadata[types.MetaRiskPerTradeCap] = "not-a-number"

	decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
	require.Error(t, err)
	assert.Equal(t, execerrors.CategoryInvariant, execerrors.CategoryOf(err))
	assert.True(t, execerrors.IsFatal(err))
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Checks, 1)
	assert.Equal(t, types.CheckRejected, decision.Checks[0].Outcome)
}

func TestValidateDrawdownVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		dropPct    float64
		wantReason string
	}{
		{name: "slow bleed allowed", dropPct: 0.5, wantReason: ""},
		{name: "throttle velocity", dropPct: 8, wantReason: ReasonDrawdownThrottle},
		{name: "pause velocity", dropPct: 20, wantReason: ReasonDrawdownPause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFixture()
			f.drawdown = NewDrawdownTracker(10*time.Minute, 0.5, 1.5)
			now := time.Now()
			start := decimal.NewFromInt(100000)
			f.drawdown.Record(now.Add(-10*time.Minute), start)
			f.drawdown.Record(now, start.Mul(decimal.NewFromFloat(1-tt.dropPct/100)))
			engine := f.build()

			decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
			require.NoError(t, err)
			if tt.wantReason == "" {
				assert.True(t, decision.Allowed)
			} else {
				assert.False(t, decision.Allowed)
				assert.Equal(t, tt.wantReason, decision.Reason)
			}
		})
	}
}

func TestValidateMarketOpenCooldown(t *testing.T) {
	t.Run("equity inside cooldown rejected", func(t *testing.T) {
		f := defaultFixture()
		f.calendar = stubCalendar{open: time.Now().Add(-3 * time.Minute), ok: true}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMarketOpenCooldown, decision.Reason)
	})

	t.Run("override skips the check", func(t *testing.T) {
		f := defaultFixture()
		f.calendar = stubCalendar{open: time.Now().Add(-3 * time.Minute), ok: true}
		f.cfg.CooldownOverride = true
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("non-equity assets are exempt", func(t *testing.T) {
		f := defaultFixture()
		f.calendar = stubCalendar{open: time.Now().Add(-3 * time.Minute), ok: true}
		engine := f.build()
		intent := sampleIntent()
		intent.AssetClass = types.AssetClassCrypto

		decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestValidateAgentBudgets(t *testing.T) {
	t.Run("execution budget exhausted", func(t *testing.T) {
		f := defaultFixture()
		f.budgets = stubBudgets{count: 5}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonAgentBudget, decision.Reason)
		assert.Equal(t, types.ScopeStrategy, decision.Scope)
	})

	t.Run("capital budget exhausted", func(t *testing.T) {
		f := defaultFixture()
		// 20% of 100k equity is 20k; 19k spent plus 1.5k notional breaches it.
		f.budgets = stubBudgets{count: 1, spent: decimal.NewFromInt(19000)}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonAgentCapitalBudget, decision.Reason)
	})

	t.Run("unconfigured strategy skips the check", func(t *testing.T) {
		f := defaultFixture()
		f.budgets = stubBudgets{countErr: errors.New("must not be called")}
		engine := f.build()
		intent := sampleIntent()
		intent.StrategyID = "beta"

		decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("unavailable data fails closed", func(t *testing.T) {
		f := defaultFixture()
		f.budgets = stubBudgets{countErr: errors.New("db down")}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonDataUnavailable, decision.Reason)
	})

	t.Run("unavailable data fails open only when configured", func(t *testing.T) {
		f := defaultFixture()
		f.budgets = stubBudgets{countErr: errors.New("db down")}
		f.cfg.FailOpenBudgets = true
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestValidateDailyTradeLimit(t *testing.T) {
	t.Run("at limit rejected", func(t *testing.T) {
		f := defaultFixture()
		f.trades = stubTrades{count: 10}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMaxDailyTrades, decision.Reason)
	})

	t.Run("counter failure rejects as unavailable", func(t *testing.T) {
		f := defaultFixture()
		f.trades = stubTrades{err: errors.New("store down")}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonDataUnavailable, decision.Reason)
	})
}

func TestValidatePositionLimit(t *testing.T) {
	t.Run("buy breaching the cap rejected", func(t *testing.T) {
		f := defaultFixture()
		f.positions = stubPositions{qty: decimal.NewFromInt(995)}
		engine := f.build()

		decision, err := engine.Validate(context.Background(), sampleIntent(), sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMaxPositionSize, decision.Reason)
	})

	t.Run("sell reducing a long position allowed", func(t *testing.T) {
		f := defaultFixture()
		f.positions = stubPositions{qty: decimal.NewFromInt(1000)}
		engine := f.build()
		intent := sampleIntent()
		intent.Side = types.SideSell

		decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("limit applies to absolute short exposure", func(t *testing.T) {
		f := defaultFixture()
		f.positions = stubPositions{qty: decimal.NewFromInt(-995)}
		engine := f.build()
		intent := sampleIntent()
		intent.Side = types.SideSell

		decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMaxPositionSize, decision.Reason)
	})
}

func TestValidateRiskCapBreachIsInvariantError(t *testing.T) {
	engine := defaultFixture().build()
	intent := sampleIntent()
	intent.Metadata[types.MetaRiskPerTradeCap] = "100"
	intent.Metadata[types.MetaRiskAmount] = "250"

	decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
	require.Error(t, err)
	assert.Equal(t, execerrors.CategoryInvariant, execerrors.CategoryOf(err))
	assert.False(t, decision.Allowed)
	// Every prior check ran and passed before the cap assertion fired.
	assert.Equal(t, "max_risk_per_trade", decision.Checks[len(decision.Checks)-1].Name)
}

func TestValidateRiskAmountWithinCapAllowed(t *testing.T) {
	engine := defaultFixture().build()
	intent := sampleIntent()
	intent.Metadata[types.MetaRiskPerTradeCap] = "250"
	intent.Metadata[types.MetaRiskAmount] = "100"

	decision, err := engine.Validate(context.Background(), intent, sampleSnapshot())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
