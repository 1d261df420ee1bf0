package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.Authz.ClockSkew)
	assert.Equal(t, 5*time.Second, cfg.Broker.Timeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Risk.MaxPositionSize.IsZero())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("bad position size", func(t *testing.T) {
		t.Setenv("ORDERGATE_MAX_POSITION_SIZE", "lots")
		_, err := Load()
		require.Error(t, err)
		assert.Equal(t, execerrors.CategoryConfig, execerrors.CategoryOf(err))
	})

	t.Run("bad agent budget json", func(t *testing.T) {
		t.Setenv("ORDERGATE_AGENT_BUDGETS", `{"alpha":`)
		_, err := Load()
		require.Error(t, err)
		assert.Equal(t, execerrors.CategoryConfig, execerrors.CategoryOf(err))
	})

	t.Run("bad operating mode", func(t *testing.T) {
		t.Setenv(EnvMode, "MAYBE")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("token required without secret", func(t *testing.T) {
		t.Setenv("ORDERGATE_TOKEN_REQUIRED", "true")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("throttle above pause", func(t *testing.T) {
		t.Setenv("ORDERGATE_DRAWDOWN_THROTTLE_VELOCITY", "2.0")
		t.Setenv("ORDERGATE_DRAWDOWN_PAUSE_VELOCITY", "1.0")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ORDERGATE_MAX_DAILY_TRADES", "25")
	t.Setenv("ORDERGATE_SYMBOL_COOLDOWN_SECONDS", "90")
	t.Setenv("ORDERGATE_AGENT_BUDGETS", `{"alpha":{"max_executions_per_day":5,"max_capital_pct":10}}`)
	t.Setenv("ORDERGATE_BROKER_ALLOWED_HOSTS", "api.bybit.com, api-testnet.bybit.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 90*time.Second, cfg.Engine.SymbolCooldown)
	assert.Equal(t, 5, cfg.Risk.AgentBudgets["alpha"].MaxExecutionsPerDay)
	assert.Equal(t, []string{"api.bybit.com", "api-testnet.bybit.com"}, cfg.Broker.AllowedHosts)
}

func TestLiveSourcesReadAtPointOfUse(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	mode := cfg.ModeSource()
	kill := cfg.KillFlagSource()

	t.Setenv(EnvMode, "LIVE")
	t.Setenv(EnvKillSwitch, "")
	assert.Equal(t, "LIVE", mode())
	assert.Equal(t, "", kill())

	// Sources observe changes made after Load.
	t.Setenv(EnvMode, "HALTED")
	t.Setenv(EnvKillSwitch, "1")
	assert.Equal(t, "HALTED", mode())
	assert.Equal(t, "1", kill())
}
