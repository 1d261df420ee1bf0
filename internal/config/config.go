package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/internal/risk"
)

// Environment keys the authorization gates re-read at the point of use. These
// bypass the snapshot below on purpose: a mode change or kill-switch flip must
// be observed between a producer's first check and the broker call.
const (
	EnvMode           = "ORDERGATE_MODE"
	EnvKillSwitch     = "ORDERGATE_KILL_SWITCH"
	EnvKillSwitchFile = "ORDERGATE_KILL_SWITCH_FILE"
	EnvConfirmSecret  = "ORDERGATE_CONFIRM_SECRET"
)

// Config is the typed, validated service configuration, populated once at
// startup. Invalid values are rejected at load time, never coerced later.
type Config struct {
	Environment string
	LogLevel    string
	LogDir      string
	DryRun      bool

	Authz struct {
		TokenRequired bool
		TokenScope    string
		ClockSkew     time.Duration
	}

	Risk struct {
		MaxDailyTrades     int
		MaxPositionSize    decimal.Decimal
		MarketOpenCooldown time.Duration
		CooldownOverride   bool
		DrawdownWindow     time.Duration
		ThrottleVelocity   float64
		PauseVelocity      float64
		FailOpenBudgets    bool
		AgentBudgets       map[string]risk.AgentBudget
	}

	Engine struct {
		SymbolCooldown time.Duration
	}

	Broker struct {
		APIKey       string
		APISecret    string
		BaseURL      string
		Testnet      bool
		Demo         bool
		Timeout      time.Duration
		AllowedHosts []string
	}

	Store struct {
		DSN           string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
	}

	Recovery struct {
		SweepInterval  time.Duration
		PollStaleAfter time.Duration
	}

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Workers int
}

// Load reads configuration from the environment (plus an optional .env file)
// into a validated Config.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ORDERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "")
	v.SetDefault("dry_run", false)

	v.SetDefault("token_required", false)
	v.SetDefault("token_scope", "execute")
	v.SetDefault("token_clock_skew", "30s")

	v.SetDefault("max_daily_trades", 0)
	v.SetDefault("max_position_size", "0")
	v.SetDefault("market_open_cooldown_minutes", 0)
	v.SetDefault("cooldown_override", false)
	v.SetDefault("drawdown_window", "10m")
	v.SetDefault("drawdown_throttle_velocity", 0.0)
	v.SetDefault("drawdown_pause_velocity", 0.0)
	v.SetDefault("risk_fail_open", false)
	v.SetDefault("agent_budgets", "")

	v.SetDefault("symbol_cooldown_seconds", 0)

	v.SetDefault("broker_timeout", "5s")
	v.SetDefault("broker_testnet", true)
	v.SetDefault("broker_demo", false)
	v.SetDefault("broker_allowed_hosts", "")

	v.SetDefault("store_dsn", "ordergate.db")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("poll_stale_after", "30s")

	v.SetDefault("prometheus_port", 8080)
	v.SetDefault("health_port", 8081)
	v.SetDefault("workers", 4)

	cfg := &Config{}
	cfg.Environment = v.GetString("environment")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogDir = v.GetString("log_dir")
	cfg.DryRun = v.GetBool("dry_run")

	cfg.Authz.TokenRequired = v.GetBool("token_required")
	cfg.Authz.TokenScope = v.GetString("token_scope")
	cfg.Authz.ClockSkew = v.GetDuration("token_clock_skew")

	cfg.Risk.MaxDailyTrades = v.GetInt("max_daily_trades")
	maxPos, err := decimal.NewFromString(v.GetString("max_position_size"))
	if err != nil {
		return nil, execerrors.NewConfigError("config",
			fmt.Sprintf("max_position_size %q is not a number", v.GetString("max_position_size")))
	}
	cfg.Risk.MaxPositionSize = maxPos
	cfg.Risk.MarketOpenCooldown = time.Duration(v.GetInt("market_open_cooldown_minutes")) * time.Minute
	cfg.Risk.CooldownOverride = v.GetBool("cooldown_override")
	cfg.Risk.DrawdownWindow = v.GetDuration("drawdown_window")
	cfg.Risk.ThrottleVelocity = v.GetFloat64("drawdown_throttle_velocity")
	cfg.Risk.PauseVelocity = v.GetFloat64("drawdown_pause_velocity")
	cfg.Risk.FailOpenBudgets = v.GetBool("risk_fail_open")
	budgets, err := risk.ParseAgentBudgets(v.GetString("agent_budgets"))
	if err != nil {
		return nil, execerrors.NewConfigError("config", err.Error())
	}
	cfg.Risk.AgentBudgets = budgets

	cfg.Engine.SymbolCooldown = time.Duration(v.GetInt("symbol_cooldown_seconds")) * time.Second

	cfg.Broker.APIKey = v.GetString("broker_api_key")
	cfg.Broker.APISecret = v.GetString("broker_api_secret")
	cfg.Broker.BaseURL = v.GetString("broker_base_url")
	cfg.Broker.Testnet = v.GetBool("broker_testnet")
	cfg.Broker.Demo = v.GetBool("broker_demo")
	cfg.Broker.Timeout = v.GetDuration("broker_timeout")
	if hosts := v.GetString("broker_allowed_hosts"); hosts != "" {
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.Broker.AllowedHosts = append(cfg.Broker.AllowedHosts, h)
			}
		}
	}

	cfg.Store.DSN = v.GetString("store_dsn")
	cfg.Store.RedisAddr = v.GetString("redis_addr")
	cfg.Store.RedisPassword = v.GetString("redis_password")
	cfg.Store.RedisDB = v.GetInt("redis_db")

	cfg.Recovery.SweepInterval = v.GetDuration("sweep_interval")
	cfg.Recovery.PollStaleAfter = v.GetDuration("poll_stale_after")

	cfg.Monitoring.PrometheusPort = v.GetInt("prometheus_port")
	cfg.Monitoring.HealthPort = v.GetInt("health_port")
	cfg.Workers = v.GetInt("workers")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects invalid combinations at load time.
func (c *Config) Validate() error {
	if mode := strings.ToUpper(strings.TrimSpace(os.Getenv(EnvMode))); mode != "" {
		switch mode {
		case "DISABLED", "WARMUP", "LIVE", "HALTED":
		default:
			return execerrors.NewConfigError("config",
				fmt.Sprintf("%s %q is not one of DISABLED, WARMUP, LIVE, HALTED", EnvMode, mode))
		}
	}
	if c.Authz.TokenRequired && os.Getenv(EnvConfirmSecret) == "" {
		return execerrors.NewConfigError("config",
			"confirmation tokens are required but no confirmation secret is configured")
	}
	if c.Authz.ClockSkew < 0 {
		return execerrors.NewConfigError("config", "token clock skew must not be negative")
	}
	if c.Risk.MaxDailyTrades < 0 {
		return execerrors.NewConfigError("config", "max daily trades must not be negative")
	}
	if c.Risk.MaxPositionSize.IsNegative() {
		return execerrors.NewConfigError("config", "max position size must not be negative")
	}
	if c.Risk.ThrottleVelocity < 0 || c.Risk.PauseVelocity < 0 {
		return execerrors.NewConfigError("config", "drawdown velocities must not be negative")
	}
	if c.Risk.PauseVelocity > 0 && c.Risk.ThrottleVelocity > c.Risk.PauseVelocity {
		return execerrors.NewConfigError("config", "drawdown throttle velocity must not exceed pause velocity")
	}
	if c.Broker.Timeout <= 0 {
		return execerrors.NewConfigError("config", "broker timeout must be positive")
	}
	if c.Workers <= 0 {
		return execerrors.NewConfigError("config", "worker count must be positive")
	}
	return nil
}

// ModeSource returns the live operating-mode reader for the mode gate.
func (c *Config) ModeSource() func() string {
	return func() string { return os.Getenv(EnvMode) }
}

// KillFlagSource returns the live kill-switch flag reader.
func (c *Config) KillFlagSource() func() string {
	return func() string { return os.Getenv(EnvKillSwitch) }
}

// KillFileSource returns the live kill-switch file path reader.
func (c *Config) KillFileSource() func() string {
	return func() string { return os.Getenv(EnvKillSwitchFile) }
}

// ConfirmSecretSource returns the live confirmation-secret reader, so a
// rotated secret takes effect without restart.
func (c *Config) ConfirmSecretSource() func() string {
	return func() string { return os.Getenv(EnvConfirmSecret) }
}
