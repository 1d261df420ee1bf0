package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradesys/ordergate/internal/audit"
	"github.com/tradesys/ordergate/internal/authz"
	"github.com/tradesys/ordergate/internal/broker"
	"github.com/tradesys/ordergate/internal/config"
	"github.com/tradesys/ordergate/internal/engine"
	"github.com/tradesys/ordergate/internal/lifecycle"
	"github.com/tradesys/ordergate/internal/logger"
	"github.com/tradesys/ordergate/internal/monitoring"
	"github.com/tradesys/ordergate/internal/recovery"
	"github.com/tradesys/ordergate/internal/risk"
	"github.com/tradesys/ordergate/internal/store"
	"github.com/tradesys/ordergate/pkg/types"
)

var intentsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution service: worker pool, reconciliation sweep, monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
}

func init() {
	runCmd.Flags().StringVar(&intentsPath, "intents", "-", "intent source: '-' for stdin or a path to a JSON-lines file")
}

// service is the long-lived composition root. All mutable state (cooldowns,
// drawdown history, lifecycle map) lives here, constructed at start and torn
// down at shutdown.
type service struct {
	cfg    *config.Config
	logger *zap.Logger
	st     *store.Store
	gate   *authz.Gate
	risk   *risk.Engine
	eng    *engine.Engine
	sweep  *recovery.Sweeper
	health *monitoring.HealthChecker
	venue  *broker.BybitBroker
}

func buildService(cfg *config.Config, log *zap.Logger) (*service, error) {
	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}

	var tokenStore authz.ConsumptionStore = st
	if cfg.Store.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		tokenStore = store.NewRedisTokenStore(client)
	}

	gate := authz.NewGate(
		authz.NewModeGate(cfg.ModeSource()),
		authz.NewKillSwitch(cfg.KillFlagSource(), cfg.KillFileSource()),
		authz.NewTokenValidator(cfg.ConfirmSecretSource(), cfg.Authz.ClockSkew, tokenStore),
	)

	venue, err := broker.NewBybitBroker(broker.BybitConfig{
		APIKey:       cfg.Broker.APIKey,
		APISecret:    cfg.Broker.APISecret,
		BaseURL:      cfg.Broker.BaseURL,
		Testnet:      cfg.Broker.Testnet,
		Demo:         cfg.Broker.Demo,
		AllowedHosts: cfg.Broker.AllowedHosts,
	}, log)
	if err != nil {
		return nil, err
	}

	drawdown := risk.NewDrawdownTracker(cfg.Risk.DrawdownWindow, cfg.Risk.ThrottleVelocity, cfg.Risk.PauseVelocity)
	riskEngine := risk.NewEngine(risk.Config{
		MaxDailyTrades:     cfg.Risk.MaxDailyTrades,
		MaxPositionSize:    cfg.Risk.MaxPositionSize,
		MarketOpenCooldown: cfg.Risk.MarketOpenCooldown,
		CooldownOverride:   cfg.Risk.CooldownOverride,
		FailOpenBudgets:    cfg.Risk.FailOpenBudgets,
		AgentBudgets:       cfg.Risk.AgentBudgets,
	}, gate.Kill, drawdown, risk.NewEquityCalendar(), st, st, st, log)

	sink := audit.NewZapSink(log)
	eng := engine.New(engine.Config{
		DryRun:         cfg.DryRun,
		RequireToken:   cfg.Authz.TokenRequired,
		TokenScope:     cfg.Authz.TokenScope,
		SymbolCooldown: cfg.Engine.SymbolCooldown,
	}, gate, riskEngine, venue,
		store.NewLedgerService(st),
		broker.WithTimeout(venue, cfg.Broker.Timeout),
		lifecycle.NewTracker(log, st),
		st,
		sink,
		log)

	policy := recovery.DefaultTimeoutPolicy()
	if cfg.Recovery.PollStaleAfter > 0 {
		policy.PollStaleAfter = cfg.Recovery.PollStaleAfter
	}
	sweep := recovery.NewSweeper(policy, st, eng, sink, log)

	return &service{
		cfg:    cfg,
		logger: log,
		st:     st,
		gate:   gate,
		risk:   riskEngine,
		eng:    eng,
		sweep:  sweep,
		health: monitoring.NewHealthChecker(),
		venue:  venue,
	}, nil
}

func runService() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	svc, err := buildService(cfg, log)
	if err != nil {
		log.Error("failed to assemble service", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.startMonitoring()
	go svc.sweepLoop(ctx)
	go svc.equityLoop(ctx)

	intents, cleanup, err := openIntentSource(intentsPath)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info("ordergate running",
		zap.String("mode", string(svc.gate.Mode.Current())),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Int("workers", cfg.Workers))

	queue := make(chan intentPayload, cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.worker(ctx, queue)
		}()
	}

	scanner := bufio.NewScanner(intents)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
readLoop:
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var payload intentPayload
		if err := json.Unmarshal(line, &payload); err != nil {
			log.Warn("dropping malformed intent line", zap.Error(err))
			continue
		}
		select {
		case queue <- payload:
		case <-ctx.Done():
			break readLoop
		}
	}
	close(queue)
	wg.Wait()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("ordergate stopped")
	return nil
}

type intentPayload struct {
	StrategyID        string            `json:"strategy_id"`
	AccountID         string            `json:"account_id"`
	Symbol            string            `json:"symbol"`
	Side              string            `json:"side"`
	Quantity          decimal.Decimal   `json:"quantity"`
	OrderType         string            `json:"order_type"`
	TimeInForce       string            `json:"time_in_force"`
	LimitPrice        *decimal.Decimal  `json:"limit_price,omitempty"`
	AssetClass        string            `json:"asset_class"`
	ClientIntentID    string            `json:"client_intent_id"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ConfirmationToken string            `json:"confirmation_token,omitempty"`
}

func (p intentPayload) toIntent() types.OrderIntent {
	return types.OrderIntent{
		StrategyID:     p.StrategyID,
		AccountID:      p.AccountID,
		Symbol:         p.Symbol,
		Side:           types.Side(p.Side),
		Quantity:       p.Quantity,
		OrderType:      types.OrderType(p.OrderType),
		TimeInForce:    types.TimeInForce(p.TimeInForce),
		LimitPrice:     p.LimitPrice,
		AssetClass:     types.AssetClass(p.AssetClass),
		ClientIntentID: p.ClientIntentID,
		Metadata:       p.Metadata,
	}
}

func (s *service) worker(ctx context.Context, queue <-chan intentPayload) {
	for payload := range queue {
		result, err := s.eng.ExecuteIntent(ctx, payload.toIntent(), payload.ConfirmationToken)
		s.health.MarkExecution()
		if err != nil {
			s.logger.Error("execution attempt failed",
				zap.String("client_intent_id", payload.ClientIntentID),
				zap.Error(err))
			continue
		}
		out, _ := json.Marshal(result)
		fmt.Println(string(out))
	}
}

func (s *service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Recovery.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.sweep.Sweep(ctx)
			if err != nil {
				s.logger.Error("reconciliation sweep failed", zap.Error(err))
				s.health.SetStoreHealthy(false)
				continue
			}
			s.health.SetStoreHealthy(true)
			s.health.MarkSweep()
			if result.Scanned > 0 {
				s.logger.Debug("reconciliation sweep complete",
					zap.Int("scanned", result.Scanned),
					zap.Int("polled", result.Polled),
					zap.Int("cancelled", result.Cancelled),
					zap.Int("errors", result.Errors))
			}
		}
	}
}

// equityLoop samples account equity into the drawdown tracker.
func (s *service) equityLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.venue.Snapshot(ctx, "", "")
			if err != nil {
				s.logger.Warn("equity sample failed", zap.Error(err))
				continue
			}
			s.risk.Drawdown().Record(time.Now(), snap.Equity)
		}
	}
}

func (s *service) startMonitoring() {
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Monitoring.PrometheusPort)
		if err := http.ListenAndServe(addr, monitoring.NewMetricsHandler()); err != nil {
			s.logger.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Monitoring.HealthPort)
		if err := http.ListenAndServe(addr, s.health); err != nil {
			s.logger.Error("health endpoint stopped", zap.Error(err))
		}
	}()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			enabled, _ := s.gate.Kill.State()
			s.health.SetMode(string(s.gate.Mode.Current()), enabled)
		}
	}()
}

// buildLogger tees the audit trail to a dated file when a log directory is
// configured.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDir != "" {
		return logger.NewWithAuditFile(cfg.LogLevel, cfg.LogDir)
	}
	return logger.New(cfg.LogLevel)
}

func openIntentSource(path string) (*os.File, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
