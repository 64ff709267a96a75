package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stakevault/config"
	"stakevault/core/events"
	"stakevault/gateway"
	"stakevault/native/agent"
	"stakevault/native/bank"
	"stakevault/native/collateral"
	nativecommon "stakevault/native/common"
	"stakevault/native/staking"
	"stakevault/observability/logging"
	telemetry "stakevault/observability/otel"
	"stakevault/oracle"
	"stakevault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "stakevaultd.yaml", "path to stakevaultd config")
	flag.Parse()

	svcCfg, err := gateway.LoadConfig(cfgPath)
	if err != nil {
		slog.Error("load service config", "err", err)
		os.Exit(1)
	}

	log := logging.Setup("stakevaultd", svcCfg.Environment, logging.Options{
		FilePath:   svcCfg.Log.FilePath,
		MaxSizeMB:  svcCfg.Log.MaxSizeMB,
		MaxBackups: svcCfg.Log.MaxBackups,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(svcCfg.Telemetry.Endpoint); endpoint != "" {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "stakevaultd",
			Environment: svcCfg.Environment,
			Endpoint:    endpoint,
			Insecure:    svcCfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(svcCfg.Telemetry.Headers),
			Traces:      svcCfg.Telemetry.Traces,
			Metrics:     svcCfg.Telemetry.Metrics,
		})
		if err != nil {
			log.Error("init telemetry", "err", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(flushCtx)
		}()
	}

	protoCfg, err := config.Load(svcCfg.ProtocolConfig)
	if err != nil {
		log.Error("load protocol config", "err", err)
		os.Exit(1)
	}

	store, err := storage.Open(svcCfg.DatabasePath, nil)
	if err != nil {
		log.Error("open store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	engines, err := buildEngines(protoCfg, store, log)
	if err != nil {
		log.Error("wire engines", "err", err)
		os.Exit(1)
	}

	server := gateway.NewServer(log, engines.collateral, engines.staking, engines.agents, engines.pauses)
	httpServer := &http.Server{
		Addr:              svcCfg.ListenAddress,
		Handler:           server.Router(svcCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", svcCfg.ListenAddress, "configVersion", protoCfg.Version)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), svcCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

type engineSet struct {
	collateral *collateral.Engine
	staking    *staking.Engine
	agents     *agent.Engine
	pauses     *config.PauseRegistry
}

// buildEngines wires storage, oracle and configuration into the three ledger
// engines. Token definitions from the protocol config are applied
// idempotently: already-registered symbols are left untouched. Engine events
// are emitted into the structured log as the audit trail.
func buildEngines(cfg *config.Config, store *storage.Store, log *slog.Logger) (*engineSet, error) {
	vault, err := config.DecodeAddress(cfg.Vault)
	if err != nil {
		return nil, err
	}
	collector, err := config.DecodeAddress(cfg.Fees.Collector)
	if err != nil {
		return nil, err
	}
	treasury, err := config.DecodeAddress(cfg.Fees.Treasury)
	if err != nil {
		return nil, err
	}

	pauses := config.NewPauseRegistry(cfg.Pauses)
	ledger := bank.NewLedger(store.Bank())
	emitter := events.NewLogEmitter(log)

	var prices oracle.Source = oracle.NewManualSource()
	if strings.TrimSpace(cfg.Oracle.Endpoint) != "" {
		prices = oracle.NewHermesSource(nil, cfg.Oracle.Endpoint)
	}

	collateralEngine := collateral.NewEngine(vault, collector)
	collateralEngine.SetState(store.Collateral())
	collateralEngine.SetTokenLedger(ledger)
	collateralEngine.SetOracle(prices)
	collateralEngine.SetMaxQuoteAge(cfg.MaxQuoteAge())
	collateralEngine.SetPauses(pauses)
	collateralEngine.SetEmitter(emitter)
	if err := collateralEngine.UpdateFees(cfg.Fees.DepositBps, cfg.Fees.WithdrawBps); err != nil {
		return nil, err
	}
	for i := range cfg.Tokens {
		tokenCfg, err := cfg.Tokens[i].TokenConfig()
		if err != nil {
			return nil, err
		}
		if err := collateralEngine.AddToken(tokenCfg); err != nil && !errors.Is(err, collateral.ErrTokenExists) {
			return nil, err
		}
	}

	stakingEngine := staking.NewEngine(vault, treasury)
	stakingEngine.SetState(store.Staking())
	stakingEngine.SetTokenLedger(ledger)
	stakingEngine.SetCollateral(collateralEngine)
	stakingEngine.SetPauses(pauses)
	stakingEngine.SetEmitter(emitter)
	if err := stakingEngine.SetBaseRewardRate(cfg.Staking.BaseRewardRateBps); err != nil {
		return nil, err
	}
	if err := stakingEngine.SetRewardFee(cfg.Fees.RewardBps); err != nil {
		return nil, err
	}

	agentEngine := agent.NewEngine()
	agentEngine.SetState(store.Agents())
	agentEngine.SetPauses(pauses)
	agentEngine.SetEmitter(emitter)
	agentEngine.SetQuota(nativecommon.Quota{MaxRequestsPerBucket: cfg.Agents.MaxRequestsPerHour})
	agentEngine.SetDispatcher(&ledgerDispatcher{collateral: collateralEngine, staking: stakingEngine})
	if cfg.Agents.Executor != "" {
		executor, err := config.DecodeAddress(cfg.Agents.Executor)
		if err != nil {
			return nil, err
		}
		agentEngine.SetExecutor(executor)
	}

	return &engineSet{
		collateral: collateralEngine,
		staking:    stakingEngine,
		agents:     agentEngine,
		pauses:     pauses,
	}, nil
}
