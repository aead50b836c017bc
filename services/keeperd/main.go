package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	protocol "stablevault/config"
	"stablevault/native/common"
	"stablevault/native/liquidation"
	"stablevault/native/oracle"
	"stablevault/native/vault"
	"stablevault/observability/logging"
	telemetry "stablevault/observability/otel"
	"stablevault/services/keeperd/config"
	"stablevault/services/keeperd/keeper"
	"stablevault/services/keeperd/server"
	"stablevault/storage"
	"stablevault/storage/records"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/keeperd/config.yaml", "path to keeperd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STABLEVAULT_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("keeperd: load config: %v", err)
	}

	logger := logging.SetupWithOptions("keeperd", env, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "keeperd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("keeperd: init telemetry: %v", err)
		}
		defer func() {
			if shutdownTelemetry != nil {
				_ = shutdownTelemetry(context.Background())
			}
		}()
	}

	proto, err := protocol.Load(cfg.ProtocolConfig)
	if err != nil {
		log.Fatalf("keeperd: load protocol config: %v", err)
	}
	vaultParams, err := proto.VaultParams()
	if err != nil {
		log.Fatalf("keeperd: protocol config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("keeperd: create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("keeperd: open state db: %v", err)
	}
	defer db.Close()
	state := storage.NewState(db)

	recordStore, err := records.Open(cfg.RecordsPath)
	if err != nil {
		log.Fatalf("keeperd: open records store: %v", err)
	}
	defer recordStore.Close()

	aggregator := oracle.NewAggregator(proto.OracleSettings())

	ledger := vault.NewLedger(vaultParams)
	ledger.SetState(state)
	ledger.SetTokenLedger(vault.NewMemoryTokenLedger())
	ledger.SetPriceSource(aggregator)

	engine, err := liquidation.NewEngine(proto.LiquidationParams())
	if err != nil {
		log.Fatalf("keeperd: liquidation params: %v", err)
	}
	engine.SetLedger(ledger)
	engine.SetPriceSource(aggregator)
	engine.SetRecordStore(recordStore)

	assets := make([]string, 0, len(vaultParams.Assets))
	for symbol := range vaultParams.Assets {
		assets = append(assets, symbol)
	}
	var sources []oracle.SourceAdapter
	if cfg.Sources.CoinGecko {
		sources = append(sources, oracle.NewCoinGeckoSource(nil, "", map[string]string{
			"BTC": "bitcoin",
			"ETH": "ethereum",
			"ICP": "internet-computer",
		}))
	}
	if cfg.Sources.Binance {
		sources = append(sources, oracle.NewBinanceSource(nil, ""))
	}
	if cfg.Sources.Kraken {
		sources = append(sources, oracle.NewKrakenSource(nil, "", map[string]string{
			"BTC": "XXBTZUSD",
			"ETH": "XETHZUSD",
			"ICP": "ICPUSD",
		}))
	}
	poller := oracle.NewPoller(aggregator, sources, assets, cfg.Keeper.PollInterval, logger)
	poller.SetSink(state)

	cooldowns, err := keeper.OpenCooldownStore(cfg.CooldownPath, cfg.Keeper.Cooldown)
	if err != nil {
		log.Fatalf("keeperd: open cooldown store: %v", err)
	}
	defer cooldowns.Close()

	k := keeper.New(engine, cfg.Keeper.Identity, cfg.Keeper.ScanInterval)
	k.SetRateLimit(cfg.Keeper.AttemptsPerSecond)
	k.SetCooldowns(cooldowns)
	k.SetLogger(logger)
	if cfg.Keeper.MinProfit != "" {
		floor, err := common.ParseFixed8(cfg.Keeper.MinProfit)
		if err != nil {
			log.Fatalf("keeperd: min_profit: %v", err)
		}
		k.SetProfitFloor(floor)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "error", err)
			stop()
		}
	}()
	go func() {
		if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("keeper stopped", "error", err)
			stop()
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(ledger, aggregator, recordStore, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("keeperd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("keeperd stopped")
}
