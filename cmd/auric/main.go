// Command auric runs the trading control plane: ingestion, scanning,
// auto-selection, governance, execution and the operator API, all driven
// by the scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aurictrade/auric/internal/api"
	"github.com/aurictrade/auric/internal/autoselect"
	"github.com/aurictrade/auric/internal/bridge"
	"github.com/aurictrade/auric/internal/bus"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/dxy"
	"github.com/aurictrade/auric/internal/executor"
	"github.com/aurictrade/auric/internal/governance"
	"github.com/aurictrade/auric/internal/ingest"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/models"
	"github.com/aurictrade/auric/internal/pipeline"
	"github.com/aurictrade/auric/internal/predictive"
	"github.com/aurictrade/auric/internal/scanner"
	"github.com/aurictrade/auric/internal/scheduler"
	"github.com/aurictrade/auric/internal/scoring"
	"github.com/aurictrade/auric/internal/settings"
)

// Selection policy defaults; thresholds the policy guards against live in
// app_settings, the policy shape itself is static.
const (
	selectionCooldown   = 5 * time.Minute
	selectionHysteresis = 10.0
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "auric: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecretsFromVault(ctx, cfg, config.GetVaultConfigFromEnv()); err != nil {
		log.Warn().Err(err).Msg("Vault secret resolution failed, continuing with config values")
	}

	database, err := db.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
	}()

	settingsSvc := settings.NewService(database)

	// Activity bus, optionally mirrored to NATS
	busOpts := []bus.Option{}
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, running without mirror")
		} else {
			defer nc.Close()
			busOpts = append(busOpts, bus.WithNATS(nc, cfg.NATS.Subject))
		}
	}
	activityBus := bus.New(busOpts...)
	defer activityBus.Close()

	bridgeClient := bridge.NewClient(cfg.Bridge)
	defer bridgeClient.Close()

	// Analysis stack
	modelCache := models.NewCache(database, time.Duration(cfg.Models.CacheTTL)*time.Second)
	dxySvc := dxy.NewService(cfg.DXY, rdb, settingsSvc,
		dxy.DefaultProviders(cfg.DXY, cfg.DXY.APIKey),
		dxy.NewBinanceGold(cfg.DXY.GoldProxyPair),
	)
	pipe := pipeline.New(cfg.Pipeline, cfg.Regime, scoring.NewScorer(nil), modelCache, dxySvc)
	scan := scanner.New(database, pipe, settingsSvc)
	ingestor := ingest.New(bridgeClient, database)

	// Execution stack
	governor := governance.New(database, settingsSvc)
	exec := executor.New(bridgeClient, database, settingsSvc, governor, activityBus)
	selector := autoselect.New(database, governor, exec, bridgeClient,
		scoring.NewSelectionPolicy(selectionCooldown, selectionHysteresis),
		settingsSvc, activityBus)
	predictor := predictive.New(database, database, nil)

	sched := scheduler.New(cfg.Scheduler.Workers)
	if err := registerJobs(sched, cfg, scan, ingestor, dxySvc, selector, predictor, activityBus, bridgeClient); err != nil {
		return err
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Store:    database,
		Settings: settingsSvc,
		DXY:      dxySvc,
		Executor: exec,
		Governor: governor,
		Bridge:   bridgeClient,
		Bus:      activityBus,
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Error().Err(err).Msg("API server stopped")
			stop()
		}
	}()

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.MetricsPort)
		metricsServer.Start()
	}

	sched.Start()
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Auric started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown failed")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics shutdown failed")
		}
	}
	return nil
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	scan *scanner.Scanner,
	ingestor *ingest.Ingestor,
	dxySvc *dxy.Service,
	selector *autoselect.Selector,
	predictor *predictive.Service,
	activityBus *bus.Bus,
	bridgeClient *bridge.Client,
) error {
	ingestAndScan := func(ctx context.Context) error {
		logger := config.NewJobLogger("ingest_and_scan")

		if !bridgeClient.Ping(ctx) {
			logger.Warn().Msg("Bridge unreachable, scanning stored candles only")
		} else {
			universe := scan.LoadUniverse(ctx)
			for _, sym := range universe.Symbols {
				for _, timeframe := range universe.Timeframes {
					if _, err := ingestor.IngestCandles(ctx, sym.Symbol, timeframe, universe.MinCandles); err != nil {
						logger.Warn().Err(err).Str("symbol", sym.Symbol).Str("timeframe", timeframe).
							Msg("Ingestion failed for cell")
					}
				}
			}
			if _, err := ingestor.SyncPositions(ctx, "default"); err != nil {
				logger.Warn().Err(err).Msg("Position sync failed")
			}
		}

		signals, err := scan.Scan(ctx)
		if err != nil {
			return err
		}
		activityBus.Publish(bus.NewEvent("scan_finished", map[string]interface{}{
			"signals": len(signals),
		}))
		return nil
	}

	jobs := []struct {
		name  string
		every string
		fn    scheduler.JobFunc
	}{
		{"ingest_and_scan", cfg.Scheduler.IngestScanEvery, ingestAndScan},
		{"refresh_dxy_context", cfg.Scheduler.DXYRefreshEvery, dxySvc.Refresh},
		{"scanner_auto_select", cfg.Scheduler.AutoSelectEvery, func(ctx context.Context) error {
			_, err := selector.Tick(ctx)
			return err
		}},
		{"predictive_run", cfg.Scheduler.PredictiveEvery, func(ctx context.Context) error {
			_, err := predictor.Run(ctx, "XAUUSD", "M15")
			return err
		}},
		// Training happens out of process; the hook only announces the
		// request so an external trainer can pick it up from the bus.
		{"train_models", cfg.Scheduler.TrainModelsEvery, func(context.Context) error {
			activityBus.Publish(bus.NewEvent("train_requested", map[string]interface{}{
				"requested_at": time.Now().UTC().Format(time.RFC3339),
			}))
			return nil
		}},
	}
	for _, j := range jobs {
		if err := sched.Register(j.name, j.every, j.fn); err != nil {
			return err
		}
	}
	return nil
}
