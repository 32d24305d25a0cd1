// Package main - entry point for the avr-backend microservice: scan
// ingestion, the remediation orchestrator and the dashboard API.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ortelius/avr-backend/database"
	scan "github.com/ortelius/avr-backend/events/modules/scans"
	"github.com/ortelius/avr-backend/internal/api"
	"github.com/ortelius/avr-backend/internal/clients"
	"github.com/ortelius/avr-backend/internal/config"
	"github.com/ortelius/avr-backend/internal/kafka"
	"github.com/ortelius/avr-backend/internal/orchestrator"
	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/internal/retry"
	"github.com/ortelius/avr-backend/internal/services"
	"github.com/ortelius/avr-backend/internal/store"
)

func envInt(key string, def int) int {
	raw := database.GetEnvDefault(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return n
}

func main() {
	logger := database.InitLogger().Sugar()
	defer logger.Sync() //nolint:errcheck

	// Initialize database connection
	db := database.InitializeDatabase()

	maxSessions := envInt("MAX_SESSIONS_PER_PERIOD", ratelimit.DefaultMaxSessions)
	periodHours := envInt("RATE_LIMIT_PERIOD_HOURS", ratelimit.DefaultPeriodHours)
	st := store.NewArango(db, maxSessions, periodHours, 2*time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed the repo registry and objectives from YAML when configured.
	if path := os.Getenv("REGISTRY_CONFIG_PATH"); path != "" {
		reg, err := config.LoadRegistry(path)
		if err != nil {
			logger.Fatalw("failed to load registry config", "path", path, "error", err)
		}
		if err := config.Bootstrap(ctx, st, reg, logger); err != nil {
			logger.Fatalw("failed to bootstrap registry", "error", err)
		}
	}

	policy := retry.DefaultPolicy()
	agent := clients.NewAgentClient(
		database.GetEnvDefault("AGENT_API_URL", "http://localhost:8090"),
		os.Getenv("AGENT_API_TOKEN"), policy)
	verify := clients.NewVerifyClient(
		database.GetEnvDefault("VERIFY_API_URL", "http://localhost:8091"),
		os.Getenv("VERIFY_API_TOKEN"), policy)
	scanner := clients.NewScannerClient(
		database.GetEnvDefault("SCANNER_API_URL", "http://localhost:8092"),
		os.Getenv("SCANNER_API_TOKEN"), policy)

	runnerCfg := orchestrator.DefaultConfig()
	runnerCfg.Dispatch.MaxDispatchAttempts = envInt("MAX_DISPATCH_ATTEMPTS", ratelimit.DefaultMaxDispatchAttempts)
	runnerCfg.Dispatch.BatchSize = envInt("DISPATCH_BATCH_SIZE", runnerCfg.Dispatch.BatchSize)
	runnerCfg.Dispatch.PollInterval = time.Duration(envInt("WAVE_POLL_SECONDS", 30)) * time.Second
	runnerCfg.Dispatch.WaveTimeout = time.Duration(envInt("WAVE_TIMEOUT_MINUTES", 45)) * time.Minute
	runnerCfg.MaxParallelRepos = envInt("MAX_PARALLEL_REPOS", runnerCfg.MaxParallelRepos)
	if raw := os.Getenv("FIX_RATE_THRESHOLD"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 && v <= 1 {
			runnerCfg.Dispatch.FixRateThreshold = v
		} else {
			log.Printf("Invalid FIX_RATE_THRESHOLD=%q, keeping default %.2f", raw, runnerCfg.Dispatch.FixRateThreshold)
		}
	}
	runner := orchestrator.NewRunner(st, agent, verify, runnerCfg, logger)

	ingest := &services.IngestService{Store: st, Log: logger}

	// Kafka scan-event consumer (optional: skipped when brokers are down).
	if err := kafka.RunEventProcessor(ctx, st, logger); err != nil {
		logger.Warnw("kafka event processor unavailable", "error", err)
	}

	// Periodic cycle scheduler. An interval of 0 disables it: cycles are
	// then triggered only via POST /api/v1/cycle.
	if interval := envInt("CYCLE_INTERVAL_HOURS", 0); interval > 0 {
		var producer *scan.CycleProducer
		if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
			producer = scan.NewCycleProducer(strings.Split(brokers, ","),
				database.GetEnvDefault("KAFKA_CYCLE_TOPIC", "cycle-events"))
			defer producer.Close() //nolint:errcheck
		}
		go runScheduler(ctx, runner, producer, time.Duration(interval)*time.Hour, logger)
	}

	// Create Fiber app with REST and GraphQL routes
	app := api.NewFiberApp(st, runner, ingest, scanner)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.Errorw("server shutdown failed", "error", err)
		}
	}()

	port := database.GetEnvDefault("MS_PORT", "3000")
	logger.Infow("starting server", "port", port)
	if err := app.Listen(":" + port); err != nil {
		logger.Fatalw("failed to start server", "error", err)
	}
}

// runScheduler triggers a cycle every interval. Lock contention is expected
// when an operator started a manual cycle and is not an error.
func runScheduler(ctx context.Context, runner *orchestrator.Runner, producer *scan.CycleProducer, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := runner.Cycle(ctx)
		if err != nil {
			if errors.Is(err, store.ErrCycleRunning) {
				logger.Infow("scheduled cycle skipped, one already running")
				continue
			}
			logger.Warnw("scheduled cycle failed", "error", err)
			continue
		}
		if producer != nil && report != nil {
			if err := producer.PublishCycleCompleted(ctx, report); err != nil {
				logger.Warnw("failed to publish cycle event", "error", err)
			}
		}
	}
}
