// Command capsimd runs the CAPSIM discrete-event social simulation
// engine. CLI flag parsing and an HTTP/REST surface are out of scope
// (SPEC_FULL.md §1); configuration comes from an optional YAML file
// plus CAPSIM_-prefixed environment overrides, the same way the
// teacher's worldsim reads its optional API keys straight from the
// environment rather than through a flag library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/capsim/internal/clock"
	"github.com/talgya/capsim/internal/config"
	"github.com/talgya/capsim/internal/engine"
	"github.com/talgya/capsim/internal/repository"
	"github.com/talgya/capsim/internal/telemetry"
	"github.com/talgya/capsim/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "capsimd:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := telemetry.NewLogger(envOr("CAPSIM_LOG_LEVEL", "info"), envOr("CAPSIM_LOG_FORMAT", "json"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(os.Getenv("CAPSIM_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	dbPath := envOr("CAPSIM_DB_PATH", "data/capsim.db")
	if err := os.MkdirAll("data", 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	metrics := telemetry.NewMetrics()

	repo, err := repository.Open(dbPath, repository.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: flushInterval(cfg),
		Backoffs:      backoffDurations(cfg.BatchRetryBackoffsSec),
		OnCommitError: func(table string, err error) {
			metrics.BatchCommitErrorsTotal.Inc()
			logger.Error("persistence batch exhausted retries", zap.Error(err), zap.String("table", table))
		},
	})
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()
	logger.Info("database opened", zap.String("path", dbPath))

	weatherClient := weather.NewClient(cfg.WeatherAPIKey, cfg.WeatherLocation, cfg.CacheTTL())
	if weatherClient != nil {
		logger.Info("weather client enabled", zap.String("location", cfg.WeatherLocation))
	} else {
		logger.Info("CAPSIM_WEATHER_API_KEY not set — WEATHER event uses fair-weather defaults")
	}

	var clk clock.Clock
	if cfg.SimSpeedFactor <= 0 {
		clk = clock.NewFastClock()
	} else {
		clk = clock.NewRealTimeClock(time.Now(), cfg.SimSpeedFactor)
	}

	seed := seedFromEnv()
	eng := engine.New(engine.Deps{
		Config:  cfg,
		Repo:    repo,
		Logger:  logger,
		Metrics: metrics,
		Clock:   clk,
		Weather: weatherClient,
		Seed:    seed,
	})

	runID := uuid.NewString()
	agentCount := intEnvOr("CAPSIM_AGENT_COUNT", 500)
	horizonMinutes := float64(intEnvOr("CAPSIM_HORIZON_MINUTES", 0))

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := eng.Bootstrap(sigCtx, runID, agentCount, horizonMinutes); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("capsimd starting", zap.String("run_id", runID), zap.Int("agents", agentCount), zap.Int64("seed", seed))

	// Signals request a graceful drain (spec §4.8's Shutdown), not an
	// abrupt ctx cancellation — eng.Run treats ctx cancellation as a
	// hard FORCE_STOPPED path, so Run itself always gets a context that
	// outlives the signal and only stops once its own drain completes.
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()

	g := new(errgroup.Group)
	g.Go(func() error {
		return metrics.Serve(metricsCtx, envOr("CAPSIM_METRICS_ADDR", ":9090"))
	})
	g.Go(func() error {
		<-sigCtx.Done()
		logger.Info("signal received, requesting graceful shutdown")
		eng.RequestShutdown()
		return nil
	})
	g.Go(func() error {
		err := eng.Run(context.Background())
		stopMetrics()
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("capsimd stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnvOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func seedFromEnv() int64 {
	v := os.Getenv("CAPSIM_SEED")
	if v == "" {
		return time.Now().UnixNano()
	}
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return time.Now().UnixNano()
	}
	return n
}

// flushInterval derives the repository's background flush cadence from
// SIM_SPEED_FACTOR (spec §6.1): faster-than-real-time runs flush more
// often in wall-clock terms so a crash never loses more than a few
// sim-minutes of buffered writes.
func flushInterval(cfg *config.Config) time.Duration {
	if cfg.SimSpeedFactor <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(60 / cfg.SimSpeedFactor * float64(time.Second))
}

func backoffDurations(secs []int) []time.Duration {
	out := make([]time.Duration, len(secs))
	for i, s := range secs {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}
