// Package main is the entry point for the request guard reference
// server. It assembles the guard components once and injects them into
// a gin engine; the surrounding REST API mounts its handlers behind
// the guard middleware.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/apiguard/internal/abuse"
	"github.com/vyrodovalexey/apiguard/internal/bypass"
	"github.com/vyrodovalexey/apiguard/internal/config"
	"github.com/vyrodovalexey/apiguard/internal/flush"
	"github.com/vyrodovalexey/apiguard/internal/guard"
	"github.com/vyrodovalexey/apiguard/internal/observability"
	"github.com/vyrodovalexey/apiguard/internal/quota"
	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// sinkHTTPTimeout bounds each flush delivery attempt.
const sinkHTTPTimeout = 10 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	app := initApplication(cfg, logger)
	run(app, cfg, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	logLevel := flag.String("log-level", getEnvOrDefault("GUARD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GUARD_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("apiguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// application holds all application components.
type application struct {
	orchestrator *guard.Orchestrator
	detector     *abuse.Detector
	worker       *flush.Worker
	metrics      *observability.Metrics
	redisClient  *redis.Client
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics("guard")

	rules, err := bypass.FromConfig(cfg.BypassRules)
	if err != nil {
		logger.Fatal("invalid bypass rule configuration", observability.Error(err))
	}
	ruleSet := bypass.NewRuleSet(rules)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	quotaAdapter := quota.NewRedisAdapter(
		redisClient,
		quota.DefaultRedisConfig(cfg.QuotaLimit, cfg.QuotaWindow),
		quota.WithRedisAdapterLogger(logger),
	)

	detector := abuse.NewDetector(
		cfg.DecayInterval,
		cfg.DecayFactor,
		cfg.AbuseThreshold,
		abuse.WithDetectorLogger(logger),
	)

	buffer := telemetry.NewBuffer(cfg.MaxEntries, cfg.MaxBytes,
		telemetry.WithBufferMetrics(metrics),
	)

	orchestrator := guard.NewOrchestrator(
		ruleSet,
		quotaAdapter,
		detector,
		buffer,
		cfg.Environment,
		guard.WithOrchestratorLogger(logger),
		guard.WithOrchestratorMetrics(metrics),
	)
	detector.OnAbuse(orchestrator.AbuseEventFunc())

	flusher := flush.NewFlusher(buffer, buildSinks(cfg, logger, metrics),
		flush.WithFlusherLogger(logger),
		flush.WithFlusherMetrics(metrics),
	)
	worker := flush.NewWorker(flusher, cfg.FlushInterval, logger)

	logger.Info("guard initialized",
		observability.String("environment", cfg.Environment),
		observability.Int("bypass_rules", ruleSet.Len()),
		observability.Int("quota_limit", cfg.QuotaLimit),
		observability.Duration("flush_interval", cfg.FlushInterval),
	)

	return &application{
		orchestrator: orchestrator,
		detector:     detector,
		worker:       worker,
		metrics:      metrics,
		redisClient:  redisClient,
	}
}

// buildSinks creates the configured flush sinks. A sink with no
// endpoint is disabled.
func buildSinks(cfg *config.Config, logger observability.Logger, metrics *observability.Metrics) []flush.Sink {
	client := &http.Client{Timeout: sinkHTTPTimeout}
	sinks := make([]flush.Sink, 0, 2)

	if cfg.StreamEndpoint != "" {
		sinks = append(sinks, flush.NewStreamSink(flush.StreamSinkConfig{
			Endpoint:  cfg.StreamEndpoint,
			Retries:   cfg.StreamRetries,
			RetryBase: cfg.StreamRetryBase,
		}, client, logger, metrics))
	}

	if cfg.ColumnEndpoint != "" {
		sinks = append(sinks, flush.NewColumnSink(flush.ColumnSinkConfig{
			Endpoint:  cfg.ColumnEndpoint,
			User:      cfg.ColumnUser,
			Password:  cfg.ColumnPassword,
			Table:     cfg.ColumnTable,
			ChunkSize: cfg.ColumnChunkSize,
			Retries:   cfg.ColumnRetries,
			RetryBase: cfg.StreamRetryBase,
		}, client, logger, metrics))
	}

	return sinks
}

// run starts the servers and background workers, then blocks until a
// shutdown signal arrives.
func run(app *application, cfg *config.Config, logger observability.Logger) {
	app.worker.Start()
	app.detector.StartSweep()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), app.orchestrator.Middleware())

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("starting guarded server", observability.String("address", cfg.ListenAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("guarded server error", observability.Error(err))
		}
	}()

	go startMetricsServer(cfg.MetricsAddr, app.metrics, logger)

	waitForShutdown(app, apiServer, logger)
}

// startMetricsServer starts the metrics/health HTTP server.
func startMetricsServer(addr string, metrics *observability.Metrics, logger observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})

	logger.Info("starting metrics server", observability.String("address", addr))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// waitForShutdown blocks on a shutdown signal, then stops components
// in dependency order: server first so no new requests arrive, then
// the flush worker (final flush included), then the sweep and store.
func waitForShutdown(app *application, apiServer *http.Server, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop guarded server gracefully", observability.Error(err))
	}

	app.worker.Stop()
	app.detector.Stop()

	if err := app.redisClient.Close(); err != nil {
		logger.Error("failed to close quota store client", observability.Error(err))
	}

	logger.Info("guard stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
