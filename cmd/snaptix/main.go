package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/tidwall/jsonc"

	"github.com/avolkhin/snaptix/config"
	"github.com/avolkhin/snaptix/driver"
	"github.com/avolkhin/snaptix/health"
	"github.com/avolkhin/snaptix/history"
	"github.com/avolkhin/snaptix/internal/observability"
	"github.com/avolkhin/snaptix/orchestrator"
	"github.com/avolkhin/snaptix/runner"
	"github.com/avolkhin/snaptix/schedule"
)

const (
	exitOK           = 0
	exitRunFailed    = 1
	exitConfigFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.jsonc", "Path to the JSONC configuration file")
	selectorsPath := flag.String("selectors", "", "Path to a JSONC file binding workflow intents to selectors")
	retries := flag.Int("retries", 3, "Maximum attempts per session (including the first)")
	exportPath := flag.String("export", "", "Optional path for the combined JSON report")
	startAt := flag.String("start-at", "", "Scheduled start time (ISO-8601 or 'YYYY-MM-DD HH:MM:SS' local)")
	warmupSec := flag.Int("warmup-sec", 0, "Seconds before the start reserved for warmup health checks")
	historyDSN := flag.String("history-dsn", os.Getenv("SNAPTIX_HISTORY_DSN"), "Optional Postgres DSN for run history")
	showHistory := flag.Int("show-history", 0, "Print the N most recent recorded runs and exit")
	s3Bucket := flag.String("s3-bucket", "", "Optional S3 bucket for report archival")
	s3Prefix := flag.String("s3-prefix", "", "S3 key prefix for report archival")
	s3Region := flag.String("s3-region", "", "AWS region for S3 (optional)")
	metricsListen := flag.String("metrics-listen", "", "Optional listen address for prometheus metrics")
	flag.Parse()

	logger := observability.NewLogger("snaptix")

	if *showHistory > 0 {
		return printHistory(logger, *historyDSN, *showHistory)
	}

	configs, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration could not be loaded", "error", err)
		return exitConfigFailed
	}
	logger.Info("configuration resolved", "sessions", len(configs))

	selectors, err := loadSelectors(*selectorsPath)
	if err != nil {
		logger.Error("selector bindings could not be loaded", "error", err)
		return exitConfigFailed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	metrics := observability.NewMetrics(nil)
	if *metricsListen != "" {
		go serveMetrics(*metricsListen, logger)
	}

	startText := *startAt
	warmup := *warmupSec
	if startText == "" {
		startText = configs[0].StartAt
	}
	if warmup == 0 {
		warmup = configs[0].WarmupSec
	}
	if startText != "" {
		target, err := schedule.ParseStartAt(startText)
		if err != nil {
			logger.Error("invalid start time", "error", err)
			return exitConfigFailed
		}
		controller := schedule.NewController(
			observability.NewLogger("snaptix.schedule"),
			warmupChecks(configs)...,
		)
		controller.WaitUntil(ctx, target, time.Duration(warmup)*time.Second)
	}

	var store *history.Store
	if *historyDSN != "" {
		db, err := sql.Open("pgx", *historyDSN)
		if err != nil {
			logger.Error("opening history database failed", "error", err)
			return exitRunFailed
		}
		defer db.Close()

		store = history.NewStore(db)
		if err := store.ApplyMigrations(ctx); err != nil {
			logger.Error("applying history migrations failed", "error", err)
			return exitRunFailed
		}
	}

	orch := &orchestrator.Orchestrator{
		Factory: driver.NewHTTPFactory(selectors),
		Logger:  logger,
		Metrics: metrics,
		History: store,
	}
	results, overall := orch.Run(ctx, configs, runner.RetryPolicy{MaxAttempts: *retries})

	if *exportPath != "" {
		written, err := orchestrator.Export(*exportPath, results)
		if err != nil {
			logger.Error("report export failed", "error", err)
		} else {
			logger.Info("combined report exported", "path", written)
			archiveReport(ctx, logger, written, orchestrator.S3Config{
				Bucket: *s3Bucket,
				Prefix: *s3Prefix,
				Region: *s3Region,
			})
		}
	}

	if overall {
		return exitOK
	}
	return exitRunFailed
}

// loadSelectors reads the intent-to-selector bindings. Selectors are
// target-application specific, so they ship next to the config rather
// than inside this binary.
func loadSelectors(path string) (map[driver.Intent]driver.Selector, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var bindings map[string]driver.Selector
	if err := json.Unmarshal(jsonc.ToJSON(raw), &bindings); err != nil {
		return nil, err
	}

	selectors := make(map[driver.Intent]driver.Selector, len(bindings))
	for intent, selector := range bindings {
		selectors[driver.Intent(intent)] = selector
	}
	return selectors, nil
}

// warmupChecks probes every distinct automation endpoint across the
// resolved configurations, plus device readiness once.
func warmupChecks(configs []config.TicketConfig) []schedule.HealthCheck {
	var checks []schedule.HealthCheck
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if cfg.ServerURL == "" || seen[cfg.ServerURL] {
			continue
		}
		seen[cfg.ServerURL] = true
		checks = append(checks, health.EndpointCheck{ServerURL: cfg.ServerURL})
	}
	checks = append(checks, health.DeviceCheck{})
	return checks
}

// printHistory dumps the most recent recorded runs as indented JSON.
func printHistory(logger *slog.Logger, dsn string, limit int) int {
	if dsn == "" {
		logger.Error("showing history requires -history-dsn or SNAPTIX_HISTORY_DSN")
		return exitConfigFailed
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Error("opening history database failed", "error", err)
		return exitRunFailed
	}
	defer db.Close()

	records, err := history.NewStore(db).RecentRuns(context.Background(), limit)
	if err != nil {
		logger.Error("loading run history failed", "error", err)
		return exitRunFailed
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		logger.Error("encoding run history failed", "error", err)
		return exitRunFailed
	}
	return exitOK
}

func archiveReport(ctx context.Context, logger *slog.Logger, path string, cfg orchestrator.S3Config) {
	if cfg.Bucket == "" {
		return
	}
	archiver, err := orchestrator.NewS3Archiver(ctx, cfg)
	if err != nil {
		logger.Warn("s3 archiver unavailable", "error", err)
		return
	}
	uri, err := archiver.UploadReport(ctx, path)
	if err != nil {
		logger.Warn("s3 upload failed", "error", err)
		return
	}
	logger.Info("report archived", "uri", uri)
}

func serveMetrics(listen string, logger *slog.Logger) {
	server := &http.Server{
		Addr:              listen,
		Handler:           observability.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Warn("metrics listener stopped", "error", err)
	}
}
