// Package orchestrator drives one acquisition run per resolved
// configuration, labels each session, and merges the outcomes into an
// exportable summary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/avolkhin/snaptix/config"
	"github.com/avolkhin/snaptix/driver"
	"github.com/avolkhin/snaptix/history"
	"github.com/avolkhin/snaptix/internal/observability"
	"github.com/avolkhin/snaptix/runner"
)

// SessionResult is the outcome of one configured session.
type SessionResult struct {
	Session string
	Success bool
	Config  config.TicketConfig
	Report  *runner.RunReport
}

// Orchestrator runs every configuration sequentially. Each runner owns
// an independent session and report, so nothing is shared between
// iterations.
type Orchestrator struct {
	Factory driver.Factory
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// History is optional; recording failures are logged, never
	// fatal to the run.
	History *history.Store

	// StopSignal propagates a cooperative stop to every runner.
	StopSignal func() bool

	// Settings are driver tuning options passed to each runner.
	Settings map[string]any
}

// Run executes all configurations and returns the per-session results
// plus the aggregate success (logical AND across sessions).
func (o *Orchestrator) Run(ctx context.Context, configs []config.TicketConfig, policy runner.RetryPolicy) ([]SessionResult, bool) {
	results := make([]SessionResult, 0, len(configs))
	overall := true

	o.logInfo("starting sessions", "count", len(configs))
	for i, cfg := range configs {
		label := SessionLabel(cfg, i+1)
		logger := observability.WithSession(o.Logger, label)

		sessionPolicy := policy
		if sessionPolicy.RetryDelay == 0 {
			sessionPolicy.RetryDelay = cfg.RetryDelay
		}

		run := runner.New(cfg, o.Factory, runner.Options{
			Logger:     logger,
			Metrics:    o.Metrics,
			StopSignal: o.StopSignal,
			Settings:   o.Settings,
		})

		success := run.Run(ctx, sessionPolicy)
		report := run.LastReport()
		o.logSummary(logger, success, report)

		if !success {
			overall = false
		}
		result := SessionResult{Session: label, Success: success, Config: cfg, Report: report}
		results = append(results, result)

		o.recordHistory(ctx, logger, result)
	}

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	o.logInfo("all sessions finished", "total", len(results), "succeeded", succeeded)

	return results, overall
}

func (o *Orchestrator) recordHistory(ctx context.Context, logger *slog.Logger, result SessionResult) {
	if o.History == nil || result.Report == nil {
		return
	}
	metrics := result.Report.Metrics
	record := history.RunRecord{
		Session:        result.Session,
		Success:        result.Success,
		Attempts:       metrics.Attempts,
		FinalPhase:     string(metrics.FinalPhase),
		FailureCode:    string(metrics.FailureCode),
		FailureMessage: metrics.FailureMessage,
		StartedAt:      metrics.StartTime,
		FinishedAt:     metrics.EndTime,
	}
	if err := o.History.RecordRun(ctx, record, result.Report.Document()); err != nil && logger != nil {
		logger.Warn("recording run history failed", "error", err)
	}
}

func (o *Orchestrator) logSummary(logger *slog.Logger, success bool, report *runner.RunReport) {
	if logger == nil {
		return
	}
	if report == nil {
		logger.Warn("no run report available")
		return
	}
	metrics := report.Metrics
	duration := metrics.EndTime.Sub(metrics.StartTime).Seconds()
	if duration < 0 {
		duration = 0
	}

	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	attrs := []any{
		"status", status,
		"attempts", metrics.Attempts,
		"retries", max(metrics.Attempts-1, 0),
		"duration_seconds", duration,
		"final_phase", string(metrics.FinalPhase),
	}
	if !success && metrics.FailureCode != "" {
		attrs = append(attrs, "failure_code", string(metrics.FailureCode), "failure_reason", metrics.FailureMessage)
	}
	logger.Info("session summary", attrs...)
}

func (o *Orchestrator) logInfo(message string, attrs ...any) {
	if o.Logger == nil {
		return
	}
	o.Logger.Info(message, attrs...)
}

// SessionLabel derives a human-readable label for one session: the
// device name and unique device id from the capability map when
// present, falling back to the endpoint.
func SessionLabel(cfg config.TicketConfig, index int) string {
	var parts []string
	if name, ok := cfg.DeviceCaps["deviceName"].(string); ok && name != "" {
		parts = append(parts, name)
	}
	if udid, ok := cfg.DeviceCaps["udid"].(string); ok && udid != "" && !slices.Contains(parts, udid) {
		parts = append(parts, udid)
	}
	if len(parts) == 0 {
		parts = append(parts, cfg.ServerURL)
	}
	return fmt.Sprintf("device-%d:%s", index, strings.Join(parts, "/"))
}

