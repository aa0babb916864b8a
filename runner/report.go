package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Level grades a log entry recorded in the run report.
type Level string

const (
	LevelStep    Level = "step"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// LogEntry is one line of the append-only run log, owned by a single
// run.
type LogEntry struct {
	Time    time.Time
	Level   Level
	Message string
	Phase   Phase
	Context map[string]any
}

// RunMetrics summarizes a finished run. Derived once; not mutated
// afterwards.
type RunMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	Attempts       int
	Success        bool
	FinalPhase     Phase
	FailureCode    FailureReason // empty when the run succeeded
	FailureMessage string
}

// RunReport is the structured, replayable record of one run: metrics,
// the collapsed phase history, and every log entry in order.
type RunReport struct {
	Metrics      RunMetrics
	PhaseHistory []Phase
	Logs         []LogEntry
}

// ReportDocument is the JSON shape of an exported report. Timestamps
// appear both as epoch seconds and as ISO strings for operators.
type ReportDocument struct {
	Metrics      MetricsDocument    `json:"metrics"`
	PhaseHistory []string           `json:"phase_history"`
	Logs         []LogEntryDocument `json:"logs"`
}

type MetricsDocument struct {
	StartTime       float64 `json:"start_time"`
	StartTimeISO    string  `json:"start_time_iso"`
	EndTime         float64 `json:"end_time"`
	EndTimeISO      string  `json:"end_time_iso"`
	DurationSeconds float64 `json:"duration_seconds"`
	Attempts        int     `json:"attempts"`
	Retries         int     `json:"retries"`
	Success         bool    `json:"success"`
	FinalPhase      string  `json:"final_phase"`
	FailureReason   *string `json:"failure_reason"`
	FailureCode     *string `json:"failure_code"`
}

type LogEntryDocument struct {
	Timestamp    float64        `json:"timestamp"`
	TimestampISO string         `json:"timestamp_iso"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	Phase        string         `json:"phase"`
	Context      map[string]any `json:"context"`
}

// Document converts the report into its exportable JSON shape.
func (r *RunReport) Document() ReportDocument {
	metrics := r.Metrics
	duration := metrics.EndTime.Sub(metrics.StartTime).Seconds()
	if duration < 0 {
		duration = 0
	}

	doc := ReportDocument{
		Metrics: MetricsDocument{
			StartTime:       epochSeconds(metrics.StartTime),
			StartTimeISO:    isoTime(metrics.StartTime),
			EndTime:         epochSeconds(metrics.EndTime),
			EndTimeISO:      isoTime(metrics.EndTime),
			DurationSeconds: duration,
			Attempts:        metrics.Attempts,
			Retries:         max(metrics.Attempts-1, 0),
			Success:         metrics.Success,
			FinalPhase:      string(metrics.FinalPhase),
		},
		PhaseHistory: make([]string, 0, len(r.PhaseHistory)),
		Logs:         make([]LogEntryDocument, 0, len(r.Logs)),
	}

	if metrics.FailureCode != "" {
		code := string(metrics.FailureCode)
		doc.Metrics.FailureCode = &code
		message := metrics.FailureMessage
		doc.Metrics.FailureReason = &message
	}

	for _, phase := range r.PhaseHistory {
		doc.PhaseHistory = append(doc.PhaseHistory, string(phase))
	}
	for _, entry := range r.Logs {
		doc.Logs = append(doc.Logs, LogEntryDocument{
			Timestamp:    epochSeconds(entry.Time),
			TimestampISO: isoTime(entry.Time),
			Level:        string(entry.Level),
			Message:      entry.Message,
			Phase:        string(entry.Phase),
			Context:      entry.Context,
		})
	}
	return doc
}

// WriteFile serializes the report to path, creating parent directories.
// I/O failures are surfaced, never retried.
func (r *RunReport) WriteFile(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	payload, err := json.MarshalIndent(r.Document(), "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}
