package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avolkhin/snaptix/config"
	"github.com/avolkhin/snaptix/runner"
)

// ExportDocument is the combined outcome document. With exactly one
// session the single Run form is used; otherwise Runs lists every
// session in execution order.
type ExportDocument struct {
	GeneratedAt    string      `json:"generated_at"`
	OverallSuccess bool        `json:"overall_success"`
	Run            *RunExport  `json:"run,omitempty"`
	Runs           []RunExport `json:"runs,omitempty"`
}

// RunExport is one session's outcome: label, success, a config summary,
// and the full run report.
type RunExport struct {
	Session string                 `json:"session"`
	Success bool                   `json:"success"`
	Config  ConfigSummary          `json:"config"`
	Report  *runner.ReportDocument `json:"report"`
}

// ConfigSummary is the exported view of a configuration, limited to the
// fields useful for diagnosis.
type ConfigSummary struct {
	ServerURL  string         `json:"server_url"`
	Users      []string       `json:"users"`
	Keyword    string         `json:"keyword,omitempty"`
	City       string         `json:"city,omitempty"`
	Date       string         `json:"date,omitempty"`
	Price      string         `json:"price,omitempty"`
	PriceIndex *int           `json:"price_index"`
	DeviceCaps map[string]any `json:"device_caps"`
}

// BuildExport assembles the combined document from session results.
func BuildExport(results []SessionResult, generatedAt time.Time) ExportDocument {
	doc := ExportDocument{
		GeneratedAt:    generatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		OverallSuccess: true,
	}

	runs := make([]RunExport, 0, len(results))
	for _, result := range results {
		if !result.Success {
			doc.OverallSuccess = false
		}
		runs = append(runs, exportRun(result))
	}

	if len(runs) == 1 {
		doc.Run = &runs[0]
	} else {
		doc.Runs = runs
	}
	return doc
}

// Export writes the combined document to path, creating parent
// directories. An export failure is surfaced to the caller and leaves
// the in-memory results untouched.
func Export(path string, results []SessionResult) (string, error) {
	doc := BuildExport(results, time.Now())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

func exportRun(result SessionResult) RunExport {
	run := RunExport{
		Session: result.Session,
		Success: result.Success,
		Config:  summarizeConfig(result.Config),
	}
	if result.Report != nil {
		doc := result.Report.Document()
		run.Report = &doc
	}
	return run
}

func summarizeConfig(cfg config.TicketConfig) ConfigSummary {
	users := cfg.Users
	if users == nil {
		users = []string{}
	}
	caps := cfg.DeviceCaps
	if caps == nil {
		caps = map[string]any{}
	}
	return ConfigSummary{
		ServerURL:  cfg.ServerURL,
		Users:      users,
		Keyword:    cfg.Keyword,
		City:       cfg.City,
		Date:       cfg.Date,
		Price:      cfg.Price,
		PriceIndex: cfg.PriceIndex,
		DeviceCaps: caps,
	}
}
