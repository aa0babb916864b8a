package orchestrator

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avolkhin/snaptix/config"
	"github.com/avolkhin/snaptix/runner"
)

func sampleResult(session string, success bool) SessionResult {
	start := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	return SessionResult{
		Session: session,
		Success: success,
		Config:  config.TicketConfig{ServerURL: "http://127.0.0.1:4723", Keyword: "tour"},
		Report: &runner.RunReport{
			Metrics: runner.RunMetrics{
				StartTime:  start,
				EndTime:    start.Add(time.Second),
				Attempts:   1,
				Success:    success,
				FinalPhase: runner.PhaseCompleted,
			},
			PhaseHistory: []runner.Phase{runner.PhaseInit, runner.PhaseCompleted},
		},
	}
}

func TestBuildExportSingleRun(t *testing.T) {
	generated := time.Date(2026, 5, 20, 12, 0, 5, 0, time.UTC)
	doc := BuildExport([]SessionResult{sampleResult("device-1:emulator-5554", true)}, generated)

	if doc.GeneratedAt != "2026-05-20T12:00:05Z" {
		t.Fatalf("unexpected generated_at %q", doc.GeneratedAt)
	}
	if !doc.OverallSuccess {
		t.Fatal("expected overall success")
	}
	if doc.Run == nil || doc.Runs != nil {
		t.Fatalf("single session must use the run form: %+v", doc)
	}
	if doc.Run.Session != "device-1:emulator-5554" {
		t.Fatalf("unexpected session %q", doc.Run.Session)
	}
	if doc.Run.Config.Keyword != "tour" {
		t.Fatalf("unexpected config summary %+v", doc.Run.Config)
	}
}

func TestBuildExportMultipleRuns(t *testing.T) {
	doc := BuildExport([]SessionResult{
		sampleResult("device-1:a", true),
		sampleResult("device-2:b", false),
	}, time.Now())

	if doc.OverallSuccess {
		t.Fatal("one failure must fail the aggregate")
	}
	if doc.Run != nil || len(doc.Runs) != 2 {
		t.Fatalf("multiple sessions must use the runs form: %+v", doc)
	}
	if doc.Runs[0].Session != "device-1:a" || doc.Runs[1].Session != "device-2:b" {
		t.Fatalf("runs must keep execution order: %+v", doc.Runs)
	}
}

func TestExportWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	written, err := Export(path, []SessionResult{sampleResult("device-1:a", true)})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if written != path {
		t.Fatalf("returned path %q, want %q", written, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if _, ok := doc["generated_at"]; !ok {
		t.Fatal("export must carry generated_at")
	}
	if _, ok := doc["run"]; !ok {
		t.Fatal("single session export must carry run")
	}
}

func TestBuildExportIsDeterministic(t *testing.T) {
	results := []SessionResult{
		sampleResult("device-1:a", true),
		sampleResult("device-2:b", false),
	}
	generated := time.Date(2026, 5, 20, 12, 0, 5, 0, time.UTC)

	first, err := json.Marshal(BuildExport(results, generated))
	if err != nil {
		t.Fatalf("first marshal: %v", err)
	}
	second, err := json.Marshal(BuildExport(results, generated))
	if err != nil {
		t.Fatalf("second marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("repeated export of the same results must be byte-identical")
	}
}

func TestSummarizeConfigDefaults(t *testing.T) {
	summary := summarizeConfig(config.TicketConfig{ServerURL: "http://h"})
	if summary.Users == nil {
		t.Fatal("users must serialize as an empty list, not null")
	}
	if summary.DeviceCaps == nil {
		t.Fatal("device caps must serialize as an empty object, not null")
	}
}
