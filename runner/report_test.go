package runner

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleReport() *RunReport {
	start := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	return &RunReport{
		Metrics: RunMetrics{
			StartTime:  start,
			EndTime:    start.Add(3500 * time.Millisecond),
			Attempts:   2,
			Success:    true,
			FinalPhase: PhaseCompleted,
		},
		PhaseHistory: []Phase{PhaseInit, PhaseConnecting, PhaseCompleted},
		Logs: []LogEntry{
			{Time: start, Level: LevelStep, Message: "connecting to automation server", Phase: PhaseConnecting},
		},
	}
}

func TestDocumentSuccess(t *testing.T) {
	doc := sampleReport().Document()

	if doc.Metrics.Attempts != 2 || doc.Metrics.Retries != 1 {
		t.Fatalf("attempts %d retries %d, want 2 and 1", doc.Metrics.Attempts, doc.Metrics.Retries)
	}
	if doc.Metrics.DurationSeconds != 3.5 {
		t.Fatalf("duration %v, want 3.5", doc.Metrics.DurationSeconds)
	}
	if doc.Metrics.FailureCode != nil || doc.Metrics.FailureReason != nil {
		t.Fatalf("successful run must have null failure fields")
	}
	if doc.Metrics.StartTimeISO != "2026-05-20T12:00:00.000Z" {
		t.Fatalf("unexpected start time %q", doc.Metrics.StartTimeISO)
	}
	if len(doc.PhaseHistory) != 3 || doc.PhaseHistory[2] != "completed" {
		t.Fatalf("unexpected phase history %v", doc.PhaseHistory)
	}
}

func TestDocumentFailure(t *testing.T) {
	report := sampleReport()
	report.Metrics.Success = false
	report.Metrics.FinalPhase = PhaseFailed
	report.Metrics.FailureCode = FailureMaxRetries
	report.Metrics.FailureMessage = "max retries reached: tapping_purchase: purchase entry control not found within 2s"

	doc := report.Document()
	if doc.Metrics.FailureCode == nil || *doc.Metrics.FailureCode != "max_retries_reached" {
		t.Fatalf("unexpected failure code %v", doc.Metrics.FailureCode)
	}
	if doc.Metrics.FailureReason == nil || *doc.Metrics.FailureReason != report.Metrics.FailureMessage {
		t.Fatalf("unexpected failure reason %v", doc.Metrics.FailureReason)
	}
	if doc.Metrics.FinalPhase != "failed" {
		t.Fatalf("unexpected final phase %q", doc.Metrics.FinalPhase)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "report.json")
	written, err := sampleReport().WriteFile(path)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if written != path {
		t.Fatalf("returned path %q, want %q", written, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	var doc ReportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if !doc.Metrics.Success {
		t.Fatalf("round-tripped document lost success flag")
	}
	if len(doc.Logs) != 1 || doc.Logs[0].Level != "step" {
		t.Fatalf("unexpected logs %v", doc.Logs)
	}
}

func TestWriteFileIsDeterministic(t *testing.T) {
	report := sampleReport()
	path := filepath.Join(t.TempDir(), "report.json")

	if _, err := report.WriteFile(path); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading first export: %v", err)
	}

	if _, err := report.WriteFile(path); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading second export: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("repeated export of the same report must be byte-identical")
	}
}
