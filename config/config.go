// Package config resolves the ticket acquisition configuration document:
// one base configuration plus optional per-device overrides, with alias
// normalization, type coercion, and field-scoped validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultWaitTimeout = 2 * time.Second
	DefaultRetryDelay  = 2 * time.Second
)

// TicketConfig is one fully resolved target configuration. Immutable
// after resolution; the runner owns it for the duration of a run.
type TicketConfig struct {
	// ServerURL is the automation endpoint, always carrying an
	// http:// or https:// scheme after resolution.
	ServerURL string

	// Optional filters. Empty string means absent.
	Keyword string
	City    string
	Date    string
	Price   string

	// Users are the participant names to select during the flow.
	// Empty is valid (solo purchase).
	Users []string

	// PriceIndex selects a price tier by position. Nil means no
	// price-tier selection step.
	PriceIndex *int

	// CommitOrder controls whether the final submit step runs. When
	// false the flow stops after reaching the order page (dry run).
	CommitOrder bool

	// DeviceCaps are raw capability overrides handed to the
	// automation driver.
	DeviceCaps map[string]any

	WaitTimeout time.Duration
	RetryDelay  time.Duration

	// StartAt is the raw scheduled-start text (parsed by the schedule
	// package); WarmupSec is the health-check window before it.
	StartAt   string
	WarmupSec int
}

// Capabilities returns the driver capability map: a small generic base
// overridden by every key in DeviceCaps.
func (c TicketConfig) Capabilities() map[string]any {
	caps := map[string]any{
		"platformName":      "Android",
		"automationName":    "UiAutomator2",
		"deviceName":        "AndroidDevice",
		"newCommandTimeout": 6000,
		"noReset":           true,
	}
	for key, value := range c.DeviceCaps {
		caps[key] = value
	}
	return caps
}

// ValidationError carries field-scoped messages for a document that
// failed resolution. Never retried automatically; the caller fixes the
// input.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString(":")
	for _, field := range e.Fields {
		b.WriteString("\n- ")
		b.WriteString(field)
	}
	return b.String()
}

func newValidationError(message string, fields []string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func fieldError(name, problem string) string {
	return fmt.Sprintf("%s: %s", name, problem)
}
