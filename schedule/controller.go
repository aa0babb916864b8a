// Package schedule aligns run execution to a wall-clock deadline: a
// staged coarse sleep, a warmup window of best-effort health checks,
// and a fine-grained final wait that minimizes overshoot past the
// deadline.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// HealthCheck is a best-effort readiness probe executed during the
// warmup window. Probe results are logged but never abort the wait.
type HealthCheck interface {
	Name() string
	Probe(ctx context.Context) bool
}

// Controller waits for a scheduled start instant.
type Controller struct {
	Logger *slog.Logger
	Checks []HealthCheck

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(d time.Duration)
}

func NewController(logger *slog.Logger, checks ...HealthCheck) *Controller {
	return &Controller{
		Logger: logger,
		Checks: checks,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// WaitUntil blocks until target. It never fails: a target already in
// the past logs the overshoot and returns immediately. When warmup is
// positive and smaller than the remaining time, the controller sleeps
// until warmup seconds before the deadline, runs the health checks,
// then converges on the deadline in chunks that always leave at least
// one second of margin before switching to a sub-second poll.
func (c *Controller) WaitUntil(ctx context.Context, target time.Time, warmup time.Duration) {
	remaining := target.Sub(c.now())
	if remaining <= 0 {
		c.logInfo("scheduled start already passed, executing immediately",
			"overshoot_seconds", (-remaining).Seconds())
		return
	}

	if warmup > 0 {
		if remaining > warmup {
			stage := remaining - warmup
			c.logInfo("sleeping until warmup window",
				"remaining_seconds", remaining.Seconds(),
				"sleep_seconds", stage.Seconds())
			c.sleep(stage)
		}
		for _, check := range c.Checks {
			ok := check.Probe(ctx)
			c.logInfo("warmup check", "check", check.Name(), "ok", ok)
		}
	}

	for {
		if ctx.Err() != nil {
			c.logInfo("scheduled wait canceled", "error", ctx.Err().Error())
			return
		}
		remaining = target.Sub(c.now())
		if remaining <= 0 {
			break
		}
		if remaining > time.Second {
			// Coarse sleep, keeping a one second margin for
			// scheduler jitter.
			c.sleep(remaining - time.Second)
		} else {
			// Sub-second tail: poll tightly to minimize
			// overshoot past the deadline.
			c.sleep(time.Millisecond)
		}
	}

	c.logInfo("scheduled start reached, launching")
}

func (c *Controller) logInfo(message string, attrs ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.Info(message, attrs...)
}

// startAtLayouts are the accepted forms beyond RFC 3339: a bare local
// timestamp with either a space or a T separator.
var startAtLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseStartAt parses a scheduled start instant. Accepts ISO-8601 with
// an explicit offset or Z, or a bare "YYYY-MM-DD HH:MM:SS" interpreted
// in the local timezone.
func ParseStartAt(text string) (time.Time, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return time.Time{}, fmt.Errorf("start time is empty")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range startAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized start time %q", text)
}
