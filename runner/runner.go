// Package runner drives one ticket acquisition workflow as an explicit
// phase state machine with bounded retries, typed failure
// classification, and a structured run report.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avolkhin/snaptix/config"
	"github.com/avolkhin/snaptix/driver"
	"github.com/avolkhin/snaptix/internal/observability"
)

// RetryPolicy bounds a run. MaxAttempts below 1 is treated as 1; a
// user stop always halts remaining attempts regardless of budget.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	return p
}

// Options are the injectable collaborators of a Runner. All fields are
// optional; zero values disable the corresponding concern.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// StopSignal is polled between steps. Returning true aborts the
	// run as a user stop. Context cancellation is honored the same
	// way.
	StopSignal func() bool

	// Settings are pushed to the session after connecting.
	// Best-effort: a failure is logged and the flow continues.
	Settings map[string]any
}

// Runner executes the purchase workflow for one resolved configuration.
// Not safe for concurrent use; run several Runner instances instead,
// each with its own session and report state.
type Runner struct {
	config   config.TicketConfig
	factory  driver.Factory
	logger   *slog.Logger
	metrics  *observability.Metrics
	stop     func() bool
	settings map[string]any

	now func() time.Time

	phase      Phase
	history    []Phase
	logs       []LogEntry
	session    driver.Session
	lastReport *RunReport
}

func New(cfg config.TicketConfig, factory driver.Factory, opts Options) *Runner {
	return &Runner{
		config:   cfg,
		factory:  factory,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		stop:     opts.StopSignal,
		settings: opts.Settings,
		now:      time.Now,
		phase:    PhaseInit,
		history:  []Phase{PhaseInit},
	}
}

// Phase returns the runner's current workflow position.
func (r *Runner) Phase() Phase {
	return r.phase
}

// LastReport returns the report of the most recent run, or nil before
// the first run. The next Run supersedes it.
func (r *Runner) LastReport() *RunReport {
	return r.lastReport
}

// ExportLastReport writes the most recent report to path.
func (r *Runner) ExportLastReport(path string) (string, error) {
	if r.lastReport == nil {
		return "", fmt.Errorf("no run report available")
	}
	return r.lastReport.WriteFile(path)
}

// Run executes up to policy.MaxAttempts attempts and reports overall
// success. Step-level failures never escape: every outcome is folded
// into the run report and the boolean result. The automation session is
// released after every attempt and once more on the way out.
func (r *Runner) Run(ctx context.Context, policy RetryPolicy) bool {
	policy = policy.normalized()
	start := r.now()
	r.resetRun()
	defer r.closeSession()

	baseLogger := r.logger
	defer func() { r.logger = baseLogger }()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		r.logger = observability.WithAttempt(baseLogger, attempt)
		r.metrics.IncAttempt()
		r.log(LevelInfo, "starting attempt", map[string]any{"attempt": attempt, "max_attempts": policy.MaxAttempts})

		err := r.executeOnce(ctx)
		r.closeSession()

		if err == nil {
			r.log(LevelSuccess, "purchase workflow completed", map[string]any{"attempt": attempt})
			r.finishRun(start, attempts, true, "", "")
			r.metrics.IncRun("success")
			return true
		}

		lastErr = err
		reason, message := Diagnose(err)
		r.metrics.IncFailure(string(reason))

		if reason == FailureUserStop {
			r.log(LevelWarning, "run stopped by user", map[string]any{"attempt": attempt})
			r.finishRun(start, attempts, false, reason, message)
			r.metrics.IncRun("stopped")
			return false
		}

		r.log(LevelError, "attempt failed", map[string]any{
			"attempt": attempt,
			"reason":  string(reason),
			"error":   message,
		})

		if attempt < policy.MaxAttempts && policy.RetryDelay > 0 {
			r.sleep(ctx, policy.RetryDelay)
		}
	}

	reason, message := Diagnose(lastErr)
	if reason == FailureFlow {
		reason = FailureMaxRetries
		message = fmt.Sprintf("max retries reached: %s", message)
	}
	r.finishRun(start, attempts, false, reason, message)
	r.metrics.IncRun("failure")
	return false
}

// executeOnce runs a single pass of the phase machine. It returns nil
// on reaching completed; otherwise the phase has been driven to its
// terminal value and a typed error describes the outcome.
func (r *Runner) executeOnce(ctx context.Context) error {
	if err := r.beginAttempt(); err != nil {
		return err
	}
	if err := r.ensureNotStopped(ctx); err != nil {
		return err
	}

	if err := r.transition(PhaseConnecting); err != nil {
		return r.fail(err)
	}
	r.log(LevelStep, "connecting to automation server", map[string]any{"endpoint": r.config.ServerURL})
	session, err := r.factory.CreateSession(ctx, r.config.ServerURL, r.config.Capabilities())
	if err != nil {
		return r.fail(err)
	}
	r.session = session

	if err := r.ensureNotStopped(ctx); err != nil {
		return err
	}
	if err := r.transition(PhaseApplyingSettings); err != nil {
		return r.fail(err)
	}
	if len(r.settings) > 0 {
		if err := session.ApplySettings(ctx, r.settings); err != nil {
			r.log(LevelWarning, "applying driver settings failed", map[string]any{"error": err.Error()})
		}
	}

	if r.config.City != "" {
		if err := r.step(ctx, PhaseSelectingCity, driver.IntentCitySelect, "city selector"); err != nil {
			return err
		}
	}

	if err := r.step(ctx, PhaseTappingPurchase, driver.IntentPurchaseEntry, "purchase entry control"); err != nil {
		return err
	}

	if r.config.Price != "" || r.config.PriceIndex != nil {
		if err := r.step(ctx, PhaseSelectingPrice, driver.IntentPriceSelect, "price tier control"); err != nil {
			return err
		}
	}

	if len(r.config.Users) > 1 {
		if err := r.step(ctx, PhaseSelectingQuantity, driver.IntentQuantity, "quantity control"); err != nil {
			return err
		}
	}

	if err := r.step(ctx, PhaseConfirming, driver.IntentConfirm, "purchase confirmation control"); err != nil {
		return err
	}

	if len(r.config.Users) > 0 {
		if err := r.step(ctx, PhaseSelectingUsers, driver.IntentUserSelect, "participant selector"); err != nil {
			return err
		}
	}

	if r.config.CommitOrder {
		if err := r.step(ctx, PhaseSubmittingOrder, driver.IntentSubmitOrder, "order submit control"); err != nil {
			return err
		}
	} else {
		r.log(LevelInfo, "commit disabled, skipping order submission", nil)
	}

	if err := r.transition(PhaseCompleted); err != nil {
		return r.fail(err)
	}
	return nil
}

// step advances to phase and performs its driver intent. A timeout
// waiting for the control is a normal outcome that becomes a FlowError
// and participates in the retry policy.
func (r *Runner) step(ctx context.Context, phase Phase, intent driver.Intent, control string) error {
	if err := r.ensureNotStopped(ctx); err != nil {
		return err
	}
	if err := r.transition(phase); err != nil {
		return r.fail(err)
	}
	r.log(LevelStep, "executing step", map[string]any{"intent": string(intent)})

	ok, err := r.session.LocateAndActivate(ctx, intent, r.config.WaitTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return r.stopped()
		}
		return r.fail(&FlowError{Phase: phase, Message: control + " failed", Err: err})
	}
	if !ok {
		return r.fail(&FlowError{
			Phase:   phase,
			Message: fmt.Sprintf("%s not found within %s", control, r.config.WaitTimeout),
		})
	}
	return nil
}

func (r *Runner) beginAttempt() error {
	if r.phase == PhaseInit {
		return nil
	}
	if err := validatePhaseTransition(r.phase, PhaseInit); err != nil {
		return err
	}
	r.applyTransition(PhaseInit)
	return nil
}

// transition moves the phase machine forward. Self-transitions are
// no-ops and do not extend the history.
func (r *Runner) transition(next Phase) error {
	if next == r.phase {
		return nil
	}
	if err := validatePhaseTransition(r.phase, next); err != nil {
		return err
	}
	r.applyTransition(next)
	return nil
}

func (r *Runner) applyTransition(next Phase) {
	r.phase = next
	r.history = append(r.history, next)
	r.metrics.IncPhase(string(next))
}

// fail drives the phase to failed and propagates the step error.
func (r *Runner) fail(err error) error {
	if !r.phase.Terminal() {
		r.applyTransition(PhaseFailed)
	}
	return err
}

// stopped drives the phase to stopped and returns the typed error.
func (r *Runner) stopped() error {
	at := r.phase
	if !r.phase.Terminal() {
		r.applyTransition(PhaseStopped)
	}
	return &StoppedError{Phase: at}
}

func (r *Runner) ensureNotStopped(ctx context.Context) error {
	if ctx.Err() != nil {
		return r.stopped()
	}
	if r.stop != nil && r.stop() {
		return r.stopped()
	}
	return nil
}

func (r *Runner) resetRun() {
	r.phase = PhaseInit
	r.history = []Phase{PhaseInit}
	r.logs = nil
	r.lastReport = nil
}

func (r *Runner) finishRun(start time.Time, attempts int, success bool, reason FailureReason, message string) {
	metrics := RunMetrics{
		StartTime:      start,
		EndTime:        r.now(),
		Attempts:       attempts,
		Success:        success,
		FinalPhase:     r.phase,
		FailureCode:    reason,
		FailureMessage: message,
	}
	history := make([]Phase, len(r.history))
	copy(history, r.history)
	logs := make([]LogEntry, len(r.logs))
	copy(logs, r.logs)
	r.lastReport = &RunReport{Metrics: metrics, PhaseHistory: history, Logs: logs}
}

func (r *Runner) closeSession() {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		r.log(LevelWarning, "closing automation session failed", map[string]any{"error": err.Error()})
	}
	r.session = nil
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// log records an entry in the run report and mirrors it to the
// structured logger.
func (r *Runner) log(level Level, message string, context map[string]any) {
	if context == nil {
		context = map[string]any{}
	}
	r.logs = append(r.logs, LogEntry{
		Time:    r.now(),
		Level:   level,
		Message: message,
		Phase:   r.phase,
		Context: context,
	})

	if r.logger == nil {
		return
	}
	attrs := make([]any, 0, 2*len(context)+2)
	attrs = append(attrs, "phase", string(r.phase))
	for key, value := range context {
		attrs = append(attrs, key, value)
	}
	switch level {
	case LevelWarning:
		r.logger.Warn(message, attrs...)
	case LevelError:
		r.logger.Error(message, attrs...)
	default:
		r.logger.Info(message, attrs...)
	}
}
