// Package driver defines the capability surface the acquisition runner
// depends on for UI automation. The runner never touches selectors or
// gestures directly; it asks a Session to carry out a named workflow
// intent and observes a boolean outcome.
package driver

import (
	"context"
	"fmt"
	"time"
)

// Intent names a workflow step the session is asked to perform. The
// binding from an intent to a concrete on-screen control lives with the
// Factory implementation, not with the runner.
type Intent string

const (
	IntentCitySelect    Intent = "city-select"
	IntentPurchaseEntry Intent = "purchase-entry"
	IntentPriceSelect   Intent = "price-select"
	IntentQuantity      Intent = "quantity-select"
	IntentConfirm       Intent = "confirm-purchase"
	IntentUserSelect    Intent = "user-select"
	IntentSubmitOrder   Intent = "submit-order"
)

// Session is one live automation connection scoped to a single run.
type Session interface {
	// ApplySettings pushes driver-side tuning options. Best-effort:
	// callers log failures and continue.
	ApplySettings(ctx context.Context, options map[string]any) error

	// LocateAndActivate finds the control bound to the intent and
	// triggers it. Returns false when the control does not appear
	// within timeout; the error return is reserved for transport
	// faults, not for "not found".
	LocateAndActivate(ctx context.Context, intent Intent, timeout time.Duration) (bool, error)

	// Close releases the session. Idempotent.
	Close() error
}

// Factory creates sessions against an automation endpoint.
type Factory interface {
	CreateSession(ctx context.Context, endpoint string, capabilities map[string]any) (Session, error)
}

// ConnectionError reports that a session could not be established.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("automation connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
