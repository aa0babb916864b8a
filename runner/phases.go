package runner

import "fmt"

// Phase is a named position in the fixed purchase workflow.
type Phase string

const (
	PhaseInit              Phase = "init"
	PhaseConnecting        Phase = "connecting"
	PhaseApplyingSettings  Phase = "applying_settings"
	PhaseSelectingCity     Phase = "selecting_city"
	PhaseTappingPurchase   Phase = "tapping_purchase"
	PhaseSelectingPrice    Phase = "selecting_price"
	PhaseSelectingQuantity Phase = "selecting_quantity"
	PhaseConfirming        Phase = "confirming_purchase"
	PhaseSelectingUsers    Phase = "selecting_users"
	PhaseSubmittingOrder   Phase = "submitting_order"
	PhaseCompleted         Phase = "completed"
	PhaseStopped           Phase = "stopped"
	PhaseFailed            Phase = "failed"
)

// phaseTransitions enumerates the legal forward edges of the workflow.
// Optional phases make several successors legal from one phase. Every
// non-terminal phase may additionally move to stopped or failed; those
// edges are listed explicitly so the table is the single source of
// truth. failed -> init covers the start of a retry attempt.
var phaseTransitions = map[Phase][]Phase{
	PhaseInit:              {PhaseConnecting, PhaseStopped, PhaseFailed},
	PhaseConnecting:        {PhaseApplyingSettings, PhaseStopped, PhaseFailed},
	PhaseApplyingSettings:  {PhaseSelectingCity, PhaseTappingPurchase, PhaseStopped, PhaseFailed},
	PhaseSelectingCity:     {PhaseTappingPurchase, PhaseStopped, PhaseFailed},
	PhaseTappingPurchase:   {PhaseSelectingPrice, PhaseSelectingQuantity, PhaseConfirming, PhaseStopped, PhaseFailed},
	PhaseSelectingPrice:    {PhaseSelectingQuantity, PhaseConfirming, PhaseStopped, PhaseFailed},
	PhaseSelectingQuantity: {PhaseConfirming, PhaseStopped, PhaseFailed},
	PhaseConfirming:        {PhaseSelectingUsers, PhaseSubmittingOrder, PhaseCompleted, PhaseStopped, PhaseFailed},
	PhaseSelectingUsers:    {PhaseSubmittingOrder, PhaseCompleted, PhaseStopped, PhaseFailed},
	PhaseSubmittingOrder:   {PhaseCompleted, PhaseStopped, PhaseFailed},
	PhaseCompleted:         {},
	PhaseStopped:           {},
	PhaseFailed:            {PhaseInit},
}

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// TransitionError reports an illegal phase transition. Reaching one is
// a programming error in the step sequence, not a workflow outcome.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s", e.From, e.To)
}

func validatePhaseTransition(current, next Phase) error {
	for _, allowed := range phaseTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return &TransitionError{From: current, To: next}
}
