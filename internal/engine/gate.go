package engine

// Decision is the checkpoint outcome for a cycle
type Decision string

// Checkpoint decisions
const (
	DecisionContinue Decision = "continue"
	DecisionComplete Decision = "complete"
	DecisionEscalate Decision = "escalate"
	DecisionPause    Decision = "pause"
)

// GateInputs are the facts the checkpoint decision is made from
type GateInputs struct {
	UserPauseRequested bool
	BudgetWindDown     bool
	FlowCriticalOrHigh bool
	CodeApproved       bool
	Remaining          int // pending + in_progress
	Failed             int
	CurrentCycle       int
	MaxCycles          int
}

// Gate applies the checkpoint decision table. Rows are evaluated in order
// and the first match wins; user-requested pause outranks the budget so a
// poll that observes both pauses for the user's reason.
func Gate(in GateInputs) Decision {
	switch {
	case in.UserPauseRequested:
		return DecisionPause
	case in.BudgetWindDown:
		return DecisionPause
	case in.FlowCriticalOrHigh:
		return DecisionContinue
	case !in.CodeApproved:
		return DecisionContinue
	case in.Remaining == 0 && in.Failed == 0:
		return DecisionComplete
	case in.CurrentCycle+1 >= in.MaxCycles:
		return DecisionEscalate
	case in.Remaining > 0 || in.Failed > 0:
		return DecisionContinue
	default:
		return DecisionComplete
	}
}
