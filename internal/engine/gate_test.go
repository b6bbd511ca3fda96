package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateDecisionTable(t *testing.T) {
	tests := []struct {
		name string
		in   GateInputs
		want Decision
	}{
		{
			name: "user pause wins over everything",
			in: GateInputs{
				UserPauseRequested: true,
				BudgetWindDown:     true,
				FlowCriticalOrHigh: true,
				Remaining:          3,
			},
			want: DecisionPause,
		},
		{
			name: "budget wind-down pauses",
			in:   GateInputs{BudgetWindDown: true, CodeApproved: true},
			want: DecisionPause,
		},
		{
			name: "severe flow findings force another cycle even when approved",
			in:   GateInputs{FlowCriticalOrHigh: true, CodeApproved: true, CurrentCycle: 0, MaxCycles: 5},
			want: DecisionContinue,
		},
		{
			name: "unapproved code review continues",
			in:   GateInputs{CodeApproved: false, CurrentCycle: 0, MaxCycles: 5},
			want: DecisionContinue,
		},
		{
			name: "clean board completes",
			in:   GateInputs{CodeApproved: true, Remaining: 0, Failed: 0, CurrentCycle: 0, MaxCycles: 5},
			want: DecisionComplete,
		},
		{
			name: "completion outranks the cycle cap",
			in:   GateInputs{CodeApproved: true, Remaining: 0, Failed: 0, CurrentCycle: 4, MaxCycles: 5},
			want: DecisionComplete,
		},
		{
			name: "cap reached with work remaining escalates",
			in:   GateInputs{CodeApproved: true, Remaining: 2, CurrentCycle: 4, MaxCycles: 5},
			want: DecisionEscalate,
		},
		{
			name: "remaining work continues",
			in:   GateInputs{CodeApproved: true, Remaining: 2, CurrentCycle: 1, MaxCycles: 5},
			want: DecisionContinue,
		},
		{
			name: "failed work continues",
			in:   GateInputs{CodeApproved: true, Failed: 1, CurrentCycle: 1, MaxCycles: 5},
			want: DecisionContinue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Gate(tt.in))
		})
	}
}
