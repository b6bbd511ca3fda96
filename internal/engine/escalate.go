package engine

import (
	"context"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"

	cerrors "github.com/clpotvin/claude-code-conductor/internal/errors"
	"github.com/clpotvin/claude-code-conductor/internal/store"
)

// escalate records the request for human guidance durably. In interactive
// mode the human answers immediately; otherwise the engine exits with the
// escalation exit code so the launching shell can resume later.
func (e *Engine) escalate(ctx context.Context, state *store.RunState, reason, details string) error {
	esc := &store.Escalation{
		ID:        uuid.NewString(),
		Reason:    reason,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Options:   []string{"continue", "redirect", "stop"},
	}
	if err := e.store.WriteEscalation(esc); err != nil {
		return err
	}
	if _, err := e.store.MutateState(func(st *store.RunState) error {
		st.Status = store.RunEscalated
		return nil
	}); err != nil {
		return err
	}

	if !e.cfg.Interactive {
		return cerrors.Newf(cerrors.ErrCodeEscalated, "escalation: %s", reason).
			WithSuggestion("run 'conductor resume' after deciding how to proceed")
	}
	return e.promptHuman(ctx, esc)
}

// promptHuman asks the operator to choose; redirect text feeds the next
// replan, stop completes the run cleanly.
func (e *Engine) promptHuman(ctx context.Context, esc *store.Escalation) error {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Conductor needs guidance").
			Description(esc.Reason+"\n\n"+esc.Details).
			Options(
				huh.NewOption("Continue for more cycles", "continue"),
				huh.NewOption("Redirect with new instructions", "redirect"),
				huh.NewOption("Stop here and keep what's done", "stop"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return cerrors.Wrap(cerrors.ErrCodeEscalated, "escalation prompt failed", err)
	}

	switch choice {
	case "continue":
		return e.acceptEscalation(ctx, "")
	case "redirect":
		var redirect string
		input := huh.NewForm(huh.NewGroup(
			huh.NewText().Title("Redirect instructions").Value(&redirect),
		))
		if err := input.Run(); err != nil {
			return cerrors.Wrap(cerrors.ErrCodeEscalated, "redirect prompt failed", err)
		}
		return e.acceptEscalation(ctx, redirect)
	default: // stop
		return e.complete(ctx)
	}
}

// acceptEscalation clears the record, raises the cycle cap by one so the
// run can proceed, and loops back into Run.
func (e *Engine) acceptEscalation(ctx context.Context, redirect string) error {
	if err := e.store.ClearEscalation(); err != nil {
		return err
	}
	if redirect != "" {
		e.cfg.RedirectFeedback = redirect
	}
	if _, err := e.store.MutateState(func(st *store.RunState) error {
		st.Status = store.RunPlanning
		st.MaxCycles++
		return nil
	}); err != nil {
		return err
	}
	return e.Run(ctx)
}
