package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/clpotvin/claude-code-conductor/internal/issues"
	"github.com/clpotvin/claude-code-conductor/internal/store"
	"github.com/clpotvin/claude-code-conductor/internal/tui"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true)
	pausedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	completedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run state, tasks, sessions, and cycle history",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := projectDir(cmd)
		if err != nil {
			return err
		}
		s := store.New(dir)
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return tui.Watch(s)
		}
		return printStatus(cmd, s)
	},
}

func printStatus(cmd *cobra.Command, s *store.Store) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, statusTitleStyle.Render("Run"))
	fmt.Fprintf(out, "  feature:  %s\n", state.Feature)
	fmt.Fprintf(out, "  branch:   %s (base %s)\n", state.Branch, short(state.BaseCommit))
	fmt.Fprintf(out, "  status:   %s\n", renderStatus(state))
	fmt.Fprintf(out, "  cycle:    %d/%d\n", state.CurrentCycle, state.MaxCycles)
	if state.LastUsage != nil {
		fmt.Fprintf(out, "  usage:    %.0f%% (resets %s)\n",
			state.LastUsage.Utilization*100, state.LastUsage.ResetsAt.Local().Format(time.Kitchen))
	}

	tasks, err := s.ListTasks("")
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Subject", "Status", "Owner", "Type", "Risk"})
		for _, task := range tasks {
			t.AppendRow(table.Row{task.ID, task.Subject, task.Status, task.Owner, task.Type, task.RiskLevel})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, statusTitleStyle.Render("Tasks"))
		t.Render()
	}

	sessions, err := s.ListSessionStatuses()
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Session", "State", "Current Task", "Completed", "Updated"})
		for _, sess := range sessions {
			t.AppendRow(table.Row{sess.SessionID, sess.State, sess.CurrentTask,
				len(sess.CompletedTasks), sess.UpdatedAt.Local().Format(time.Kitchen)})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, statusTitleStyle.Render("Sessions"))
		t.Render()
	}

	if len(state.CycleHistory) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Cycle", "Plan", "Done", "Failed", "Code OK", "Rounds", "Duration"})
		for _, rec := range state.CycleHistory {
			t.AppendRow(table.Row{rec.Cycle, fmt.Sprintf("v%d", rec.PlanVersion),
				rec.TasksCompleted, rec.TasksFailed, rec.CodeApproved, rec.CodeRounds,
				(time.Duration(rec.DurationSecs) * time.Second).String()})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, statusTitleStyle.Render("Cycles"))
		t.Render()
	}

	registry := issues.NewRegistry(s.KnownIssuesPath())
	if unresolved, err := registry.Unresolved(); err == nil && len(unresolved) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, statusTitleStyle.Render("Unresolved issues"))
		for _, issue := range unresolved {
			fmt.Fprintf(out, "  [%s] %s (%s)\n", issue.Severity, issue.Description, issue.FilePath)
		}
	}
	return nil
}

func renderStatus(state *store.RunState) string {
	switch state.Status {
	case store.RunCompleted:
		return completedStyle.Render(string(state.Status))
	case store.RunPaused:
		s := string(state.Status)
		if state.ResumeAfter != nil {
			s += " (resume after " + state.ResumeAfter.Local().Format(time.RFC822) + ")"
		}
		return pausedStyle.Render(s)
	case store.RunFailed, store.RunEscalated:
		return failedStyle.Render(string(state.Status))
	default:
		return string(state.Status)
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func init() {
	statusCmd.Flags().Bool("watch", false, "live dashboard")
	rootCmd.AddCommand(statusCmd)
}
