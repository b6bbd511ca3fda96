// Package tui renders the live status dashboard for `conductor status
// --watch`: run state, task board, and worker sessions, refreshed each
// second from the durable store.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// snapshot is one refresh of everything the dashboard shows
type snapshot struct {
	state    *store.RunState
	tasks    []*store.Task
	sessions []*store.SessionStatus
	err      error
}

type tickMsg time.Time

// model is the bubbletea model for the watch dashboard
type model struct {
	store   *store.Store
	spin    spinner.Model
	current snapshot
}

// Watch runs the dashboard until the user quits
func Watch(s *store.Store) error {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	m := model{store: s, spin: spin, current: load(s)}
	_, err := tea.NewProgram(m).Run()
	return err
}

func load(s *store.Store) snapshot {
	state, err := s.Load()
	if err != nil {
		return snapshot{err: err}
	}
	tasks, err := s.ListTasks("")
	if err != nil {
		return snapshot{err: err}
	}
	sessions, err := s.ListSessionStatuses()
	if err != nil {
		return snapshot{err: err}
	}
	return snapshot{state: state, tasks: tasks, sessions: sessions}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.current = load(m.store)
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.current.err != nil {
		return failStyle.Render("error: "+m.current.err.Error()) + "\n"
	}
	state := m.current.state

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", m.spin.View(), titleStyle.Render("conductor"))
	fmt.Fprintf(&b, "%s %s\n", headerStyle.Render("feature:"), state.Feature)
	fmt.Fprintf(&b, "%s %s   %s cycle %d/%d\n\n",
		headerStyle.Render("status:"), string(state.Status),
		headerStyle.Render("progress:"), state.CurrentCycle, state.MaxCycles)

	var pending, inProgress, completed, failed int
	for _, task := range m.current.tasks {
		switch task.Status {
		case store.TaskPending:
			pending++
		case store.TaskInProgress:
			inProgress++
		case store.TaskCompleted:
			completed++
		case store.TaskFailed:
			failed++
		}
	}
	fmt.Fprintf(&b, "%s %s  %s  %s  %s\n\n",
		headerStyle.Render("tasks:"),
		pendingStyle.Render(fmt.Sprintf("%d pending", pending)),
		activeStyle.Render(fmt.Sprintf("%d active", inProgress)),
		doneStyle.Render(fmt.Sprintf("%d done", completed)),
		failStyle.Render(fmt.Sprintf("%d failed", failed)))

	for _, task := range m.current.tasks {
		style := pendingStyle
		switch task.Status {
		case store.TaskInProgress:
			style = activeStyle
		case store.TaskCompleted:
			style = doneStyle
		case store.TaskFailed:
			style = failStyle
		}
		owner := ""
		if task.Owner != "" {
			owner = dimStyle.Render(" <- " + task.Owner)
		}
		fmt.Fprintf(&b, "  %s %s%s\n", style.Render(fmt.Sprintf("[%s]", task.Status)), task.Subject, owner)
	}

	if len(m.current.sessions) > 0 {
		b.WriteString("\n" + headerStyle.Render("sessions") + "\n")
		for _, sess := range m.current.sessions {
			fmt.Fprintf(&b, "  %s %s %s\n", sess.SessionID, string(sess.State),
				dimStyle.Render(sess.Progress))
		}
	}
	b.WriteString("\n" + dimStyle.Render("q to quit"))
	return b.String()
}
