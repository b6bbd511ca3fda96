package tui

import (
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clpotvin/claude-code-conductor/internal/store"
)

func newWatchModel(t *testing.T) model {
	t.Helper()
	s := store.New(t.TempDir())
	_, err := s.Init(store.InitOptions{Feature: "add exports", MaxCycles: 5, Concurrency: 2})
	require.NoError(t, err)

	id, err := s.NextTaskID()
	require.NoError(t, err)
	_, err = s.CreateTask(store.TaskDef{Subject: "build the exporter"}, id, nil)
	require.NoError(t, err)

	return model{store: s, spin: spinner.New(), current: load(s)}
}

func TestViewShowsRunAndTasks(t *testing.T) {
	m := newWatchModel(t)
	view := m.View()
	assert.Contains(t, view, "add exports")
	assert.Contains(t, view, "1 pending")
	assert.Contains(t, view, "build the exporter")
}

func TestQuitKey(t *testing.T) {
	m := newWatchModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestTickReloads(t *testing.T) {
	m := newWatchModel(t)
	updated, cmd := m.Update(tickMsg{})
	assert.NotNil(t, cmd)
	assert.NotNil(t, updated.(model).current.state)
}
