// Package store is the filesystem-backed repository for everything the
// conductor persists: run state, tasks, sessions, messages, contracts,
// decisions, and the known-issue registry's raw file. Records are one file
// each so independent writers can lock at record granularity, and every
// write is publish-by-rename so readers never observe partial JSON.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// DirName is the project-scoped directory all state lives under
const DirName = ".conductor"

// Store is a handle on one project's durable state. It is safe for use from
// multiple processes; mutual exclusion is per record via advisory file locks.
type Store struct {
	projectDir string
	root       string
}

// New returns a Store rooted at <projectDir>/.conductor. It does not touch
// the filesystem; use Init or Load to establish state.
func New(projectDir string) *Store {
	return &Store{
		projectDir: projectDir,
		root:       filepath.Join(projectDir, DirName),
	}
}

// Root returns the state directory path
func (s *Store) Root() string { return s.root }

// ProjectDir returns the project working directory
func (s *Store) ProjectDir() string { return s.projectDir }

// InitOptions configures a fresh run
type InitOptions struct {
	Feature     string
	Branch      string
	BaseCommit  string
	MaxCycles   int
	Concurrency int
}

// Init creates the directory skeleton and a fresh RunState. It fails with
// STORE-001 if a run already exists; resuming callers should use Load.
func (s *Store) Init(opts InitOptions) (*RunState, error) {
	if _, err := os.Stat(s.statePath()); err == nil {
		return nil, errors.Newf(errors.ErrCodeProjectExists, "run already initialized at %s", s.root).
			WithSuggestion("use 'conductor resume' to continue the existing run").
			WithSuggestion("remove the .conductor directory to start over")
	}
	for _, dir := range []string{
		s.root,
		filepath.Join(s.root, "tasks"),
		filepath.Join(s.root, "sessions"),
		filepath.Join(s.root, "messages"),
		filepath.Join(s.root, "contracts"),
		filepath.Join(s.root, "flow-tracing"),
		filepath.Join(s.root, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileWrite, "create state directory", err)
		}
	}

	now := time.Now().UTC()
	state := &RunState{
		Feature:        opts.Feature,
		Branch:         opts.Branch,
		BaseCommit:     opts.BaseCommit,
		MaxCycles:      opts.MaxCycles,
		Concurrency:    opts.Concurrency,
		Status:         RunInitializing,
		CreatedAt:      now,
		UpdatedAt:      now,
		ActiveSessions: []string{},
		CycleHistory:   []CycleRecord{},
	}
	if err := s.writeState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Load reads the existing RunState, failing with STORE-002 if absent.
func (s *Store) Load() (*RunState, error) {
	var state RunState
	if err := readJSON(s.statePath(), &state); err != nil {
		if os.IsNotExist(underlying(err)) {
			return nil, errors.Newf(errors.ErrCodeProjectNotFound, "no run found under %s", s.root).
				WithSuggestion("run 'conductor start <feature>' to begin a run")
		}
		return nil, err
	}
	return &state, nil
}

// Save persists the RunState under the state lock. Any failure here is
// fatal to the engine; nothing downstream may proceed on unsaved state.
func (s *Store) Save(state *RunState) error {
	return s.withLock(s.statePath(), func() error {
		return s.writeState(state)
	})
}

// MutateState rereads the state under its lock, applies fn, and writes the
// result back. Use this for counter allocation and any read-modify-write.
func (s *Store) MutateState(fn func(*RunState) error) (*RunState, error) {
	var out *RunState
	err := s.withLock(s.statePath(), func() error {
		var state RunState
		if err := readJSON(s.statePath(), &state); err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		if err := s.writeState(&state); err != nil {
			return err
		}
		out = &state
		return nil
	})
	return out, err
}

func (s *Store) writeState(state *RunState) error {
	state.UpdatedAt = time.Now().UTC()
	if err := writeJSONAtomic(s.statePath(), state); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersist, "persist run state", err)
	}
	return nil
}

func (s *Store) statePath() string {
	return filepath.Join(s.root, "state.json")
}

// SavePlan writes the plan markdown for a plan version
func (s *Store) SavePlan(version int, text string) error {
	path := filepath.Join(s.root, fmt.Sprintf("plan-v%d.md", version))
	if err := os.WriteFile(path, []byte(text), 0o640); err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "write plan", err)
	}
	return nil
}

// LoadPlan reads the plan markdown for a plan version
func (s *Store) LoadPlan(version int) (string, error) {
	path := filepath.Join(s.root, fmt.Sprintf("plan-v%d.md", version))
	data, err := os.ReadFile(path) //#nosec G304 -- path is store-scoped
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFileRead, "read plan", err)
	}
	return string(data), nil
}

// SaveConventions caches extracted codebase conventions as opaque JSON
func (s *Store) SaveConventions(raw json.RawMessage) error {
	return writeJSONAtomic(filepath.Join(s.root, "conventions.json"), raw)
}

// LoadConventions returns the cached conventions, or nil if none exist
func (s *Store) LoadConventions() (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "conventions.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read conventions", err)
	}
	return json.RawMessage(data), nil
}

// WriteEscalation persists the escalation record
func (s *Store) WriteEscalation(esc *Escalation) error {
	return writeJSONAtomic(filepath.Join(s.root, "escalation.json"), esc)
}

// ReadEscalation returns the escalation record, or nil if none exists
func (s *Store) ReadEscalation() (*Escalation, error) {
	var esc Escalation
	if err := readJSON(filepath.Join(s.root, "escalation.json"), &esc); err != nil {
		if os.IsNotExist(underlying(err)) {
			return nil, nil
		}
		return nil, err
	}
	return &esc, nil
}

// ClearEscalation removes the escalation record
func (s *Store) ClearEscalation() error {
	err := os.Remove(filepath.Join(s.root, "escalation.json"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeFileWrite, "remove escalation", err)
	}
	return nil
}

// RequestPause writes the pause signal file. Workers are not told directly;
// the engine observes the file on its next poll and broadcasts wind-down.
func (s *Store) RequestPause() error {
	path := filepath.Join(s.root, "pause.signal")
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o640); err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "write pause signal", err)
	}
	return nil
}

// PauseRequested reports whether the pause signal file is present
func (s *Store) PauseRequested() bool {
	_, err := os.Stat(filepath.Join(s.root, "pause.signal"))
	return err == nil
}

// ConsumePauseSignal removes the signal file. Removal is the durable act of
// consumption: if the process crashes before removal, the run pauses again
// at restart, which is the safe outcome.
func (s *Store) ConsumePauseSignal() error {
	err := os.Remove(filepath.Join(s.root, "pause.signal"))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeFileWrite, "consume pause signal", err)
	}
	return nil
}

// KnownIssuesPath is where the known-issue registry persists its list
func (s *Store) KnownIssuesPath() string {
	return filepath.Join(s.root, "known-issues.json")
}

// FlowReportPath returns the flow-tracing report path for a cycle
func (s *Store) FlowReportPath(cycle int) string {
	return filepath.Join(s.root, "flow-tracing", fmt.Sprintf("report-cycle-%d.json", cycle))
}

// LogsDir returns the directory for run log files
func (s *Store) LogsDir() string {
	return filepath.Join(s.root, "logs")
}

// writeJSONAtomic marshals v and publishes it with write-temp-then-rename so
// concurrent readers never see a torn file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) //#nosec G304 -- paths are store-scoped
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileRead, fmt.Sprintf("read %s", filepath.Base(path)), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.ErrCodeFileParse, fmt.Sprintf("parse %s", filepath.Base(path)), err)
	}
	return nil
}

// underlying digs out the innermost cause for os.IsNotExist checks
func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
