package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// NextSessionID allocates the next monotone session id under the state lock
func (s *Store) NextSessionID() (string, error) {
	var id string
	_, err := s.MutateState(func(state *RunState) error {
		state.SessionCounter++
		id = fmt.Sprintf("session-%03d", state.SessionCounter)
		return nil
	})
	return id, err
}

// PutSessionStatus writes a session's status record, creating the session
// directory on first write.
func (s *Store) PutSessionStatus(status *SessionStatus) error {
	status.UpdatedAt = time.Now().UTC()
	dir := filepath.Join(s.root, "sessions", status.SessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "create session directory", err)
	}
	path := filepath.Join(dir, "status.json")
	return s.withLock(path, func() error {
		return writeJSONAtomic(path, status)
	})
}

// UpdateSessionStatus rereads the session status under its lock and applies fn
func (s *Store) UpdateSessionStatus(sessionID string, fn func(*SessionStatus) error) error {
	path := filepath.Join(s.root, "sessions", sessionID, "status.json")
	return s.withLock(path, func() error {
		var status SessionStatus
		if err := readJSON(path, &status); err != nil {
			return err
		}
		if err := fn(&status); err != nil {
			return err
		}
		status.UpdatedAt = time.Now().UTC()
		return writeJSONAtomic(path, &status)
	})
}

// GetSessionStatus returns one session's status, or nil if unknown
func (s *Store) GetSessionStatus(sessionID string) (*SessionStatus, error) {
	var status SessionStatus
	path := filepath.Join(s.root, "sessions", sessionID, "status.json")
	if err := readJSON(path, &status); err != nil {
		if os.IsNotExist(underlying(err)) {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// ListSessionStatuses returns every session's status ordered by session id
func (s *Store) ListSessionStatuses() ([]*SessionStatus, error) {
	dir := filepath.Join(s.root, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read sessions directory", err)
	}
	var out []*SessionStatus
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		status, err := s.GetSessionStatus(entry.Name())
		if err != nil {
			return nil, err
		}
		if status != nil {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// WriteSessionContext writes the shared context object injected into a
// worker before launch.
func (s *Store) WriteSessionContext(sessionID string, context any) error {
	dir := filepath.Join(s.root, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(errors.ErrCodeFileWrite, "create session directory", err)
	}
	return writeJSONAtomic(filepath.Join(dir, "context.json"), context)
}

// ReadSessionContext reads a worker's injected context as raw JSON
func (s *Store) ReadSessionContext(sessionID string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "sessions", sessionID, "context.json")) //#nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read session context", err)
	}
	return json.RawMessage(data), nil
}
