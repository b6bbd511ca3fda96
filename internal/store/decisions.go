package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// AppendDecision records an architectural decision in the append-only log
func (s *Store) AppendDecision(d *ArchitecturalDecision) (*ArchitecturalDecision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.Category == "" {
		d.Category = DecisionOther
	}
	line, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWrite, "marshal decision", err)
	}

	path := filepath.Join(s.root, "decisions.jsonl")
	err = s.withLock(path, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //#nosec G304
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(line, '\n'))
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWrite, "append decision", err)
	}
	return d, nil
}

// ListDecisions returns decisions in time order, optionally filtered by category
func (s *Store) ListDecisions(category DecisionCategory) ([]*ArchitecturalDecision, error) {
	f, err := os.Open(filepath.Join(s.root, "decisions.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "open decisions log", err)
	}
	defer f.Close()

	var out []*ArchitecturalDecision
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d ArchitecturalDecision
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			continue
		}
		if category != "" && d.Category != category {
			continue
		}
		out = append(out, &d)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileRead, "scan decisions log", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
