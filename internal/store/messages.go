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

// AppendMessage appends a message to the writer's per-session log. The log
// is append-only JSONL, one file per writer, so messages are totally ordered
// per writer without cross-writer locking.
func (s *Store) AppendMessage(msg *Message) (*Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWrite, "marshal message", err)
	}

	path := filepath.Join(s.root, "messages", msg.From+".jsonl")
	err = s.withLock(path, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //#nosec G304 -- store-scoped
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(line, '\n'))
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWrite, "append message", err)
	}
	return msg, nil
}

// ReadMessages returns messages addressed to recipient (or broadcast) newer
// than since, across all writers, ascending by timestamp with id as the
// tiebreak so consumers see a stable order.
func (s *Store) ReadMessages(recipient string, since time.Time) ([]*Message, error) {
	dir := filepath.Join(s.root, "messages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read messages directory", err)
	}

	var out []*Message
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		msgs, err := readMessageLog(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			if msg.To != "" && msg.To != recipient {
				continue
			}
			if !since.IsZero() && !msg.Timestamp.After(since) {
				continue
			}
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func readMessageLog(path string) ([]*Message, error) {
	f, err := os.Open(path) //#nosec G304 -- store-scoped
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileRead, "open message log", err)
	}
	defer f.Close()

	var msgs []*Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// A torn final line from a crashed writer is dropped, not fatal.
			continue
		}
		msgs = append(msgs, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileRead, "scan message log", err)
	}
	return msgs, nil
}
