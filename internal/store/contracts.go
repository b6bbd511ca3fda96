package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

// PutContract stores a contract record, overwriting any previous
// registration under the same id. Last writer wins.
func (s *Store) PutContract(c *Contract) error {
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now().UTC()
	}
	path := s.contractPath(c.ID)
	return s.withLock(path, func() error {
		return writeJSONAtomic(path, c)
	})
}

// GetContract returns one contract, or nil if absent
func (s *Store) GetContract(id string) (*Contract, error) {
	var c Contract
	if err := readJSON(s.contractPath(id), &c); err != nil {
		if os.IsNotExist(underlying(err)) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListContracts returns contracts ordered by registration time, optionally
// filtered by type and id substring.
func (s *Store) ListContracts(typeFilter ContractType, idSubstring string) ([]*Contract, error) {
	dir := filepath.Join(s.root, "contracts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileRead, "read contracts directory", err)
	}

	var out []*Contract
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		var c Contract
		if err := readJSON(filepath.Join(dir, name), &c); err != nil {
			if os.IsNotExist(underlying(err)) {
				continue
			}
			return nil, err
		}
		if typeFilter != "" && c.Type != typeFilter {
			continue
		}
		if idSubstring != "" && !strings.Contains(c.ID, idSubstring) {
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (s *Store) contractPath(id string) string {
	return filepath.Join(s.root, "contracts", sanitizeID(id)+".json")
}

// sanitizeID keeps contract ids usable as file names
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
