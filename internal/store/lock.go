package store

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/clpotvin/claude-code-conductor/internal/errors"
)

const (
	lockRetries     = 3
	lockBaseBackoff = 100 * time.Millisecond
)

// withLock runs fn while holding an exclusive advisory lock on the record at
// path. The lock is a sibling .lock file so the record itself can be renamed
// over while held. flock gives true cross-process exclusion, and the kernel
// releases it when the holder dies, so a crashed writer never wedges the
// store. Contention is retried 3 times with doubling backoff from 100ms.
func (s *Store) withLock(path string, fn func() error) error {
	fl := flock.New(path + ".lock")

	backoff := lockBaseBackoff
	var locked bool
	var err error
	for attempt := 0; attempt <= lockRetries; attempt++ {
		locked, err = fl.TryLock()
		if err == nil && locked {
			break
		}
		if attempt < lockRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeLockContended, fmt.Sprintf("lock %s", path), err)
	}
	if !locked {
		return errors.Newf(errors.ErrCodeLockContended, "lock %s: still held after %d retries", path, lockRetries)
	}
	defer fl.Unlock() //nolint:errcheck

	return fn()
}
