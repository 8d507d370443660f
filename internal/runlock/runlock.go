// Package runlock implements the single-instance directory lock for the
// paper runner. Mkdir is atomic on every platform we care about, so the
// directory either exists (another runner holds it) or this process owns it.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked means another instance holds the lock.
var ErrLocked = errors.New("run lock already held")

// Lock is a held directory lock.
type Lock struct {
	dir string
}

// Acquire takes the lock directory, writing an owner record inside for
// diagnostics. Returns ErrLocked when the directory already exists.
func Acquire(dir string) (*Lock, error) {
	if dir == "" {
		return nil, fmt.Errorf("run lock dir must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare lock parent: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	owner := map[string]any{
		"pid":         os.Getpid(),
		"acquired_at": time.Now().Format(time.RFC3339),
	}
	if host, err := os.Hostname(); err == nil {
		owner["host"] = host
	}
	b, _ := json.Marshal(owner)
	// best effort; the lock is the directory, not this file
	_ = os.WriteFile(filepath.Join(dir, "owner.json"), b, 0o644)
	return &Lock{dir: dir}, nil
}

// Release removes the lock directory.
func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	l.dir = ""
	return nil
}

// Dir returns the lock directory path.
func (l *Lock) Dir() string { return l.dir }
