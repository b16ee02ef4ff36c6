package maintenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// LockFileName under the data directory.
const LockFileName = "chainclaw.lock"

// lockRecord is the lock file payload.
type lockRecord struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// ProcessLock guards against two servers sharing one data directory.
type ProcessLock struct {
	path   string
	maxAge time.Duration
	log    *zap.Logger
}

// NewProcessLock creates the lock for dataDir. maxAge bounds how old a
// live-looking lock may be before it is treated as stale.
func NewProcessLock(dataDir string, maxAge time.Duration) *ProcessLock {
	return &ProcessLock{
		path:   filepath.Join(dataDir, LockFileName),
		maxAge: maxAge,
		log:    logger.Named("lock"),
	}
}

// Acquire takes the lock, reclaiming stale ones (dead holder PID, or
// older than maxAge). A live holder yields a config-class error.
func (l *ProcessLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			record := lockRecord{PID: os.Getpid(), StartedAt: time.Now().UTC()}
			if err := json.NewEncoder(file).Encode(record); err != nil {
				file.Close()
				os.Remove(l.path)
				return fmt.Errorf("failed to write lock file: %w", err)
			}
			return file.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, readErr := l.read()
		if readErr != nil {
			l.log.Warn("unreadable lock file, reclaiming", zap.Error(readErr))
		} else if l.live(holder) {
			return errs.Config("DATA_DIR", fmt.Sprintf(
				"already locked by pid %d since %s (%s)",
				holder.PID, holder.StartedAt.Format(time.RFC3339), l.path))
		} else {
			l.log.Warn("reclaiming stale lock",
				zap.Int("pid", holder.PID),
				zap.Time("started_at", holder.StartedAt))
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return errs.Config("DATA_DIR", "could not acquire process lock at "+l.path)
}

// Release drops the lock. Safe to call twice.
func (l *ProcessLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *ProcessLock) read() (*lockRecord, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var record lockRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt lock file: %w", err)
	}
	return &record, nil
}

// live reports whether the recorded holder still runs and is fresh.
func (l *ProcessLock) live(record *lockRecord) bool {
	if record.PID <= 0 {
		return false
	}
	if l.maxAge > 0 && time.Since(record.StartedAt) > l.maxAge {
		return false
	}
	process, err := os.FindProcess(record.PID)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without touching the process.
	return process.Signal(syscall.Signal(0)) == nil
}
