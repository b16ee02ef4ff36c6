package maintenance

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/notify"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *database.DB, table string) int {
	t.Helper()
	var n int
	if err := db.DB().Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRetentionSweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conversations := memory.NewConversationRepository(db)
	for _, content := range []string{"old message", "fresh message"} {
		if err := conversations.AddMessage(ctx, "user-1", models.RoleUser, content); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	// Age the first entry past the 30-day horizon.
	if _, err := db.DB().Exec(`
		UPDATE conversations SET created_at = ? WHERE content = 'old message'
	`, time.Now().UTC().Add(-31*24*time.Hour)); err != nil {
		t.Fatalf("age conversation: %v", err)
	}

	deliveries := notify.NewQueueRepository(db)
	if err := deliveries.Enqueue(ctx, "tg:1", "telegram", "stuck"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := db.DB().Exec(`
		UPDATE delivery_queue SET dead = 1, created_at = ?
	`, time.Now().UTC().Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("age delivery: %v", err)
	}

	traces := agents.NewRepository(db)
	if err := traces.RecordTrace(ctx, "inst-1", &models.EvalContext{Now: time.Now()}, nil, "stale thinking"); err != nil {
		t.Fatalf("RecordTrace: %v", err)
	}
	if _, err := db.DB().Exec(`
		UPDATE reasoning_traces SET created_at = ?
	`, time.Now().UTC().Add(-31*24*time.Hour)); err != nil {
		t.Fatalf("age trace: %v", err)
	}

	r := NewRetention(db, conversations, nil, nil, risk.NewCacheRepository(db), traces, nil, deliveries)
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := countRows(t, db, "conversations"); n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
	if n := countRows(t, db, "delivery_queue"); n != 0 {
		t.Errorf("delivery_queue = %d, want 0", n)
	}
	if n := countRows(t, db, "reasoning_traces"); n != 0 {
		t.Errorf("reasoning_traces = %d, want 0", n)
	}
}

func TestRetentionKeepsFreshRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conversations := memory.NewConversationRepository(db)
	if err := conversations.AddMessage(ctx, "user-1", models.RoleUser, "hello"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	r := NewRetention(db, conversations, nil, nil, nil, nil, nil, nil)
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := countRows(t, db, "conversations"); n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
}

func TestProcessLockExcludes(t *testing.T) {
	dir := t.TempDir()

	first := NewProcessLock(dir, 24*time.Hour)
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	second := NewProcessLock(dir, 24*time.Hour)
	err := second.Acquire()
	if err == nil {
		t.Fatal("second acquire succeeded")
	}
	if errs.Classify(err) != errs.ClassConfig {
		t.Fatalf("class = %s", errs.Classify(err))
	}
	if !strings.Contains(err.Error(), "already locked") {
		t.Fatalf("err = %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Double release is harmless.
	if err := second.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestProcessLockReclaimsStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LockFileName)

	// Holder looks alive (our own pid) but the lock is past max age.
	record, err := json.Marshal(map[string]interface{}{
		"pid":        os.Getpid(),
		"started_at": time.Now().UTC().Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, record, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	lock := NewProcessLock(dir, 24*time.Hour)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	var got lockRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", got.PID, os.Getpid())
	}
	if time.Since(got.StartedAt) > time.Minute {
		t.Fatalf("started_at not refreshed: %s", got.StartedAt)
	}
}

func TestProcessLockReclaimsCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("not json"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	lock := NewProcessLock(dir, 24*time.Hour)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lock.Release()
}
