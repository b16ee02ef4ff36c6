package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

func msOf(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func TestComputeNextRunAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("future at fires once", func(t *testing.T) {
		at := now.Add(time.Hour)
		next, ok, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleAt, At: &at}, now)
		if err != nil || !ok {
			t.Fatalf("got ok=%v err=%v", ok, err)
		}
		if !next.Equal(at) {
			t.Errorf("next = %v, want %v", next, at)
		}
	})

	t.Run("past at is exhausted", func(t *testing.T) {
		at := now.Add(-time.Second)
		_, ok, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleAt, At: &at}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("past one-shot still schedulable")
		}
	})

	t.Run("at equal to now is exhausted", func(t *testing.T) {
		at := now
		_, ok, _ := ComputeNextRun(&models.Schedule{Kind: models.ScheduleAt, At: &at}, now)
		if ok {
			t.Error("at == now must not fire")
		}
	})
}

func TestComputeNextRunEvery(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("future anchor returns the anchor", func(t *testing.T) {
		anchor := now.Add(10 * time.Minute).UnixMilli()
		next, ok, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleEvery, EveryMs: 60_000, AnchorMs: &anchor}, now)
		if err != nil || !ok {
			t.Fatalf("got ok=%v err=%v", ok, err)
		}
		if next.UnixMilli() != anchor {
			t.Errorf("next = %v, want the anchor", next)
		}
	})

	t.Run("next step strictly after now", func(t *testing.T) {
		anchor := now.Add(-90 * time.Second).UnixMilli()
		next, ok, _ := ComputeNextRun(&models.Schedule{Kind: models.ScheduleEvery, EveryMs: 60_000, AnchorMs: &anchor}, now)
		if !ok {
			t.Fatal("interval schedule exhausted")
		}
		want := now.Add(30 * time.Second)
		if !next.Equal(want) {
			t.Errorf("next = %v, want %v", next, want)
		}
	})

	t.Run("exact step boundary advances a full interval", func(t *testing.T) {
		anchor := now.Add(-2 * time.Minute).UnixMilli()
		next, ok, _ := ComputeNextRun(&models.Schedule{Kind: models.ScheduleEvery, EveryMs: 60_000, AnchorMs: &anchor}, now)
		if !ok {
			t.Fatal("interval schedule exhausted")
		}
		want := now.Add(time.Minute)
		if !next.Equal(want) {
			t.Errorf("next = %v, want %v", next, want)
		}
	})

	t.Run("no anchor uses now", func(t *testing.T) {
		next, ok, _ := ComputeNextRun(&models.Schedule{Kind: models.ScheduleEvery, EveryMs: 1000}, now)
		if !ok {
			t.Fatal("interval schedule exhausted")
		}
		if !next.Equal(now.Add(time.Second)) {
			t.Errorf("next = %v, want now+1s", next)
		}
	})

	t.Run("rejects zero interval", func(t *testing.T) {
		if _, _, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleEvery, EveryMs: 0}, now); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestComputeNextRunCron(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	next, ok, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleCron, Expr: "0 * * * *"}, now)
	if err != nil || !ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
	want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	t.Run("result is strictly after now", func(t *testing.T) {
		onTheHour := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
		next, ok, _ := ComputeNextRun(&models.Schedule{Kind: models.ScheduleCron, Expr: "0 * * * *"}, onTheHour)
		if !ok {
			t.Fatal("cron schedule exhausted")
		}
		if !next.After(onTheHour) {
			t.Errorf("next = %v not strictly after %v", next, onTheHour)
		}
	})

	t.Run("bad expression is rejected", func(t *testing.T) {
		if _, _, err := ComputeNextRun(&models.Schedule{Kind: models.ScheduleCron, Expr: "not a cron"}, now); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestComputeBackoff(t *testing.T) {
	wants := []time.Duration{
		30 * time.Second, time.Minute, 5 * time.Minute, 15 * time.Minute, 60 * time.Minute,
	}
	for i, want := range wants {
		if got := ComputeBackoff(i + 1); got != want {
			t.Errorf("ComputeBackoff(%d) = %v, want %v", i+1, got, want)
		}
	}
	if got := ComputeBackoff(12); got != 60*time.Minute {
		t.Errorf("backoff does not saturate: %v", got)
	}
	if got := ComputeBackoff(0); got != 0 {
		t.Errorf("ComputeBackoff(0) = %v, want 0", got)
	}
}

func newTestScheduler(t *testing.T, exec Executor) (*Scheduler, *Repository) {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := NewRepository(db)
	return NewScheduler(repo, exec, nil), repo
}

func TestOneShotDisablesItself(t *testing.T) {
	var runs int
	s, repo := newTestScheduler(t, func(context.Context, *models.CronJob) error {
		runs++
		return nil
	})
	ctx := context.Background()

	at := time.Now().Add(50 * time.Millisecond)
	job, err := repo.Add(ctx, &models.CronJob{
		Name:      "one-shot",
		SkillName: "balance",
		UserID:    "u1",
		Schedule:  models.Schedule{Kind: models.ScheduleAt, At: &at},
	}, time.Now())
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	s.Tick(ctx)

	if runs != 1 {
		t.Fatalf("executor ran %d times, want 1", runs)
	}

	saved, err := repo.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if saved.Enabled {
		t.Error("one-shot job still enabled")
	}
	if saved.State.NextRunAtMs != nil {
		t.Error("one-shot job still has a next run")
	}
	if saved.State.LastStatus != "ok" {
		t.Errorf("last status = %q, want ok", saved.State.LastStatus)
	}

	t.Run("second tick does not re-run", func(t *testing.T) {
		s.Tick(ctx)
		if runs != 1 {
			t.Errorf("executor ran %d times, want 1", runs)
		}
	})
}

func TestErrorBackoffFloorsNextRun(t *testing.T) {
	s, repo := newTestScheduler(t, func(context.Context, *models.CronJob) error {
		return errors.New("boom")
	})
	ctx := context.Background()
	now := time.Now()

	job, err := repo.Add(ctx, &models.CronJob{
		Name:      "failing",
		SkillName: "balance",
		UserID:    "u1",
		Schedule:  models.Schedule{Kind: models.ScheduleEvery, EveryMs: 1000},
	}, now.Add(-2*time.Second))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Tick(ctx)

	saved, _ := repo.Get(ctx, job.ID)
	if saved.State.ConsecutiveErrors != 1 {
		t.Fatalf("consecutive errors = %d, want 1", saved.State.ConsecutiveErrors)
	}
	if saved.State.LastStatus != "error" || saved.State.LastError == "" {
		t.Errorf("state = %+v, want recorded error", saved.State)
	}
	if saved.State.NextRunAtMs == nil {
		t.Fatal("next run missing")
	}
	// normal next would be ~1s away; the 30s backoff must dominate
	floor := now.Add(29 * time.Second)
	if time.UnixMilli(*saved.State.NextRunAtMs).Before(floor) {
		t.Errorf("next run %v not floored by backoff", time.UnixMilli(*saved.State.NextRunAtMs))
	}
}

func TestTickSkipsFutureJobs(t *testing.T) {
	var runs int
	s, repo := newTestScheduler(t, func(context.Context, *models.CronJob) error {
		runs++
		return nil
	})
	ctx := context.Background()

	at := time.Now().Add(time.Hour)
	if _, err := repo.Add(ctx, &models.CronJob{
		Name:      "later",
		SkillName: "balance",
		UserID:    "u1",
		Schedule:  models.Schedule{Kind: models.ScheduleAt, At: &at},
	}, time.Now()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Tick(ctx)
	if runs != 0 {
		t.Errorf("future job ran %d times", runs)
	}
}

func TestRepositoryAddValidation(t *testing.T) {
	_, repo := newTestScheduler(t, nil)
	ctx := context.Background()

	if _, err := repo.Add(ctx, &models.CronJob{
		Name:     "bad",
		UserID:   "u1",
		Schedule: models.Schedule{Kind: "sometimes"},
	}, time.Now()); err == nil {
		t.Error("expected error for unknown schedule kind")
	}

	if _, err := repo.Add(ctx, &models.CronJob{
		Name:     "no-skill",
		UserID:   "u1",
		Schedule: models.Schedule{Kind: models.ScheduleEvery, EveryMs: 1000},
	}, time.Now()); err == nil {
		t.Error("expected error for missing skill name")
	}
}
