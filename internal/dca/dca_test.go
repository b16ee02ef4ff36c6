package dca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

type recordingExecutor struct {
	calls []int64
	err   error
}

func (r *recordingExecutor) ExecuteSwap(_ context.Context, job *models.DCAJob) error {
	r.calls = append(r.calls, job.ID)
	return r.err
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func TestCreateJobAndGetUserJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateJob(ctx, "bg-user", "ETH", "USDC", decimal.RequireFromString("0.1"), 1, models.FrequencyDaily, "0xwallet")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("job id = %d, want > 0", id)
	}

	jobs, err := repo.GetUserJobs(ctx, "bg-user")
	if err != nil {
		t.Fatalf("GetUserJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.FromToken != "ETH" || job.ToToken != "USDC" || job.Status != models.DCAActive {
		t.Errorf("job = %+v, want ETH->USDC active", job)
	}

	t.Run("rejects bad frequency", func(t *testing.T) {
		if _, err := repo.CreateJob(ctx, "bg-user", "ETH", "USDC", decimal.NewFromInt(1), 1, "hourly", "0xw"); err == nil {
			t.Error("expected error for unknown frequency")
		}
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		if _, err := repo.CreateJob(ctx, "bg-user", "ETH", "USDC", decimal.Zero, 1, models.FrequencyDaily, "0xw"); err == nil {
			t.Error("expected error for zero amount")
		}
	})
}

func TestListDueCadence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := repo.CreateJob(ctx, "u1", "ETH", "USDC", decimal.NewFromInt(1), 1, models.FrequencyDaily, "0xw")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	t.Run("never-run job is due", func(t *testing.T) {
		due, err := repo.ListDue(ctx, now)
		if err != nil {
			t.Fatalf("ListDue failed: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("got %d due jobs, want 1", len(due))
		}
	})

	if err := repo.MarkRun(ctx, id, now, true); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}

	t.Run("not due again within the cadence", func(t *testing.T) {
		due, err := repo.ListDue(ctx, now.Add(12*time.Hour))
		if err != nil {
			t.Fatalf("ListDue failed: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("got %d due jobs, want 0", len(due))
		}
	})

	t.Run("due after the cadence elapses", func(t *testing.T) {
		due, err := repo.ListDue(ctx, now.Add(25*time.Hour))
		if err != nil {
			t.Fatalf("ListDue failed: %v", err)
		}
		if len(due) != 1 {
			t.Errorf("got %d due jobs, want 1", len(due))
		}
	})

	t.Run("paused jobs are never due", func(t *testing.T) {
		if err := repo.SetStatus(ctx, id, models.DCAPaused); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		due, _ := repo.ListDue(ctx, now.Add(48*time.Hour))
		if len(due) != 0 {
			t.Errorf("paused job reported due")
		}
	})
}

func TestAutoPauseAfterFiveFailures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := repo.CreateJob(ctx, "u1", "ETH", "USDC", decimal.NewFromInt(1), 1, models.FrequencyDaily, "0xw")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := repo.MarkRun(ctx, id, now, false); err != nil {
			t.Fatalf("MarkRun failed: %v", err)
		}
		job, _ := repo.Get(ctx, id)
		if job.Status != models.DCAActive {
			t.Fatalf("job paused after %d failures", i+1)
		}
	}

	if err := repo.MarkRun(ctx, id, now, false); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}
	job, _ := repo.Get(ctx, id)
	if job.Status != models.DCAPaused {
		t.Errorf("status = %s after 5 failures, want paused", job.Status)
	}
	if job.FailureStreak != 5 {
		t.Errorf("failure streak = %d, want 5", job.FailureStreak)
	}

	t.Run("success resets the streak", func(t *testing.T) {
		if err := repo.SetStatus(ctx, id, models.DCAActive); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		if err := repo.MarkRun(ctx, id, now, true); err != nil {
			t.Fatalf("MarkRun failed: %v", err)
		}
		job, _ := repo.Get(ctx, id)
		if job.FailureStreak != 0 {
			t.Errorf("failure streak = %d after success, want 0", job.FailureStreak)
		}
	})
}

func TestSetStatusTerminalCancel(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, _ := repo.CreateJob(ctx, "u1", "ETH", "USDC", decimal.NewFromInt(1), 1, models.FrequencyDaily, "0xw")
	if err := repo.SetStatus(ctx, id, models.DCACancelled); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := repo.SetStatus(ctx, id, models.DCAActive); err == nil {
		t.Error("cancelled job was reactivated")
	}

	jobs, _ := repo.GetUserJobs(ctx, "u1")
	if len(jobs) != 0 {
		t.Errorf("cancelled job still listed: %+v", jobs)
	}
}

func TestSchedulerTick(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, _ := repo.CreateJob(ctx, "u1", "ETH", "USDC", decimal.NewFromInt(1), 1, models.FrequencyDaily, "0xw")
	id2, _ := repo.CreateJob(ctx, "u2", "ETH", "DAI", decimal.NewFromInt(2), 1, models.FrequencyWeekly, "0xw")

	exec := &recordingExecutor{}
	s := NewScheduler(repo, exec)

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("executed %d jobs, want 2", len(exec.calls))
	}

	t.Run("jobs are not re-run on the next tick", func(t *testing.T) {
		exec.calls = nil
		if err := s.Run(ctx); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(exec.calls) != 0 {
			t.Errorf("executed %d jobs on the second tick, want 0", len(exec.calls))
		}
	})

	t.Run("failures keep the job active and grow the streak", func(t *testing.T) {
		exec.err = errors.New("quote failed")
		s.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
		if err := s.Run(ctx); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		job1, _ := repo.Get(ctx, id1)
		if job1.Status != models.DCAActive || job1.FailureStreak != 1 {
			t.Errorf("job1 = %s streak %d, want active streak 1", job1.Status, job1.FailureStreak)
		}
		job2, _ := repo.Get(ctx, id2)
		if job2.FailureStreak != 1 {
			t.Errorf("job2 streak = %d, want 1", job2.FailureStreak)
		}
	})
}
