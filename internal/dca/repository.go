// Package dca runs persisted periodic swap instructions.
package dca

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// autoPauseStreak pauses a job after this many consecutive failures.
const autoPauseStreak = 5

// Repository persists DCA jobs.
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateJob inserts an active job and returns its id.
func (r *Repository) CreateJob(ctx context.Context, userID, fromToken, toToken string, amount decimal.Decimal, chainID int64, frequency models.DCAFrequency, walletAddress string) (int64, error) {
	if frequency.Interval() == 0 {
		return 0, fmt.Errorf("unknown DCA frequency %q", frequency)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("DCA amount must be positive")
	}

	res, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO dca_jobs (user_id, from_token, to_token, amount, chain_id, frequency, wallet_address)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, fromToken, toToken, amount.String(), chainID, string(frequency), walletAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to create DCA job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read DCA job id: %w", err)
	}
	return id, nil
}

// Get returns one job.
func (r *Repository) Get(ctx context.Context, id int64) (*models.DCAJob, error) {
	var job models.DCAJob
	err := r.db.DB().GetContext(ctx, &job, `SELECT * FROM dca_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("DCA job %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DCA job: %w", err)
	}
	return &job, nil
}

// GetUserJobs lists a user's non-cancelled jobs, newest first.
func (r *Repository) GetUserJobs(ctx context.Context, userID string) ([]models.DCAJob, error) {
	var jobs []models.DCAJob
	err := r.db.DB().SelectContext(ctx, &jobs, `
		SELECT * FROM dca_jobs
		WHERE user_id = ? AND status != 'cancelled'
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list DCA jobs: %w", err)
	}
	return jobs, nil
}

// ListDue returns active jobs whose cadence has elapsed by now.
// A job that has never run is immediately due.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]models.DCAJob, error) {
	var jobs []models.DCAJob
	err := r.db.DB().SelectContext(ctx, &jobs,
		`SELECT * FROM dca_jobs WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active DCA jobs: %w", err)
	}

	due := jobs[:0]
	for _, job := range jobs {
		if job.LastRunAt == nil || now.Sub(*job.LastRunAt) >= job.Frequency.Interval() {
			due = append(due, job)
		}
	}
	return due, nil
}

// SetStatus moves a job between active and paused. Cancelled is terminal.
func (r *Repository) SetStatus(ctx context.Context, id int64, status models.DCAStatus) error {
	res, err := r.db.DB().ExecContext(ctx, `
		UPDATE dca_jobs SET status = ?
		WHERE id = ? AND status != 'cancelled'`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update DCA job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("DCA job %d not found or already cancelled", id)
	}
	return nil
}

// MarkRun records one execution attempt. On failure the streak grows and
// the job auto-pauses at the threshold; success resets the streak.
func (r *Repository) MarkRun(ctx context.Context, id int64, at time.Time, success bool) error {
	if success {
		_, err := r.db.DB().ExecContext(ctx, `
			UPDATE dca_jobs SET last_run_at = ?, failure_streak = 0 WHERE id = ?`,
			at.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to record DCA run: %w", err)
		}
		return nil
	}

	_, err := r.db.DB().ExecContext(ctx, `
		UPDATE dca_jobs SET
			last_run_at = ?,
			failure_streak = failure_streak + 1,
			status = CASE WHEN failure_streak + 1 >= ? AND status = 'active' THEN 'paused' ELSE status END
		WHERE id = ?`,
		at.UTC(), autoPauseStreak, id)
	if err != nil {
		return fmt.Errorf("failed to record DCA failure: %w", err)
	}
	return nil
}
