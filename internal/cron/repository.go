package cron

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Repository persists cron jobs with their schedule and runtime state
// serialised as JSON columns.
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

type cronRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	SkillName string    `db:"skill_name"`
	Params    string    `db:"skill_params"`
	UserID    string    `db:"user_id"`
	ChainID   *int64    `db:"chain_id"`
	Schedule  string    `db:"schedule"`
	Enabled   bool      `db:"enabled"`
	State     string    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}

func (r cronRow) toJob() (*models.CronJob, error) {
	job := &models.CronJob{
		ID:        r.ID,
		Name:      r.Name,
		SkillName: r.SkillName,
		Params:    r.Params,
		UserID:    r.UserID,
		ChainID:   r.ChainID,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Schedule), &job.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule for job %s: %w", r.ID, err)
	}
	if r.State != "" {
		if err := json.Unmarshal([]byte(r.State), &job.State); err != nil {
			return nil, fmt.Errorf("failed to decode state for job %s: %w", r.ID, err)
		}
	}
	return job, nil
}

// Add validates and inserts a job, computing its first run.
func (r *Repository) Add(ctx context.Context, job *models.CronJob, now time.Time) (*models.CronJob, error) {
	if err := job.Schedule.Validate(); err != nil {
		return nil, err
	}
	if job.SkillName == "" {
		return nil, fmt.Errorf("cron job needs a skill name")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Params == "" {
		job.Params = "{}"
	}

	next, ok, err := ComputeNextRun(&job.Schedule, now)
	if err != nil {
		return nil, err
	}
	job.Enabled = ok
	job.State = models.CronState{}
	if ok {
		ms := next.UnixMilli()
		job.State.NextRunAtMs = &ms
	}

	scheduleJSON, _ := json.Marshal(job.Schedule)
	stateJSON, _ := json.Marshal(job.State)
	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO cron_jobs (id, name, skill_name, skill_params, user_id, chain_id, schedule, enabled, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SkillName, job.Params, job.UserID, job.ChainID,
		string(scheduleJSON), job.Enabled, string(stateJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert cron job: %w", err)
	}
	return job, nil
}

// Get returns one job.
func (r *Repository) Get(ctx context.Context, id string) (*models.CronJob, error) {
	var row cronRow
	err := r.db.DB().GetContext(ctx, &row, `SELECT * FROM cron_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cron job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cron job: %w", err)
	}
	return row.toJob()
}

// ListEnabled returns every enabled job.
func (r *Repository) ListEnabled(ctx context.Context) ([]*models.CronJob, error) {
	var rows []cronRow
	err := r.db.DB().SelectContext(ctx, &rows,
		`SELECT * FROM cron_jobs WHERE enabled = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cron jobs: %w", err)
	}
	jobs := make([]*models.CronJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ListByUser returns a user's jobs, enabled or not.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*models.CronJob, error) {
	var rows []cronRow
	err := r.db.DB().SelectContext(ctx, &rows,
		`SELECT * FROM cron_jobs WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cron jobs: %w", err)
	}
	jobs := make([]*models.CronJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// SaveState persists runtime state and the enabled flag after a tick.
func (r *Repository) SaveState(ctx context.Context, id string, enabled bool, state models.CronState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cron state: %w", err)
	}
	res, err := r.db.DB().ExecContext(ctx,
		`UPDATE cron_jobs SET enabled = ?, state = ? WHERE id = ?`,
		enabled, string(stateJSON), id)
	if err != nil {
		return fmt.Errorf("failed to save cron state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s not found", id)
	}
	return nil
}

// Remove deletes a job.
func (r *Repository) Remove(ctx context.Context, userID, id string) error {
	res, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM cron_jobs WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to remove cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s not found", id)
	}
	return nil
}
