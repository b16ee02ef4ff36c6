// Package alerts watches token prices against user thresholds.
package alerts

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

// Repository persists price alerts.
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts an active alert and returns its id.
func (r *Repository) Create(ctx context.Context, userID string, typ models.AlertType, token string, threshold decimal.Decimal) (int64, error) {
	if typ != models.AlertPriceAbove && typ != models.AlertPriceBelow {
		return 0, fmt.Errorf("unknown alert type %q", typ)
	}
	res, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO alerts (user_id, type, token, threshold)
		VALUES (?, ?, ?, ?)`,
		userID, string(typ), token, threshold.String())
	if err != nil {
		return 0, fmt.Errorf("failed to create alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read alert id: %w", err)
	}
	return id, nil
}

// Get returns one alert.
func (r *Repository) Get(ctx context.Context, id int64) (*models.Alert, error) {
	var alert models.Alert
	err := r.db.DB().GetContext(ctx, &alert, `SELECT * FROM alerts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return &alert, nil
}

// ListByUser lists a user's alerts, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]models.Alert, error) {
	var out []models.Alert
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM alerts WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, nil
}

// ListActive returns every alert still eligible to fire.
func (r *Repository) ListActive(ctx context.Context) ([]models.Alert, error) {
	var out []models.Alert
	err := r.db.DB().SelectContext(ctx, &out,
		`SELECT * FROM alerts WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return out, nil
}

// Trigger moves an alert to triggered. Returns false when the alert was
// already triggered by a concurrent tick.
func (r *Repository) Trigger(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		UPDATE alerts SET status = 'triggered', triggered_at = ?
		WHERE id = ? AND status = 'active'`,
		at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to trigger alert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Delete removes an alert.
func (r *Repository) Delete(ctx context.Context, userID string, id int64) error {
	res, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM alerts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}
