// Package notify delivers background messages (alerts, DCA results,
// agent trades) to channel adapters with a durable retry queue.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
)

// maxAttempts before a queued message is dead-lettered.
const maxAttempts = 5

// QueuedMessage is one undelivered notification.
type QueuedMessage struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	Platform  string    `db:"platform"`
	Message   string    `db:"message"`
	Attempts  int       `db:"attempts"`
	Dead      bool      `db:"dead"`
	CreatedAt time.Time `db:"created_at"`
}

// QueueRepository persists the delivery queue.
type QueueRepository struct {
	db *database.DB
}

// NewQueueRepository creates the repository.
func NewQueueRepository(db *database.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue stores a message for later delivery.
func (r *QueueRepository) Enqueue(ctx context.Context, userID, platform, message string) error {
	if _, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO delivery_queue (user_id, platform, message, attempts, dead, created_at)
		VALUES (?, ?, ?, 0, 0, ?)
	`, userID, platform, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Pending lists live queue entries oldest-first.
func (r *QueueRepository) Pending(ctx context.Context, limit int) ([]QueuedMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []QueuedMessage
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT id, user_id, platform, message, attempts, dead, created_at
		FROM delivery_queue
		WHERE dead = 0
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	return out, nil
}

// MarkDelivered removes a delivered entry.
func (r *QueueRepository) MarkDelivered(ctx context.Context, id int64) error {
	if _, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM delivery_queue WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("failed to remove delivered message: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter, dead-lettering past the cap.
func (r *QueueRepository) MarkFailed(ctx context.Context, id int64) error {
	if _, err := r.db.DB().ExecContext(ctx, `
		UPDATE delivery_queue
		SET attempts = attempts + 1,
		    dead = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END
		WHERE id = ?
	`, maxAttempts, id); err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}

// PruneDead removes dead-lettered rows past the retention horizon.
func (r *QueueRepository) PruneDead(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM delivery_queue WHERE dead = 1 AND created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune dead deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
