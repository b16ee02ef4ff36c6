// Package memory holds user-scoped state: conversation history, preferences
// and semantic recall.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// MaxHistoryPerUser is the hard cap on retained conversation entries.
const MaxHistoryPerUser = 50

// ConversationRepository persists per-user chat history
type ConversationRepository struct {
	db *database.DB
}

// NewConversationRepository creates the repository
func NewConversationRepository(db *database.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// AddMessage appends an entry and prunes anything beyond the per-user cap.
func (r *ConversationRepository) AddMessage(ctx context.Context, userID string, role models.Role, content string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (user_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, role, content, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert conversation entry: %w", err)
	}

	// Keep only the most recent MaxHistoryPerUser rows.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE user_id = ?
		  AND id NOT IN (
			SELECT id FROM conversations
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		  )
	`, userID, userID, MaxHistoryPerUser); err != nil {
		return fmt.Errorf("failed to prune conversation history: %w", err)
	}

	return tx.Commit()
}

// GetHistory returns up to limit most recent entries oldest-first.
// limit <= 0 means the full retained window.
func (r *ConversationRepository) GetHistory(ctx context.Context, userID string, limit int) ([]models.ConversationEntry, error) {
	if limit <= 0 || limit > MaxHistoryPerUser {
		limit = MaxHistoryPerUser
	}

	var entries []models.ConversationEntry
	err := r.db.DB().SelectContext(ctx, &entries, `
		SELECT id, user_id, role, content, created_at
		FROM (
			SELECT id, user_id, role, content, created_at
			FROM conversations
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return entries, nil
}

// Clear removes all history for a user.
func (r *ConversationRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM conversations WHERE user_id = ?
	`, userID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// PruneOlderThan deletes entries past the retention horizon. Returns rows removed.
func (r *ConversationRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM conversations WHERE created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
