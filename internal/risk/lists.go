package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
)

// ListKind names the per-user token list an address sits on
type ListKind string

const (
	ListAllow ListKind = "allow"
	ListBlock ListKind = "block"
)

// ListRepository manages per-user allow/block lists.
type ListRepository struct {
	db *database.DB
}

// NewListRepository creates the repository.
func NewListRepository(db *database.DB) *ListRepository {
	return &ListRepository{db: db}
}

// Put adds or moves an address to the given list.
func (r *ListRepository) Put(ctx context.Context, userID, address string, kind ListKind) error {
	if kind != ListAllow && kind != ListBlock {
		return fmt.Errorf("unknown list kind %q", kind)
	}
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO user_token_lists (user_id, address, list)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, address) DO UPDATE SET list = excluded.list`,
		userID, strings.ToLower(address), string(kind))
	if err != nil {
		return fmt.Errorf("failed to update token list: %w", err)
	}
	return nil
}

// Remove drops an address from the user's lists.
func (r *ListRepository) Remove(ctx context.Context, userID, address string) error {
	_, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM user_token_lists WHERE user_id = ? AND address = ?`,
		userID, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("failed to remove from token list: %w", err)
	}
	return nil
}

// Lookup reports which list, if any, an address sits on.
func (r *ListRepository) Lookup(ctx context.Context, userID, address string) (ListKind, bool, error) {
	var kind string
	err := r.db.DB().GetContext(ctx, &kind,
		`SELECT list FROM user_token_lists WHERE user_id = ? AND address = ?`,
		userID, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up token list: %w", err)
	}
	return ListKind(kind), true, nil
}
