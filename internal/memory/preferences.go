package memory

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

// PreferencesRepository persists per-user settings
type PreferencesRepository struct {
	db *database.DB
}

// NewPreferencesRepository creates the repository
func NewPreferencesRepository(db *database.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

// PreferencesPatch is a partial update; nil fields are left untouched.
type PreferencesPatch struct {
	DefaultChainID        *int64
	SlippagePercent       *decimal.Decimal
	ConfirmThresholdUSD   *decimal.Decimal
	MaxTransactionsPerDay *int
}

type prefsRow struct {
	UserID              string    `db:"user_id"`
	DefaultChainID      int64     `db:"default_chain_id"`
	SlippagePercent     string    `db:"slippage_percent"`
	ConfirmThresholdUSD string    `db:"confirm_threshold_usd"`
	MaxTxPerDay         int       `db:"max_tx_per_day"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// Get returns the stored record, or defaults for unknown users.
func (r *PreferencesRepository) Get(ctx context.Context, userID string) (*models.Preferences, error) {
	var row prefsRow
	err := r.db.DB().GetContext(ctx, &row, `
		SELECT user_id, default_chain_id, slippage_percent, confirm_threshold_usd, max_tx_per_day, updated_at
		FROM user_preferences
		WHERE user_id = ?
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	slippage, err := decimal.NewFromString(row.SlippagePercent)
	if err != nil {
		return nil, fmt.Errorf("corrupt slippage value: %w", err)
	}
	threshold, err := decimal.NewFromString(row.ConfirmThresholdUSD)
	if err != nil {
		return nil, fmt.Errorf("corrupt confirm threshold value: %w", err)
	}

	return &models.Preferences{
		UserID:                row.UserID,
		DefaultChainID:        row.DefaultChainID,
		SlippagePercent:       slippage,
		ConfirmThresholdUSD:   threshold,
		MaxTransactionsPerDay: row.MaxTxPerDay,
		UpdatedAt:             row.UpdatedAt,
	}, nil
}

// Set merges the patch over the current record (defaults for unknown users)
// and upserts the result. Only provided fields are overwritten.
func (r *PreferencesRepository) Set(ctx context.Context, userID string, patch PreferencesPatch) (*models.Preferences, error) {
	current, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if patch.DefaultChainID != nil {
		current.DefaultChainID = *patch.DefaultChainID
	}
	if patch.SlippagePercent != nil {
		current.SlippagePercent = *patch.SlippagePercent
	}
	if patch.ConfirmThresholdUSD != nil {
		current.ConfirmThresholdUSD = *patch.ConfirmThresholdUSD
	}
	if patch.MaxTransactionsPerDay != nil {
		current.MaxTransactionsPerDay = *patch.MaxTransactionsPerDay
	}
	current.UpdatedAt = time.Now().UTC()

	if _, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, default_chain_id, slippage_percent, confirm_threshold_usd, max_tx_per_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			default_chain_id = excluded.default_chain_id,
			slippage_percent = excluded.slippage_percent,
			confirm_threshold_usd = excluded.confirm_threshold_usd,
			max_tx_per_day = excluded.max_tx_per_day,
			updated_at = excluded.updated_at
	`,
		current.UserID, current.DefaultChainID, current.SlippagePercent.String(),
		current.ConfirmThresholdUSD.String(), current.MaxTransactionsPerDay, current.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	return current, nil
}
