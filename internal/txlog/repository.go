// Package txlog is the append-only record of every attempted on-chain action.
package txlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Repository persists transaction records
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new pending record and returns it.
func (r *Repository) Create(ctx context.Context, rec *models.TxRecord) (*models.TxRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = models.TxPending
	}

	if _, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO tx_log (
			id, user_id, chain_id, from_address, to_address, value, tx_hash, status,
			skill_name, intent_description, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.UserID, rec.ChainID, rec.FromAddress, rec.ToAddress, rec.Value,
		rec.Hash, rec.Status, rec.SkillName, rec.IntentDescription, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create tx record: %w", err)
	}

	return rec, nil
}

// Get loads a record by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*models.TxRecord, error) {
	var rec models.TxRecord
	err := r.db.DB().GetContext(ctx, &rec, `
		SELECT * FROM tx_log WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tx record: %w", err)
	}
	return &rec, nil
}

// Update is the mutable-field patch applied alongside a status transition.
type Update struct {
	Hash             *string
	SimulationResult *string
	GuardrailChecks  *string
	GasUsed          *int64
	GasPrice         *string
	BlockNumber      *int64
	Error            *string
}

// Advance moves a record to a new status, enforcing the monotonic state
// machine, and applies the patch.
func (r *Repository) Advance(ctx context.Context, id string, to models.TxStatus, patch Update) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.TxStatus
	if err := tx.GetContext(ctx, &current, `SELECT status FROM tx_log WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to read current status: %w", err)
	}
	if !current.CanTransition(to) {
		return fmt.Errorf("illegal status transition %s -> %s for tx %s", current, to, id)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tx_log SET
			status = ?,
			tx_hash = COALESCE(?, tx_hash),
			simulation_result = COALESCE(?, simulation_result),
			guardrail_checks = COALESCE(?, guardrail_checks),
			gas_used = COALESCE(?, gas_used),
			gas_price = COALESCE(?, gas_price),
			block_number = COALESCE(?, block_number),
			error = COALESCE(?, error),
			updated_at = ?
		WHERE id = ?
	`,
		to, patch.Hash, patch.SimulationResult, patch.GuardrailChecks,
		patch.GasUsed, patch.GasPrice, patch.BlockNumber, patch.Error,
		time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("failed to advance tx record: %w", err)
	}

	return tx.Commit()
}

// ListByUser returns a user's records, newest first, up to limit.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]models.TxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []models.TxRecord
	if err := r.db.DB().SelectContext(ctx, &recs, `
		SELECT * FROM tx_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list tx records: %w", err)
	}
	return recs, nil
}

// ListNonTerminal returns records still in pending/simulated/broadcast.
func (r *Repository) ListNonTerminal(ctx context.Context) ([]models.TxRecord, error) {
	var recs []models.TxRecord
	if err := r.db.DB().SelectContext(ctx, &recs, `
		SELECT * FROM tx_log
		WHERE status IN ('pending', 'simulated', 'broadcast')
		ORDER BY created_at ASC
	`); err != nil {
		return nil, fmt.Errorf("failed to list non-terminal tx records: %w", err)
	}
	return recs, nil
}

// CountSince counts a user's records created at or after the cutoff.
func (r *Repository) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := r.db.DB().GetContext(ctx, &n, `
		SELECT COUNT(*) FROM tx_log WHERE user_id = ? AND created_at >= ?
	`, userID, since.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count tx records: %w", err)
	}
	return n, nil
}

// PruneOlderThan removes terminal records past the retention horizon.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM tx_log
		WHERE created_at < ? AND status IN ('confirmed', 'failed')
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tx log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReceiptLookup answers whether a broadcast hash was mined. found=false
// means the chain has not seen the transaction (yet).
type ReceiptLookup func(ctx context.Context, chainID int64, hash string) (mined bool, success bool, gasUsed int64, blockNumber int64, found bool, err error)

// Reconcile advances transaction records left non-terminal by a previous
// process run. Records with a hash are re-queried via the chain boundary;
// records that never reached broadcast are failed outright.
func (r *Repository) Reconcile(ctx context.Context, lookup ReceiptLookup) error {
	stale, err := r.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	logger.Info("reconciling non-terminal transactions from previous run",
		zap.Int("count", len(stale)),
	)

	for _, rec := range stale {
		if rec.Hash == nil || *rec.Hash == "" {
			reason := "interrupted by restart before broadcast"
			if err := r.Advance(ctx, rec.ID, models.TxFailed, Update{Error: &reason}); err != nil {
				logger.Warn("failed to fail stale tx record", zap.String("tx_id", rec.ID), zap.Error(err))
			}
			continue
		}

		mined, success, gasUsed, blockNumber, found, err := lookup(ctx, rec.ChainID, *rec.Hash)
		if err != nil {
			logger.Warn("receipt lookup failed during reconciliation",
				zap.String("tx_id", rec.ID),
				zap.Error(err),
			)
			continue
		}

		switch {
		case !found:
			reason := "transaction not found on chain after restart"
			if err := r.Advance(ctx, rec.ID, models.TxFailed, Update{Error: &reason}); err != nil {
				logger.Warn("failed to fail missing tx", zap.String("tx_id", rec.ID), zap.Error(err))
			}
		case mined && success:
			if err := r.Advance(ctx, rec.ID, models.TxConfirmed, Update{GasUsed: &gasUsed, BlockNumber: &blockNumber}); err != nil {
				logger.Warn("failed to confirm reconciled tx", zap.String("tx_id", rec.ID), zap.Error(err))
			}
		case mined:
			reason := "transaction reverted"
			if err := r.Advance(ctx, rec.ID, models.TxFailed, Update{Error: &reason, GasUsed: &gasUsed, BlockNumber: &blockNumber}); err != nil {
				logger.Warn("failed to fail reverted tx", zap.String("tx_id", rec.ID), zap.Error(err))
			}
		default:
			// Still in the mempool; leave it for the next pass.
		}
	}

	return nil
}
