package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// reportTTL bounds how long a cached assessment stays authoritative.
const reportTTL = 7 * 24 * time.Hour

// CacheRepository persists risk reports keyed by (address, chain).
type CacheRepository struct {
	db *database.DB
}

// NewCacheRepository creates the repository.
func NewCacheRepository(db *database.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns a cached report still inside its TTL.
func (r *CacheRepository) Get(ctx context.Context, chainID int64, address string) (*models.RiskReport, bool, error) {
	var row struct {
		Report   string    `db:"report"`
		CachedAt time.Time `db:"cached_at"`
	}
	err := r.db.DB().GetContext(ctx, &row,
		`SELECT report, cached_at FROM risk_cache WHERE address = ? AND chain_id = ?`,
		strings.ToLower(address), chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read risk cache: %w", err)
	}
	if time.Since(row.CachedAt) > reportTTL {
		return nil, false, nil
	}

	var report models.RiskReport
	if err := json.Unmarshal([]byte(row.Report), &report); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached risk report: %w", err)
	}
	report.CachedAt = row.CachedAt
	return &report, true, nil
}

// Put stores or refreshes a report.
func (r *CacheRepository) Put(ctx context.Context, report *models.RiskReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode risk report: %w", err)
	}
	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO risk_cache (address, chain_id, report, cached_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (address, chain_id) DO UPDATE SET
			report = excluded.report,
			cached_at = CURRENT_TIMESTAMP`,
		strings.ToLower(report.Address), report.ChainID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to write risk cache: %w", err)
	}
	return nil
}

// PruneOlderThan drops expired cache rows.
func (r *CacheRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx,
		`DELETE FROM risk_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune risk cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
