package price

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

// Repository stores daily historical prices used by backtests and the
// outcome labeller.
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Upsert stores a daily close for a token.
func (r *Repository) Upsert(ctx context.Context, token string, day time.Time, priceUSD decimal.Decimal) error {
	if _, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO historical_prices (token, day, price_usd)
		VALUES (?, ?, ?)
		ON CONFLICT (token, day) DO UPDATE SET price_usd = excluded.price_usd
	`, token, day.UTC().Truncate(24*time.Hour), priceUSD.String()); err != nil {
		return fmt.Errorf("failed to upsert historical price: %w", err)
	}
	return nil
}

// Series returns daily closes for a token in [from, to], oldest first.
func (r *Repository) Series(ctx context.Context, token string, from, to time.Time) ([]models.HistoricalPrice, error) {
	rows, err := r.db.DB().QueryxContext(ctx, `
		SELECT id, token, day, price_usd
		FROM historical_prices
		WHERE token = ? AND day >= ? AND day <= ?
		ORDER BY day ASC
	`, token, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load price series: %w", err)
	}
	defer rows.Close()

	var series []models.HistoricalPrice
	for rows.Next() {
		var (
			p   models.HistoricalPrice
			raw string
		)
		if err := rows.Scan(&p.ID, &p.Token, &p.Day, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		p.PriceUSD, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt price value: %w", err)
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// At returns the closest daily close at or before the given time, or the
// earliest afterwards when nothing precedes it.
func (r *Repository) At(ctx context.Context, token string, at time.Time) (decimal.Decimal, error) {
	var raw string
	err := r.db.DB().GetContext(ctx, &raw, `
		SELECT price_usd FROM historical_prices
		WHERE token = ? AND day <= ?
		ORDER BY day DESC LIMIT 1
	`, token, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.DB().GetContext(ctx, &raw, `
			SELECT price_usd FROM historical_prices
			WHERE token = ?
			ORDER BY day ASC LIMIT 1
		`, token)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("no historical price for %s", token)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load historical price: %w", err)
	}
	return decimal.NewFromString(raw)
}

// PruneOlderThan removes rows past the retention horizon.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM historical_prices WHERE day < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune historical prices: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MockOracle is a fixed-price Oracle for tests and the backtest CLI.
type MockOracle struct {
	Prices map[string]decimal.Decimal
	Err    error
}

// GetTokenPrice returns the configured price.
func (m *MockOracle) GetTokenPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	if p, ok := m.Prices[symbol]; ok {
		return p, nil
	}
	if IsStablecoin(symbol) {
		return decimal.NewFromInt(1), nil
	}
	return decimal.Zero, fmt.Errorf("price not found for %s", symbol)
}
