package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRepositorySeries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for d, px := range map[string]int64{
		"2026-08-01": 3000,
		"2026-08-02": 3100,
		"2026-08-03": 2950,
	} {
		if err := repo.Upsert(ctx, "ETH", day(d), decimal.NewFromInt(px)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	// Upsert on the same day overwrites.
	if err := repo.Upsert(ctx, "ETH", day("2026-08-03"), decimal.NewFromInt(2900)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	series, err := repo.Series(ctx, "ETH", day("2026-08-01"), day("2026-08-03"))
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("series = %d points", len(series))
	}
	if !series[2].PriceUSD.Equal(decimal.NewFromInt(2900)) {
		t.Fatalf("last close = %s", series[2].PriceUSD)
	}
	for i := 1; i < len(series); i++ {
		if series[i].Day.Before(series[i-1].Day) {
			t.Fatal("series not oldest-first")
		}
	}
}

func TestRepositoryAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, "ETH", day("2026-08-01"), decimal.NewFromInt(3000)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Upsert(ctx, "ETH", day("2026-08-05"), decimal.NewFromInt(3500)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	px, err := repo.At(ctx, "ETH", day("2026-08-03"))
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if !px.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("price = %s, want closest earlier close", px)
	}

	if _, err := repo.At(ctx, "BTC", day("2026-08-03")); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestRecorderRun(t *testing.T) {
	repo := newTestRepo(t)
	oracle := &MockOracle{Prices: map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(3200),
	}}

	rec := NewRecorder(oracle, repo, []string{"ETH", "USDC", "MISSING"})
	rec.now = func() time.Time { return day("2026-08-10") }

	if err := rec.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	px, err := repo.At(context.Background(), "ETH", day("2026-08-10"))
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if !px.Equal(decimal.NewFromInt(3200)) {
		t.Fatalf("recorded = %s", px)
	}
	// Stablecoins record their peg without oracle data.
	if px, err := repo.At(context.Background(), "USDC", day("2026-08-10")); err != nil || !px.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("USDC = %s, %v", px, err)
	}
	// Unpriceable tokens are skipped, not fatal.
	if _, err := repo.At(context.Background(), "MISSING", day("2026-08-10")); err == nil {
		t.Fatal("unexpected row for unpriced token")
	}
}

func TestRecorderOracleDown(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(&MockOracle{Err: errors.New("offline")}, repo, []string{"ETH"})
	if err := rec.Run(context.Background()); err != nil {
		t.Fatalf("Run should absorb lookup failures: %v", err)
	}
}
