package alerts

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/pkg/models"
)

type notification struct {
	userID string
	text   string
}

func newTestEngine(t *testing.T, prices map[string]decimal.Decimal) (*Engine, *Repository, *[]notification) {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	var sent []notification
	engine := NewEngine(repo, &price.MockOracle{Prices: prices}, func(userID, text string) {
		sent = append(sent, notification{userID, text})
	}, nil)
	return engine, repo, &sent
}

func TestAlertFiresBelowThreshold(t *testing.T) {
	engine, repo, sent := newTestEngine(t, map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(1900),
	})
	ctx := context.Background()

	id, err := repo.Create(ctx, "bg-user", models.AlertPriceBelow, "ETH", decimal.NewFromInt(2000))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(*sent) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(*sent))
	}
	n := (*sent)[0]
	if n.userID != "bg-user" {
		t.Errorf("notified user = %q, want bg-user", n.userID)
	}
	if !strings.Contains(n.text, "Alert Triggered") {
		t.Errorf("notification %q missing Alert Triggered", n.text)
	}

	alert, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if alert.Status != models.AlertTriggered {
		t.Errorf("status = %s, want triggered", alert.Status)
	}
	if alert.TriggeredAt == nil {
		t.Error("triggered_at not set")
	}

	t.Run("second tick does not re-fire", func(t *testing.T) {
		if err := engine.Run(ctx); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(*sent) != 1 {
			t.Errorf("notifier called %d times after second tick, want 1", len(*sent))
		}
	})
}

func TestAlertExactEqualityFires(t *testing.T) {
	tests := []struct {
		name string
		typ  models.AlertType
	}{
		{"price_above fires on equality", models.AlertPriceAbove},
		{"price_below fires on equality", models.AlertPriceBelow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, repo, sent := newTestEngine(t, map[string]decimal.Decimal{
				"ETH": decimal.NewFromInt(2000),
			})
			ctx := context.Background()
			if _, err := repo.Create(ctx, "u1", tt.typ, "ETH", decimal.NewFromInt(2000)); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if err := engine.Run(ctx); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(*sent) != 1 {
				t.Errorf("notifier called %d times, want 1", len(*sent))
			}
		})
	}
}

func TestAlertStaysArmedWhileNotCrossed(t *testing.T) {
	engine, repo, sent := newTestEngine(t, map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(2500),
	})
	ctx := context.Background()

	id, _ := repo.Create(ctx, "u1", models.AlertPriceBelow, "ETH", decimal.NewFromInt(2000))
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("notifier fired below an uncrossed threshold")
	}

	alert, _ := repo.Get(ctx, id)
	if alert.Status != models.AlertActive {
		t.Errorf("status = %s, want active", alert.Status)
	}
}

func TestAlertPriceLookupFailureSkipsSilently(t *testing.T) {
	// no price configured for the token
	engine, repo, sent := newTestEngine(t, map[string]decimal.Decimal{})
	ctx := context.Background()

	id, _ := repo.Create(ctx, "u1", models.AlertPriceAbove, "OBSCURE", decimal.NewFromInt(1))
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(*sent) != 0 {
		t.Error("notifier fired despite price failure")
	}

	alert, _ := repo.Get(ctx, id)
	if alert.Status != models.AlertActive {
		t.Errorf("status = %s after price failure, want active", alert.Status)
	}
}

func TestRepositoryValidationAndDelete(t *testing.T) {
	_, repo, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := repo.Create(ctx, "u1", "price_equal", "ETH", decimal.NewFromInt(1)); err == nil {
		t.Error("expected error for unknown alert type")
	}

	id, err := repo.Create(ctx, "u1", models.AlertPriceAbove, "ETH", decimal.NewFromInt(3000))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.Delete(ctx, "someone-else", id); err == nil {
		t.Error("cross-user delete succeeded")
	}
	if err := repo.Delete(ctx, "u1", id); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
}
