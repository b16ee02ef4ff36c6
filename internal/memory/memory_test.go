package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestConversationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository(setupDB(t))

	t.Run("history is oldest-first", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if err := repo.AddMessage(ctx, "u1", models.RoleUser, fmt.Sprintf("msg %d", i)); err != nil {
				t.Fatalf("AddMessage: %v", err)
			}
		}

		history, err := repo.GetHistory(ctx, "u1", 0)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(history) != 5 {
			t.Fatalf("got %d entries, want 5", len(history))
		}
		for i, entry := range history {
			if want := fmt.Sprintf("msg %d", i); entry.Content != want {
				t.Errorf("entry %d = %q, want %q", i, entry.Content, want)
			}
		}
	})

	t.Run("cap of 50 entries per user", func(t *testing.T) {
		for i := 0; i < 60; i++ {
			if err := repo.AddMessage(ctx, "u2", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				t.Fatalf("AddMessage: %v", err)
			}
		}
		history, err := repo.GetHistory(ctx, "u2", 0)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(history) != MaxHistoryPerUser {
			t.Errorf("got %d entries, want %d", len(history), MaxHistoryPerUser)
		}
		// The oldest surviving entry is m10.
		if history[0].Content != "m10" {
			t.Errorf("oldest entry = %q, want m10", history[0].Content)
		}
	})

	t.Run("bounded window returns most recent, oldest-first", func(t *testing.T) {
		history, err := repo.GetHistory(ctx, "u1", 2)
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(history) != 2 || history[0].Content != "msg 3" || history[1].Content != "msg 4" {
			t.Errorf("window = %+v, want [msg 3, msg 4]", history)
		}
	})

	t.Run("clear removes all history", func(t *testing.T) {
		if err := repo.Clear(ctx, "u1"); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		history, _ := repo.GetHistory(ctx, "u1", 0)
		if len(history) != 0 {
			t.Errorf("got %d entries after clear, want 0", len(history))
		}
	})
}

func TestPreferencesRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPreferencesRepository(setupDB(t))

	t.Run("unknown user gets defaults", func(t *testing.T) {
		prefs, err := repo.Get(ctx, "nobody")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		defaults := models.DefaultPreferences("nobody")
		if prefs.DefaultChainID != defaults.DefaultChainID ||
			!prefs.SlippagePercent.Equal(defaults.SlippagePercent) ||
			prefs.MaxTransactionsPerDay != defaults.MaxTransactionsPerDay {
			t.Errorf("got %+v, want defaults %+v", prefs, defaults)
		}
	})

	t.Run("partial set overwrites only provided fields", func(t *testing.T) {
		chain := int64(137)
		if _, err := repo.Set(ctx, "alice", PreferencesPatch{DefaultChainID: &chain}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		prefs, err := repo.Get(ctx, "alice")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if prefs.DefaultChainID != 137 {
			t.Errorf("DefaultChainID = %d, want 137", prefs.DefaultChainID)
		}
		// Untouched fields keep their defaults.
		if !prefs.SlippagePercent.Equal(decimal.NewFromFloat(0.5)) {
			t.Errorf("SlippagePercent = %v, want default 0.5", prefs.SlippagePercent)
		}

		slippage := decimal.NewFromFloat(1.5)
		if _, err := repo.Set(ctx, "alice", PreferencesPatch{SlippagePercent: &slippage}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		prefs, _ = repo.Get(ctx, "alice")
		if prefs.DefaultChainID != 137 || !prefs.SlippagePercent.Equal(slippage) {
			t.Errorf("second patch clobbered earlier fields: %+v", prefs)
		}
	})
}

func TestVectorRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewVectorRepository(setupDB(t), NewHashEmbedder())

	t.Run("recall ranks similar text first", func(t *testing.T) {
		texts := []string{
			"user prefers trading ethereum on arbitrum",
			"user asked about the weather in lisbon",
			"user set a price alert for ethereum at 2000",
		}
		for _, text := range texts {
			if err := repo.Store(ctx, "u1", "test", text); err != nil {
				t.Fatalf("Store: %v", err)
			}
		}

		got, err := repo.Recall(ctx, "u1", "ethereum price alert threshold", 1)
		if err != nil {
			t.Fatalf("Recall: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d chunks, want 1", len(got))
		}
		if got[0].Text != texts[2] {
			t.Errorf("top chunk = %q, want the alert chunk", got[0].Text)
		}
	})

	t.Run("embedding round-trips through the store", func(t *testing.T) {
		vec := []float32{1.5, -2.25, 0, 3.125}
		decoded := decodeVector(encodeVector(vec))
		if len(decoded) != len(vec) {
			t.Fatalf("length mismatch")
		}
		for i := range vec {
			if decoded[i] != vec[i] {
				t.Errorf("index %d: %v != %v", i, decoded[i], vec[i])
			}
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: %v, want 1", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: %v, want 0", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched lengths: %v, want 0", got)
	}
}
