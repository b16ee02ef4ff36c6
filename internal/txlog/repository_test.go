package txlog

import (
	"context"
	"testing"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func newRecord(userID string) *models.TxRecord {
	return &models.TxRecord{
		UserID:      userID,
		ChainID:     1,
		FromAddress: "0xfrom",
		ToAddress:   "0xto",
		Value:       "1000000000000000000",
		SkillName:   "swap",
	}
}

func TestRepository_StatusMachine(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	t.Run("full pipeline sequence", func(t *testing.T) {
		rec, err := repo.Create(ctx, newRecord("u1"))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		hash := "0xabc"
		steps := []struct {
			to    models.TxStatus
			patch Update
		}{
			{models.TxSimulated, Update{}},
			{models.TxBroadcast, Update{Hash: &hash}},
			{models.TxConfirmed, Update{}},
		}
		for _, step := range steps {
			if err := repo.Advance(ctx, rec.ID, step.to, step.patch); err != nil {
				t.Fatalf("Advance to %s: %v", step.to, err)
			}
		}

		got, err := repo.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != models.TxConfirmed {
			t.Errorf("status = %s, want confirmed", got.Status)
		}
		if got.Hash == nil || *got.Hash != hash {
			t.Errorf("hash not persisted")
		}
	})

	t.Run("terminal status rejects further transitions", func(t *testing.T) {
		rec, _ := repo.Create(ctx, newRecord("u1"))
		reason := "simulation failed"
		if err := repo.Advance(ctx, rec.ID, models.TxFailed, Update{Error: &reason}); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if err := repo.Advance(ctx, rec.ID, models.TxConfirmed, Update{}); err == nil {
			t.Error("expected error advancing a failed record")
		}
	})

	t.Run("status cannot move backwards", func(t *testing.T) {
		rec, _ := repo.Create(ctx, newRecord("u1"))
		if err := repo.Advance(ctx, rec.ID, models.TxBroadcast, Update{}); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if err := repo.Advance(ctx, rec.ID, models.TxSimulated, Update{}); err == nil {
			t.Error("expected error moving broadcast -> simulated")
		}
	})
}

func TestRepository_Reconcile(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	minedHash := "0xmined"
	lostHash := "0xlost"

	// pending without hash: interrupted before broadcast
	interrupted, _ := repo.Create(ctx, newRecord("u1"))

	// broadcast with a hash that was mined successfully
	minedRec, _ := repo.Create(ctx, newRecord("u1"))
	repo.Advance(ctx, minedRec.ID, models.TxBroadcast, Update{Hash: &minedHash})

	// broadcast with a hash the chain never saw
	lostRec, _ := repo.Create(ctx, newRecord("u1"))
	repo.Advance(ctx, lostRec.ID, models.TxBroadcast, Update{Hash: &lostHash})

	lookup := func(_ context.Context, _ int64, hash string) (bool, bool, int64, int64, bool, error) {
		switch hash {
		case minedHash:
			return true, true, 21000, 123456, true, nil
		default:
			return false, false, 0, 0, false, nil
		}
	}

	if err := repo.Reconcile(ctx, lookup); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, _ := repo.Get(ctx, interrupted.ID)
	if got.Status != models.TxFailed {
		t.Errorf("interrupted record = %s, want failed", got.Status)
	}

	got, _ = repo.Get(ctx, minedRec.ID)
	if got.Status != models.TxConfirmed {
		t.Errorf("mined record = %s, want confirmed", got.Status)
	}
	if got.BlockNumber == nil || *got.BlockNumber != 123456 {
		t.Errorf("block number not recorded")
	}

	got, _ = repo.Get(ctx, lostRec.ID)
	if got.Status != models.TxFailed {
		t.Errorf("lost record = %s, want failed", got.Status)
	}
}
