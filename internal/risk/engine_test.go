package risk

import (
	"context"
	"testing"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/security"
	"github.com/chainclaw/chainclaw/pkg/models"
)

const (
	honeypotAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	cleanAddr    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	shadyAddr    = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func newTestEngine(t *testing.T) (*Engine, *database.DB) {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	safety := &security.MockSafety{
		Reports: map[string]*models.TokenSafetyReport{
			honeypotAddr: {Address: honeypotAddr, ChainID: 1, IsHoneypot: true, IsOpenSource: true},
			shadyAddr: {
				Address: shadyAddr, ChainID: 1,
				OwnerCanMint:      true,
				OwnerCanPause:     true,
				OwnerCanBlacklist: true,
				IsOpenSource:      false,
				IsProxy:           true,
			},
		},
	}
	source := &security.MockSource{Sources: map[string]string{
		shadyAddr: `
			contract Shady {
				function setFee(uint256 f) external onlyOwner { fee = f; }
				function kill() external { selfdestruct(payable(owner)); }
			}`,
	}}
	return NewEngine(db, safety, source, DefaultAutoBlockThreshold), db
}

func TestScanSource(t *testing.T) {
	src := `
		contract T {
			function rescue() external onlyOwner { selfdestruct(payable(msg.sender)); }
			function exec(address a, bytes calldata d) external { a.delegatecall(d); }
			function setTaxRate(uint256 r) external onlyOwner {}
			function withdrawAll() external onlyOwner {}
			function peek() internal { assembly { let x := mload(0x40) } }
		}`
	findings := ScanSource(src)

	want := map[string]bool{
		"selfdestruct":    true,
		"delegatecall":    true,
		"modifiable_fees": true,
		"owner_withdraw":  true,
		"inline_assembly": true,
	}
	got := make(map[string]bool)
	for _, f := range findings {
		got[f.Pattern] = true
	}
	for name := range want {
		if !got[name] {
			t.Errorf("expected finding %q, got %v", name, findings)
		}
	}
	if got["proxy_upgradeable"] {
		t.Error("unexpected proxy finding in plain contract")
	}

	if out := ScanSource(""); out != nil {
		t.Errorf("empty source produced findings: %v", out)
	}
}

func TestEngineShouldBlock(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("clean token passes", func(t *testing.T) {
		v, err := engine.ShouldBlock(ctx, "u1", 1, cleanAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if v.Blocked {
			t.Errorf("clean token blocked: %s", v.Reason)
		}
	})

	t.Run("honeypot is hard blocked", func(t *testing.T) {
		v, err := engine.ShouldBlock(ctx, "u1", 1, honeypotAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if !v.Blocked {
			t.Fatal("honeypot not blocked")
		}
	})

	t.Run("allowlist does not bypass honeypot", func(t *testing.T) {
		if err := engine.Lists().Put(ctx, "u1", honeypotAddr, ListAllow); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		v, err := engine.ShouldBlock(ctx, "u1", 1, honeypotAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if !v.Blocked {
			t.Error("allowlisted honeypot slipped through")
		}
	})

	t.Run("high score is auto blocked", func(t *testing.T) {
		v, err := engine.ShouldBlock(ctx, "u1", 1, shadyAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if !v.Blocked {
			t.Error("high-risk token not auto blocked")
		}
	})

	t.Run("allowlist bypasses the score check", func(t *testing.T) {
		if err := engine.Lists().Put(ctx, "u2", shadyAddr, ListAllow); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		v, err := engine.ShouldBlock(ctx, "u2", 1, shadyAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if v.Blocked {
			t.Errorf("allowlisted token blocked: %s", v.Reason)
		}
	})

	t.Run("blocklist is a hard block", func(t *testing.T) {
		if err := engine.Lists().Put(ctx, "u1", cleanAddr, ListBlock); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		v, err := engine.ShouldBlock(ctx, "u1", 1, cleanAddr)
		if err != nil {
			t.Fatalf("ShouldBlock failed: %v", err)
		}
		if !v.Blocked {
			t.Error("blocklisted token not blocked")
		}
	})
}

func TestEngineAssessCaching(t *testing.T) {
	engine, db := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Assess(ctx, 1, shadyAddr)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if first.Level != models.RiskHigh && first.Level != models.RiskCritical {
		t.Errorf("expected elevated level, got %s (score %d)", first.Level, first.Score)
	}

	// make the safety API fail; a fresh cache entry must still answer
	engine.safety = &security.MockSafety{Err: context.DeadlineExceeded}
	second, err := engine.Assess(ctx, 1, shadyAddr)
	if err != nil {
		t.Fatalf("cached Assess failed: %v", err)
	}
	if second.Score != first.Score {
		t.Errorf("cached score = %d, want %d", second.Score, first.Score)
	}

	t.Run("expired cache is ignored", func(t *testing.T) {
		_, err := db.DB().ExecContext(ctx,
			`UPDATE risk_cache SET cached_at = ? WHERE address = ?`,
			time.Now().Add(-8*24*time.Hour), shadyAddr)
		if err != nil {
			t.Fatalf("failed to age cache row: %v", err)
		}
		cached, ok, err := engine.cache.Get(ctx, 1, shadyAddr)
		if err != nil {
			t.Fatalf("cache Get failed: %v", err)
		}
		if ok {
			t.Errorf("expired cache entry returned: %+v", cached)
		}
	})
}

func TestEngineSafetyOutageScoresConservatively(t *testing.T) {
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	engine := NewEngine(db, &security.MockSafety{Err: context.DeadlineExceeded}, nil, 0)
	report, err := engine.Assess(context.Background(), 1, cleanAddr)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if report.Score < 40 {
		t.Errorf("outage score = %d, want at least 40", report.Score)
	}
}
