package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/pkg/models"
)

type stubSubmitter struct {
	txID   string
	status string
	err    error
	calls  int
}

func (s *stubSubmitter) SubmitTrade(_ context.Context, _ *models.AgentInstance, _ *models.Decision, _ decimal.Decimal) (string, string, error) {
	s.calls++
	return s.txID, s.status, s.err
}

type stubPortfolio struct {
	holdings map[string]decimal.Decimal
	cash     decimal.Decimal
}

func (s *stubPortfolio) Snapshot(_ context.Context, _ string) (map[string]decimal.Decimal, decimal.Decimal, error) {
	return s.holdings, s.cash, nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// sawtoothUp alternates +2/-1 steps so the trend is up while the RSI
// stays in the mid sixties.
func sawtoothUp(start float64, steps int) []float64 {
	out := []float64{start}
	v := start
	for i := 0; i < steps; i++ {
		if i%2 == 0 {
			v += 2
		} else {
			v -= 1
		}
		out = append(out, v)
	}
	return out
}

func downtrend(start float64, steps int) []float64 {
	out := make([]float64, 0, steps)
	v := start
	for i := 0; i < steps; i++ {
		out = append(out, v)
		v -= 1
	}
	return out
}

func TestCatalog(t *testing.T) {
	defs := Catalog()
	if len(defs) != 2 {
		t.Fatalf("expected 2 builtin agents, got %d", len(defs))
	}

	def, err := Lookup("momentum-scout")
	if err != nil {
		t.Fatalf("failed to look up momentum-scout: %v", err)
	}
	if def.Strategy.Evaluate == nil {
		t.Error("expected momentum-scout to carry an evaluation function")
	}

	if _, err := Lookup("nope"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestEvaluateMomentum(t *testing.T) {
	t.Run("buys on upward cross with calm rsi", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3200)},
			PriceHistory: map[string][]float64{"ETH": sawtoothUp(3100, 40)},
			Portfolio:    map[string]decimal.Decimal{},
		}
		decisions := evaluateMomentum(ctx)
		if len(decisions) != 1 {
			t.Fatalf("expected 1 decision, got %d", len(decisions))
		}
		d := decisions[0]
		if d.Action != models.ActionBuy || d.Token != "ETH" {
			t.Errorf("unexpected decision %s %s", d.Action, d.Token)
		}
		if !d.AmountUSD.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected $100 buy, got %s", d.AmountUSD)
		}
	})

	t.Run("does not rebuy while holding", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3200)},
			PriceHistory: map[string][]float64{"ETH": sawtoothUp(3100, 40)},
			Portfolio:    map[string]decimal.Decimal{"ETH": decimal.RequireFromString("0.5")},
		}
		if decisions := evaluateMomentum(ctx); len(decisions) != 0 {
			t.Fatalf("expected no decisions, got %d", len(decisions))
		}
	})

	t.Run("sells full position on downward cross", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)},
			PriceHistory: map[string][]float64{"ETH": downtrend(3040, 40)},
			Portfolio:    map[string]decimal.Decimal{"ETH": decimal.RequireFromString("0.5")},
		}
		decisions := evaluateMomentum(ctx)
		if len(decisions) != 1 {
			t.Fatalf("expected 1 decision, got %d", len(decisions))
		}
		d := decisions[0]
		if d.Action != models.ActionSell {
			t.Fatalf("expected sell, got %s", d.Action)
		}
		if !d.AmountUSD.Equal(decimal.NewFromInt(1500)) {
			t.Errorf("expected full $1500 exit, got %s", d.AmountUSD)
		}
	})

	t.Run("skips tokens with short history", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3000)},
			PriceHistory: map[string][]float64{"ETH": sawtoothUp(3000, 10)},
			Portfolio:    map[string]decimal.Decimal{},
		}
		if decisions := evaluateMomentum(ctx); len(decisions) != 0 {
			t.Fatalf("expected no decisions, got %d", len(decisions))
		}
	})
}

func TestEvaluateStacker(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}

	t.Run("sizes up below the average", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(90)},
			PriceHistory: map[string][]float64{"ETH": flat},
		}
		decisions := evaluateStacker(ctx)
		if len(decisions) != 1 {
			t.Fatalf("expected 1 decision, got %d", len(decisions))
		}
		if !decisions[0].AmountUSD.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected $50 dip buy, got %s", decisions[0].AmountUSD)
		}
	})

	t.Run("buys the base amount otherwise", func(t *testing.T) {
		ctx := &models.EvalContext{
			Prices:       map[string]decimal.Decimal{"ETH": decimal.NewFromInt(110)},
			PriceHistory: map[string][]float64{"ETH": flat},
		}
		decisions := evaluateStacker(ctx)
		if len(decisions) != 1 {
			t.Fatalf("expected 1 decision, got %d", len(decisions))
		}
		if !decisions[0].AmountUSD.Equal(decimal.NewFromInt(25)) {
			t.Errorf("expected $25 base buy, got %s", decisions[0].AmountUSD)
		}
	})
}

func TestRepositoryInstances(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	def, _ := Lookup("momentum-scout")

	if _, err := repo.CreateInstance(ctx, def, "ag-user", "turbo", nil); err == nil {
		t.Error("expected error for unknown mode")
	}

	inst, err := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, map[string]interface{}{"note": "test"})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}
	if inst.Status != models.AgentRunning {
		t.Errorf("expected running status, got %s", inst.Status)
	}

	got, err := repo.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("failed to get instance: %v", err)
	}
	if got.AgentName != "momentum-scout" || got.Mode != models.ModeDryRun {
		t.Errorf("unexpected instance %s/%s", got.AgentName, got.Mode)
	}

	if err := repo.SetInstanceStatus(ctx, inst.ID, models.AgentStopped); err != nil {
		t.Fatalf("failed to stop instance: %v", err)
	}
	got, _ = repo.GetInstance(ctx, inst.ID)
	if got.StoppedAt == nil {
		t.Error("expected stopped_at to be stamped")
	}
}

func TestRepositoryTradesAndTraces(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	def, _ := Lookup("steady-stacker")
	inst, err := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := repo.RecordTrade(ctx, &models.AgentTrade{
			AgentID:        inst.ID,
			UserID:         "ag-user",
			Token:          "ETH",
			Action:         models.ActionBuy,
			AmountUSD:      decimal.NewFromInt(25),
			ExecutionPrice: decimal.NewFromInt(3200),
			Status:         "executed",
		})
		if err != nil {
			t.Fatalf("failed to record trade: %v", err)
		}
	}

	trades, err := repo.TradesByAgent(ctx, inst.ID)
	if err != nil {
		t.Fatalf("failed to list trades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}

	recent, err := repo.TradesSince(ctx, inst.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to list recent trades: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 recent trades, got %d", len(recent))
	}

	evalCtx := &models.EvalContext{Now: time.Now().UTC(), Prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3200)}}
	decisions := []models.Decision{{Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(25), Reasoning: "scheduled accumulation"}}
	if err := repo.RecordTrace(ctx, inst.ID, evalCtx, decisions, "buy ETH: scheduled accumulation"); err != nil {
		t.Fatalf("failed to record trace: %v", err)
	}

	traces, err := repo.TracesByAgent(ctx, inst.ID, 0)
	if err != nil {
		t.Fatalf("failed to list traces: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(traces))
	}
	if !strings.Contains(traces[0].Reasoning, "scheduled accumulation") {
		t.Errorf("unexpected reasoning %q", traces[0].Reasoning)
	}
}

// fixedDef builds a definition whose strategy always emits the given
// decisions, so runner behaviour can be tested deterministically.
func fixedDef(risk models.RiskParams, decisions ...models.Decision) *models.AgentDefinition {
	return &models.AgentDefinition{
		Name:       "fixed",
		Version:    "0.0.1",
		RiskParams: risk,
		Strategy: models.Strategy{
			Watchlist:          []string{"ETH"},
			EvaluationInterval: time.Hour,
			Evaluate: func(_ *models.EvalContext) []models.Decision {
				return decisions
			},
		},
	}
}

func newTestRunner(t *testing.T, submitter TradeSubmitter) (*Runner, *Repository) {
	t.Helper()
	db := newTestDB(t)
	repo := NewRepository(db)
	oracle := &price.MockOracle{Prices: map[string]decimal.Decimal{
		"ETH": decimal.NewFromInt(3200),
	}}
	portfolio := &stubPortfolio{
		holdings: map[string]decimal.Decimal{},
		cash:     decimal.NewFromInt(10_000),
	}
	return NewRunner(repo, price.NewRepository(db), oracle, portfolio, submitter, hooks.NewBus()), repo
}

func TestRunnerEvaluateDryRun(t *testing.T) {
	runner, repo := newTestRunner(t, nil)
	ctx := context.Background()

	def := fixedDef(models.RiskParams{}, models.Decision{
		Action: models.ActionBuy, Token: "ETH",
		AmountUSD: decimal.NewFromInt(100), Reasoning: "test buy",
	})
	inst, err := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}

	if err := runner.Evaluate(ctx, def, inst); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	trades, _ := repo.TradesByAgent(ctx, inst.ID)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Status != "executed" || trades[0].TxID != nil {
		t.Errorf("dry-run trade should execute without a tx, got status %q tx %v", trades[0].Status, trades[0].TxID)
	}
	if !trades[0].ExecutionPrice.Equal(decimal.NewFromInt(3200)) {
		t.Errorf("expected execution at market price, got %s", trades[0].ExecutionPrice)
	}

	traces, _ := repo.TracesByAgent(ctx, inst.ID, 0)
	if len(traces) != 1 {
		t.Fatalf("expected 1 reasoning trace, got %d", len(traces))
	}
}

func TestRunnerEvaluateLive(t *testing.T) {
	submitter := &stubSubmitter{txID: "tx-123", status: "confirmed"}
	runner, repo := newTestRunner(t, submitter)
	ctx := context.Background()

	def := fixedDef(models.RiskParams{}, models.Decision{
		Action: models.ActionBuy, Token: "ETH",
		AmountUSD: decimal.NewFromInt(100), Reasoning: "test buy",
	})
	inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeLive, nil)

	if err := runner.Evaluate(ctx, def, inst); err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if submitter.calls != 1 {
		t.Fatalf("expected 1 trade submission, got %d", submitter.calls)
	}

	trades, _ := repo.TradesByAgent(ctx, inst.ID)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].TxID == nil || *trades[0].TxID != "tx-123" {
		t.Errorf("expected tx id recorded, got %v", trades[0].TxID)
	}
	if trades[0].Status != "confirmed" {
		t.Errorf("expected confirmed status, got %q", trades[0].Status)
	}
}

func TestRunnerRiskParams(t *testing.T) {
	ctx := context.Background()

	t.Run("position cap", func(t *testing.T) {
		runner, repo := newTestRunner(t, nil)
		def := fixedDef(models.RiskParams{MaxPositionUSD: decimal.NewFromInt(50)}, models.Decision{
			Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(100),
		})
		inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
		if err := runner.Evaluate(ctx, def, inst); err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}
		trades, _ := repo.TradesByAgent(ctx, inst.ID)
		if len(trades) != 0 {
			t.Fatalf("expected oversized decision to be rejected, got %d trades", len(trades))
		}
	})

	t.Run("blocked token", func(t *testing.T) {
		runner, repo := newTestRunner(t, nil)
		def := fixedDef(models.RiskParams{BlockedTokens: []string{"eth"}}, models.Decision{
			Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(10),
		})
		inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
		if err := runner.Evaluate(ctx, def, inst); err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}
		trades, _ := repo.TradesByAgent(ctx, inst.ID)
		if len(trades) != 0 {
			t.Fatalf("expected blocked token to be rejected, got %d trades", len(trades))
		}
	})

	t.Run("daily trade cap", func(t *testing.T) {
		runner, repo := newTestRunner(t, nil)
		def := fixedDef(models.RiskParams{MaxDailyTrades: 2}, models.Decision{
			Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(10),
		})
		inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
		for i := 0; i < 4; i++ {
			if err := runner.Evaluate(ctx, def, inst); err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
		}
		trades, _ := repo.TradesByAgent(ctx, inst.ID)
		if len(trades) != 2 {
			t.Fatalf("expected daily cap to hold at 2 trades, got %d", len(trades))
		}
	})

	t.Run("daily exposure cap", func(t *testing.T) {
		runner, repo := newTestRunner(t, nil)
		def := fixedDef(models.RiskParams{MaxDailyExposure: decimal.NewFromInt(150)}, models.Decision{
			Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(100),
		})
		inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
		for i := 0; i < 3; i++ {
			if err := runner.Evaluate(ctx, def, inst); err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
		}
		trades, _ := repo.TradesByAgent(ctx, inst.ID)
		if len(trades) != 1 {
			t.Fatalf("expected exposure cap to hold at 1 trade, got %d", len(trades))
		}
	})

	t.Run("hold decisions are never executed", func(t *testing.T) {
		runner, repo := newTestRunner(t, nil)
		def := fixedDef(models.RiskParams{}, models.Decision{
			Action: models.ActionHold, Token: "ETH",
		})
		inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)
		if err := runner.Evaluate(ctx, def, inst); err != nil {
			t.Fatalf("evaluation failed: %v", err)
		}
		trades, _ := repo.TradesByAgent(ctx, inst.ID)
		if len(trades) != 0 {
			t.Fatalf("expected no trades for hold, got %d", len(trades))
		}
	})
}

func TestRunnerLifecycle(t *testing.T) {
	runner, repo := newTestRunner(t, nil)
	ctx := context.Background()

	def := fixedDef(models.RiskParams{})
	id, err := runner.StartAgent(ctx, def, "ag-user", models.ModeDryRun, nil)
	if err != nil {
		t.Fatalf("failed to start agent: %v", err)
	}

	if err := runner.PauseAgent(ctx, id); err != nil {
		t.Fatalf("failed to pause agent: %v", err)
	}
	inst, _ := repo.GetInstance(ctx, id)
	if inst.Status != models.AgentPaused {
		t.Errorf("expected paused status, got %s", inst.Status)
	}

	if err := runner.ResumeAgent(ctx, id); err != nil {
		t.Fatalf("failed to resume agent: %v", err)
	}
	inst, _ = repo.GetInstance(ctx, id)
	if inst.Status != models.AgentRunning {
		t.Errorf("expected running status, got %s", inst.Status)
	}

	if err := runner.StopAgent(ctx, id); err != nil {
		t.Fatalf("failed to stop agent: %v", err)
	}
	// stopping again is a no-op
	if err := runner.StopAgent(ctx, id); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	inst, _ = repo.GetInstance(ctx, id)
	if inst.Status != models.AgentStopped {
		t.Errorf("expected stopped status, got %s", inst.Status)
	}

	def2 := fixedDef(models.RiskParams{})
	def2.Strategy.Evaluate = nil
	if _, err := runner.StartAgent(ctx, def2, "ag-user", models.ModeDryRun, nil); err == nil {
		t.Error("expected error for definition without evaluation function")
	}
}

func TestMarketplace(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	oracle := &price.MockOracle{Prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(3200)}}
	runner := NewRunner(repo, price.NewRepository(db), oracle, nil, nil, nil)
	market := NewMarketplace(db, runner)
	ctx := context.Background()
	t.Cleanup(func() { runner.StopAll(context.Background()) })

	if got := market.Browse(); len(got) != 2 {
		t.Fatalf("expected 2 catalogue entries, got %d", len(got))
	}

	instanceID, err := market.Subscribe(ctx, "mk-user", "steady-stacker", models.ModeDryRun)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	if instanceID == "" {
		t.Fatal("expected an instance id")
	}

	if _, err := market.Subscribe(ctx, "mk-user", "steady-stacker", models.ModeDryRun); err == nil {
		t.Error("expected duplicate subscription to be rejected")
	}
	if _, err := market.Subscribe(ctx, "mk-user", "no-such-agent", models.ModeDryRun); err == nil {
		t.Error("expected unknown agent to be rejected")
	}

	subs, err := market.Subscriptions(ctx, "mk-user")
	if err != nil {
		t.Fatalf("failed to list subscriptions: %v", err)
	}
	if len(subs) != 1 || !subs[0].Active {
		t.Fatalf("expected one active subscription, got %+v", subs)
	}

	if err := market.Unsubscribe(ctx, "mk-user", "steady-stacker"); err != nil {
		t.Fatalf("failed to unsubscribe: %v", err)
	}
	subs, _ = market.Subscriptions(ctx, "mk-user")
	if len(subs) != 1 || subs[0].Active {
		t.Fatalf("expected subscription to be ended, got %+v", subs)
	}
	if subs[0].EndedAt == nil {
		t.Error("expected ended_at to be stamped")
	}
	inst, _ := repo.GetInstance(ctx, instanceID)
	if inst.Status != models.AgentStopped {
		t.Errorf("expected instance stopped after unsubscribe, got %s", inst.Status)
	}

	if err := market.Unsubscribe(ctx, "mk-user", "steady-stacker"); err == nil {
		t.Error("expected unsubscribe without active subscription to fail")
	}
}

func TestTrackerMeasure(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	def, _ := Lookup("momentum-scout")
	inst, _ := repo.CreateInstance(ctx, def, "ag-user", models.ModeDryRun, nil)

	record := func(action models.DecisionAction, amountUSD, price int64) {
		t.Helper()
		_, err := repo.RecordTrade(ctx, &models.AgentTrade{
			AgentID:        inst.ID,
			UserID:         "ag-user",
			Token:          "ETH",
			Action:         action,
			AmountUSD:      decimal.NewFromInt(amountUSD),
			ExecutionPrice: decimal.NewFromInt(price),
			Status:         "executed",
		})
		if err != nil {
			t.Fatalf("failed to record trade: %v", err)
		}
	}

	// buy 1 ETH at $100, sell it at $150, then buy 2 ETH at $100
	record(models.ActionBuy, 100, 100)
	record(models.ActionSell, 150, 150)
	record(models.ActionBuy, 200, 100)

	oracle := &price.MockOracle{Prices: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(120)}}
	perf, err := NewTracker(repo, oracle).Measure(ctx, inst.ID)
	if err != nil {
		t.Fatalf("failed to measure performance: %v", err)
	}

	if perf.TotalTrades != 3 || perf.Buys != 2 || perf.Sells != 1 {
		t.Errorf("unexpected trade counts: %+v", perf)
	}
	if !perf.RealizedPnLUSD.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected $50 realized pnl, got %s", perf.RealizedPnLUSD)
	}
	if !perf.WinRatePercent.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100%% win rate, got %s", perf.WinRatePercent)
	}
	// 2 ETH held at cost $200, marked at $120 each
	if !perf.UnrealizedUSD.Equal(decimal.NewFromInt(40)) {
		t.Errorf("expected $40 unrealized pnl, got %s", perf.UnrealizedUSD)
	}
	if got := perf.OpenPositions["ETH"]; !got.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2 ETH open, got %s", got)
	}
	if !perf.TotalVolumeUSD.Equal(decimal.NewFromInt(450)) {
		t.Errorf("expected $450 volume, got %s", perf.TotalVolumeUSD)
	}
}
