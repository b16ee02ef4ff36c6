package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// TradeSubmitter pushes a live decision through the transaction pipeline
// and returns the resulting tx record id and final status.
type TradeSubmitter interface {
	SubmitTrade(ctx context.Context, inst *models.AgentInstance, decision *models.Decision, executionPrice decimal.Decimal) (txID string, status string, err error)
}

// PortfolioSource snapshots a user's holdings for the evaluation context.
type PortfolioSource interface {
	Snapshot(ctx context.Context, userID string) (holdings map[string]decimal.Decimal, cashUSD decimal.Decimal, err error)
}

// Runner owns one evaluation loop per running agent instance.
type Runner struct {
	repo      *Repository
	prices    *price.Repository
	oracle    price.Oracle
	portfolio PortfolioSource
	submitter TradeSubmitter // nil forces dry-run behaviour
	bus       *hooks.Bus
	log       *zap.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	paused *paused
}

type paused struct {
	mu sync.RWMutex
	v  bool
}

func (p *paused) get() bool  { p.mu.RLock(); defer p.mu.RUnlock(); return p.v }
func (p *paused) set(v bool) { p.mu.Lock(); p.v = v; p.mu.Unlock() }

// NewRunner wires the runner.
func NewRunner(repo *Repository, prices *price.Repository, oracle price.Oracle, portfolio PortfolioSource, submitter TradeSubmitter, bus *hooks.Bus) *Runner {
	return &Runner{
		repo:      repo,
		prices:    prices,
		oracle:    oracle,
		portfolio: portfolio,
		submitter: submitter,
		bus:       bus,
		log:       logger.Named("agents"),
		loops:     make(map[string]*loop),
	}
}

// StartAgent instantiates a definition and launches its loop.
func (r *Runner) StartAgent(ctx context.Context, def *models.AgentDefinition, userID string, mode models.AgentMode, config map[string]interface{}) (string, error) {
	if def.Strategy.Evaluate == nil {
		return "", fmt.Errorf("agent %s has no evaluation function", def.Name)
	}
	inst, err := r.repo.CreateInstance(ctx, def, userID, mode, config)
	if err != nil {
		return "", err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{}), paused: &paused{}}
	r.mu.Lock()
	r.loops[inst.ID] = l
	r.mu.Unlock()

	go r.run(loopCtx, l, def, inst)

	r.log.Info("🚀 Agent started",
		zap.String("agent_id", inst.ID),
		zap.String("agent", def.Name),
		zap.String("user_id", userID),
		zap.String("mode", string(mode)))
	return inst.ID, nil
}

// PauseAgent suspends evaluation without tearing the loop down. Idempotent.
func (r *Runner) PauseAgent(ctx context.Context, id string) error {
	r.mu.Lock()
	l, ok := r.loops[id]
	r.mu.Unlock()
	if ok {
		l.paused.set(true)
	}
	return r.repo.SetInstanceStatus(ctx, id, models.AgentPaused)
}

// ResumeAgent reverses PauseAgent. Idempotent.
func (r *Runner) ResumeAgent(ctx context.Context, id string) error {
	r.mu.Lock()
	l, ok := r.loops[id]
	r.mu.Unlock()
	if ok {
		l.paused.set(false)
	}
	return r.repo.SetInstanceStatus(ctx, id, models.AgentRunning)
}

// StopAgent tears the loop down. Idempotent.
func (r *Runner) StopAgent(ctx context.Context, id string) error {
	r.mu.Lock()
	l, ok := r.loops[id]
	delete(r.loops, id)
	r.mu.Unlock()
	if ok {
		l.cancel()
		<-l.done
	}
	return r.repo.SetInstanceStatus(ctx, id, models.AgentStopped)
}

// StopAll drains every loop; called during shutdown.
func (r *Runner) StopAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.StopAgent(ctx, id); err != nil {
			r.log.Warn("Failed to stop agent", zap.String("agent_id", id), zap.Error(err))
		}
	}
}

func (r *Runner) run(ctx context.Context, l *loop, def *models.AgentDefinition, inst *models.AgentInstance) {
	defer close(l.done)

	interval := def.Strategy.EvaluationInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.paused.get() {
				continue
			}
			if err := r.Evaluate(ctx, def, inst); err != nil {
				r.log.Warn("Agent evaluation failed",
					zap.String("agent_id", inst.ID),
					zap.Error(err))
			}
		}
	}
}

// Evaluate runs one evaluation cycle: build context, evaluate, trace,
// risk-check and execute surviving decisions.
func (r *Runner) Evaluate(ctx context.Context, def *models.AgentDefinition, inst *models.AgentInstance) error {
	evalCtx, err := r.buildContext(ctx, def, inst)
	if err != nil {
		return err
	}

	decisions := def.Strategy.Evaluate(evalCtx)

	reasons := make([]string, 0, len(decisions))
	for _, d := range decisions {
		reasons = append(reasons, fmt.Sprintf("%s %s: %s", d.Action, d.Token, d.Reasoning))
	}
	if err := r.repo.RecordTrace(ctx, inst.ID, evalCtx, decisions, strings.Join(reasons, "; ")); err != nil {
		r.log.Warn("Failed to record reasoning trace", zap.String("agent_id", inst.ID), zap.Error(err))
	}

	for i := range decisions {
		decision := &decisions[i]
		if decision.Action == models.ActionHold {
			continue
		}
		if reason, ok := r.allows(ctx, def, inst, decision); !ok {
			r.log.Info("Decision rejected by risk params",
				zap.String("agent_id", inst.ID),
				zap.String("token", decision.Token),
				zap.String("reason", reason))
			continue
		}
		if err := r.execute(ctx, inst, decision, evalCtx); err != nil {
			r.log.Warn("Failed to execute agent decision",
				zap.String("agent_id", inst.ID),
				zap.String("token", decision.Token),
				zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) buildContext(ctx context.Context, def *models.AgentDefinition, inst *models.AgentInstance) (*models.EvalContext, error) {
	evalCtx := &models.EvalContext{
		Now:          time.Now().UTC(),
		Prices:       make(map[string]decimal.Decimal),
		PriceHistory: make(map[string][]float64),
		Portfolio:    make(map[string]decimal.Decimal),
		CashUSD:      decimal.Zero,
		Knowledge:    make(map[string]string),
	}

	for _, token := range def.Strategy.Watchlist {
		current, err := r.oracle.GetTokenPrice(ctx, token)
		if err != nil {
			r.log.Warn("Price lookup failed for watchlist token",
				zap.String("token", token), zap.Error(err))
			continue
		}
		evalCtx.Prices[token] = current

		if r.prices != nil {
			series, err := r.prices.Series(ctx, token, evalCtx.Now.AddDate(0, 0, -30), evalCtx.Now)
			if err == nil {
				history := make([]float64, 0, len(series))
				for _, p := range series {
					f, _ := p.PriceUSD.Float64()
					history = append(history, f)
				}
				evalCtx.PriceHistory[token] = history
			}
		}
	}

	if r.portfolio != nil {
		holdings, cash, err := r.portfolio.Snapshot(ctx, inst.UserID)
		if err == nil {
			evalCtx.Portfolio = holdings
			evalCtx.CashUSD = cash
		}
	}

	trades, err := r.repo.TradesSince(ctx, inst.ID, evalCtx.Now.Add(-24*time.Hour))
	if err == nil {
		evalCtx.RecentTrades = trades
	}

	for _, source := range def.KnowledgeSources {
		// knowledge sources resolve to the last observed value; absent
		// sources simply stay out of the map
		evalCtx.Knowledge[source] = ""
	}
	return evalCtx, nil
}

// allows applies the definition's risk parameters to one decision.
func (r *Runner) allows(ctx context.Context, def *models.AgentDefinition, inst *models.AgentInstance, decision *models.Decision) (string, bool) {
	rp := def.RiskParams
	for _, blocked := range rp.BlockedTokens {
		if strings.EqualFold(blocked, decision.Token) {
			return "token is blocked for this agent", false
		}
	}
	if rp.MaxPositionUSD.IsPositive() && decision.AmountUSD.GreaterThan(rp.MaxPositionUSD) {
		return fmt.Sprintf("amount $%s exceeds position cap $%s", decision.AmountUSD, rp.MaxPositionUSD), false
	}

	trades, err := r.repo.TradesSince(ctx, inst.ID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return "could not verify daily limits", false
	}
	if rp.MaxDailyTrades > 0 && len(trades) >= rp.MaxDailyTrades {
		return fmt.Sprintf("daily trade cap of %d reached", rp.MaxDailyTrades), false
	}
	if rp.MaxDailyExposure.IsPositive() {
		exposure := decimal.Zero
		for _, t := range trades {
			exposure = exposure.Add(t.AmountUSD)
		}
		if exposure.Add(decision.AmountUSD).GreaterThan(rp.MaxDailyExposure) {
			return fmt.Sprintf("daily exposure cap $%s reached", rp.MaxDailyExposure), false
		}
	}
	return "", true
}

func (r *Runner) execute(ctx context.Context, inst *models.AgentInstance, decision *models.Decision, evalCtx *models.EvalContext) error {
	executionPrice := evalCtx.Prices[decision.Token]

	trade := &models.AgentTrade{
		AgentID:        inst.ID,
		UserID:         inst.UserID,
		Token:          decision.Token,
		Action:         decision.Action,
		AmountUSD:      decision.AmountUSD,
		ExecutionPrice: executionPrice,
		Status:         "executed",
	}

	if inst.Mode == models.ModeLive && r.submitter != nil {
		txID, status, err := r.submitter.SubmitTrade(ctx, inst, decision, executionPrice)
		if err != nil {
			return err
		}
		trade.TxID = &txID
		trade.Status = status
	}

	if _, err := r.repo.RecordTrade(ctx, trade); err != nil {
		return err
	}

	if r.bus != nil {
		payload, _ := json.Marshal(decision)
		r.bus.Emit(ctx, hooks.Event{
			Category: "agent",
			Action:   "decision",
			Payload: map[string]interface{}{
				"agent_id": inst.ID,
				"decision": string(payload),
				"mode":     string(inst.Mode),
			},
		})
	}
	return nil
}
