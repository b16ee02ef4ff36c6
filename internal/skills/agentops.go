package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/backtest"
	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// BacktestSkill replays a marketplace agent against historical prices.
func BacktestSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "backtest",
		Description: "Backtest a marketplace agent against historical prices.",
		Schema: Schema{
			"agent":            {Type: TypeString, Description: "Agent definition name.", Required: true},
			"days":             {Type: TypeInteger, Description: "Lookback window in days.", Min: floatPtr(2), Max: floatPtr(365)},
			"capital":          {Type: TypeNumber, Description: "Starting capital in USD.", Min: floatPtr(1)},
			"fee_percent":      {Type: TypeNumber, Description: "Per-trade fee percent.", Min: floatPtr(0), Max: floatPtr(10)},
			"slippage_percent": {Type: TypeNumber, Description: "Per-trade slippage percent.", Min: floatPtr(0), Max: floatPtr(10)},
			"benchmark":        {Type: TypeString, Description: "Benchmark token for alpha."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			def, err := agents.Lookup(params["agent"].(string))
			if err != nil {
				return nil, errs.Config("agent", err.Error())
			}

			days := int64(30)
			if v, ok := params["days"].(int64); ok {
				days = v
			}
			capital := decimal.NewFromInt(10_000)
			if v, ok := params["capital"].(float64); ok {
				capital = decimal.NewFromFloat(v)
			}
			fee := decimal.RequireFromString("0.3")
			if v, ok := params["fee_percent"].(float64); ok {
				fee = decimal.NewFromFloat(v)
			}
			slippage := decimal.RequireFromString("0.5")
			if v, ok := params["slippage_percent"].(float64); ok {
				slippage = decimal.NewFromFloat(v)
			}
			benchmark, _ := params["benchmark"].(string)

			end := time.Now().UTC()
			res, err := deps.Tests.Run(ctx, def, backtest.Config{
				StartDate:          end.AddDate(0, 0, -int(days)),
				EndDate:            end,
				StartingCapitalUSD: capital,
				FeePercent:         fee,
				SlippagePercent:    slippage,
				BenchmarkToken:     strings.ToUpper(benchmark),
			})
			if err != nil {
				return nil, fmt.Errorf("backtest failed: %w", err)
			}

			m := res.Metrics
			var b strings.Builder
			b.WriteString(fmt.Sprintf("📈 Backtest: %s over %d days\n", def.Name, days))
			b.WriteString(fmt.Sprintf("Return: %s%%  Max drawdown: %s%%  Sharpe: %s\n",
				m.TotalReturnPercent, m.MaxDrawdownPercent, m.SharpeRatio))
			b.WriteString(fmt.Sprintf("Trades: %d (%d profitable, win rate %s%%)",
				m.TotalTrades, m.ProfitableTrades, m.WinRatePercent))
			if benchmark != "" {
				b.WriteString(fmt.Sprintf("\nBenchmark %s: %s%% (alpha %s%%)",
					strings.ToUpper(benchmark), m.BenchmarkReturnPercent, m.AlphaPercent))
			}

			return &Result{
				Success: true,
				Message: b.String(),
				Data: map[string]interface{}{
					"total_return_percent": m.TotalReturnPercent.String(),
					"total_trades":         m.TotalTrades,
					"duration_ms":          res.DurationMs,
				},
			}, nil
		},
	}
}

// AgentSkill manages the caller's autonomous agent instances.
func AgentSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "agent",
		Description: "Start, pause, resume, stop or inspect your autonomous agents.",
		Schema: Schema{
			"action":   {Type: TypeString, Description: "What to do.", Required: true, Enum: []string{"start", "pause", "resume", "stop", "list", "status"}},
			"agent":    {Type: TypeString, Description: "Agent definition name (start only)."},
			"agent_id": {Type: TypeString, Description: "Instance id (pause/resume/stop/status)."},
			"mode":     {Type: TypeString, Description: "Execution mode (start only).", Enum: []string{"dry_run", "live"}},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			switch params["action"].(string) {
			case "start":
				name, _ := params["agent"].(string)
				def, err := agents.Lookup(name)
				if err != nil {
					return nil, errs.Config("agent", err.Error())
				}
				mode := models.ModeDryRun
				if m, ok := params["mode"].(string); ok && m != "" {
					mode = models.AgentMode(m)
				}
				id, err := deps.Agents.StartAgent(ctx, def, sc.UserID, mode, nil)
				if err != nil {
					return nil, err
				}
				return &Result{
					Success: true,
					Message: fmt.Sprintf("🚀 Agent %s started in %s mode (id %s).", def.Name, mode, id),
					Data:    map[string]interface{}{"agent_id": id},
				}, nil

			case "list":
				instances, err := deps.AgentRepo.ListInstancesByUser(ctx, sc.UserID)
				if err != nil {
					return nil, err
				}
				if len(instances) == 0 {
					return &Result{Success: true, Message: "You have no agents."}, nil
				}
				var b strings.Builder
				b.WriteString("🤖 Your agents:")
				for _, inst := range instances {
					b.WriteString(fmt.Sprintf("\n  %s %s (%s) [%s]", inst.ID, inst.AgentName, inst.Mode, inst.Status))
				}
				return &Result{Success: true, Message: b.String()}, nil

			case "status":
				inst, err := ownedInstance(ctx, deps, sc, params)
				if err != nil {
					return nil, err
				}
				perf, err := deps.Tracker.Measure(ctx, inst.ID)
				if err != nil {
					return nil, err
				}
				var b strings.Builder
				b.WriteString(fmt.Sprintf("🤖 %s (%s) [%s]\n", inst.AgentName, inst.Mode, inst.Status))
				b.WriteString(fmt.Sprintf("Trades: %d  Realized PnL: $%s  Unrealized: $%s",
					perf.TotalTrades, perf.RealizedPnLUSD.Round(2), perf.UnrealizedUSD.Round(2)))
				if perf.Sells > 0 {
					b.WriteString(fmt.Sprintf("  Win rate: %s%%", perf.WinRatePercent))
				}
				return &Result{Success: true, Message: b.String()}, nil

			default: // pause, resume, stop
				action := params["action"].(string)
				inst, err := ownedInstance(ctx, deps, sc, params)
				if err != nil {
					return nil, err
				}
				switch action {
				case "pause":
					err = deps.Agents.PauseAgent(ctx, inst.ID)
				case "resume":
					err = deps.Agents.ResumeAgent(ctx, inst.ID)
				case "stop":
					err = deps.Agents.StopAgent(ctx, inst.ID)
				}
				if err != nil {
					return nil, err
				}
				return &Result{Success: true, Message: fmt.Sprintf("✅ Agent %s %sd.", inst.AgentName, action)}, nil
			}
		},
	}
}

func ownedInstance(ctx context.Context, deps *Deps, sc *Context, params map[string]interface{}) (*models.AgentInstance, error) {
	id, ok := params["agent_id"].(string)
	if !ok || id == "" {
		return nil, errs.Config("agent", "agent_id is required")
	}
	inst, err := deps.AgentRepo.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != sc.UserID {
		return nil, errs.Config("agent", "agent not found")
	}
	return inst, nil
}

// MarketplaceSkill browses and manages agent subscriptions.
func MarketplaceSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "marketplace",
		Description: "Browse the agent marketplace and manage subscriptions.",
		Schema: Schema{
			"action": {Type: TypeString, Description: "What to do.", Required: true, Enum: []string{"browse", "subscribe", "unsubscribe", "subscriptions"}},
			"agent":  {Type: TypeString, Description: "Agent name (subscribe/unsubscribe)."},
			"mode":   {Type: TypeString, Description: "Execution mode for the subscription.", Enum: []string{"dry_run", "live"}},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			switch params["action"].(string) {
			case "browse":
				var b strings.Builder
				b.WriteString("🏪 Agent marketplace:")
				for _, def := range deps.Market.Browse() {
					b.WriteString(fmt.Sprintf("\n\n%s v%s (%s)\n  %s", def.Name, def.Version, def.Category, def.Description))
				}
				return &Result{Success: true, Message: b.String()}, nil

			case "subscribe":
				name, _ := params["agent"].(string)
				if name == "" {
					return nil, errs.Config("marketplace", "subscribe needs an agent name")
				}
				mode := models.ModeDryRun
				if m, ok := params["mode"].(string); ok && m != "" {
					mode = models.AgentMode(m)
				}
				id, err := deps.Market.Subscribe(ctx, sc.UserID, name, mode)
				if err != nil {
					return nil, err
				}
				return &Result{
					Success: true,
					Message: fmt.Sprintf("✅ Subscribed to %s; instance %s is running in %s mode.", name, id, mode),
					Data:    map[string]interface{}{"agent_id": id},
				}, nil

			case "unsubscribe":
				name, _ := params["agent"].(string)
				if name == "" {
					return nil, errs.Config("marketplace", "unsubscribe needs an agent name")
				}
				if err := deps.Market.Unsubscribe(ctx, sc.UserID, name); err != nil {
					return nil, err
				}
				return &Result{Success: true, Message: fmt.Sprintf("✅ Unsubscribed from %s.", name)}, nil

			default: // subscriptions
				subs, err := deps.Market.Subscriptions(ctx, sc.UserID)
				if err != nil {
					return nil, err
				}
				if len(subs) == 0 {
					return &Result{Success: true, Message: "You have no subscriptions."}, nil
				}
				var b strings.Builder
				b.WriteString("📋 Your subscriptions:")
				for _, s := range subs {
					state := "ended"
					if s.Active {
						state = "active"
					}
					b.WriteString(fmt.Sprintf("\n  %s v%s [%s]", s.AgentName, s.Version, state))
				}
				return &Result{Success: true, Message: b.String()}, nil
			}
		},
	}
}
