package skills

import (
	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/internal/adapters/dexapi"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/alerts"
	"github.com/chainclaw/chainclaw/internal/backtest"
	"github.com/chainclaw/chainclaw/internal/cron"
	"github.com/chainclaw/chainclaw/internal/dca"
	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/internal/txlog"
)

// Deps bundles the subsystems the built-in skills delegate to. Optional
// fields may be nil; skills degrade (quote-only, friendly error) rather
// than panic.
type Deps struct {
	Chains    *chain.Registry
	Oracle    price.Oracle
	Pipe      *pipeline.Pipeline // nil → quote-only mode
	DEX       dexapi.DEXAggregator
	Bridge    dexapi.BridgeAggregator
	Lending   dexapi.LendingSource
	Yields    dexapi.YieldSource
	DCA       *dca.Repository
	Alerts    *alerts.Repository
	Cron      *cron.Repository
	CronPoke  func() // rearms the scheduler timer after a job mutation
	Risk      *risk.Engine
	Txs       *txlog.Repository
	Tests     *backtest.Engine
	Agents    *agents.Runner
	AgentRepo *agents.Repository
	Market    *agents.Marketplace
	Tracker   *agents.Tracker
}

// RegisterAll registers the 14 built-in skills. The schedule and
// workflow skills get the registry handle last so they can dispatch to
// the others.
func RegisterAll(reg *Registry, deps *Deps) error {
	all := []*Skill{
		BalanceSkill(deps),
		PortfolioSkill(deps),
		SwapSkill(deps),
		BridgeSkill(deps),
		LendSkill(deps),
		DCASkill(deps),
		AlertSkill(deps),
		RiskCheckSkill(deps),
		HistorySkill(deps),
		BacktestSkill(deps),
		AgentSkill(deps),
		MarketplaceSkill(deps),
	}
	for _, s := range all {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	if err := reg.Register(ScheduleSkill(deps, reg)); err != nil {
		return err
	}
	return reg.Register(WorkflowSkill(reg))
}
