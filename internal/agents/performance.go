package agents

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Performance summarises how an agent instance has traded. Realised PnL
// pairs each sell with the average cost of the buys before it; unrealised
// marks remaining positions at the latest known price.
type Performance struct {
	AgentID        string                     `json:"agent_id"`
	TotalTrades    int                        `json:"total_trades"`
	Buys           int                        `json:"buys"`
	Sells          int                        `json:"sells"`
	WinningTrades  int                        `json:"winning_trades"`
	WinRatePercent decimal.Decimal            `json:"win_rate_percent"`
	RealizedPnLUSD decimal.Decimal            `json:"realized_pnl_usd"`
	UnrealizedUSD  decimal.Decimal            `json:"unrealized_pnl_usd"`
	TotalVolumeUSD decimal.Decimal            `json:"total_volume_usd"`
	FirstTradeAt   *time.Time                 `json:"first_trade_at,omitempty"`
	LastTradeAt    *time.Time                 `json:"last_trade_at,omitempty"`
	OpenPositions  map[string]decimal.Decimal `json:"open_positions,omitempty"`
}

// Tracker computes agent performance from the trade log.
type Tracker struct {
	repo   *Repository
	oracle price.Oracle
}

// NewTracker creates a performance tracker. The oracle may be nil, in
// which case unrealised PnL is reported as zero.
func NewTracker(repo *Repository, oracle price.Oracle) *Tracker {
	return &Tracker{repo: repo, oracle: oracle}
}

type position struct {
	units   decimal.Decimal
	costUSD decimal.Decimal
}

// Measure replays the agent's trades oldest-first and reports the result.
func (t *Tracker) Measure(ctx context.Context, agentID string) (*Performance, error) {
	trades, err := t.repo.TradesByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	perf := &Performance{
		AgentID:       agentID,
		OpenPositions: map[string]decimal.Decimal{},
	}
	positions := map[string]*position{}

	for i := range trades {
		tr := &trades[i]
		perf.TotalTrades++
		perf.TotalVolumeUSD = perf.TotalVolumeUSD.Add(tr.AmountUSD)
		if perf.FirstTradeAt == nil {
			at := tr.CreatedAt
			perf.FirstTradeAt = &at
		}
		at := tr.CreatedAt
		perf.LastTradeAt = &at

		if tr.ExecutionPrice.IsZero() {
			continue
		}
		units := tr.AmountUSD.Div(tr.ExecutionPrice)

		switch tr.Action {
		case models.ActionBuy:
			perf.Buys++
			pos := positions[tr.Token]
			if pos == nil {
				pos = &position{}
				positions[tr.Token] = pos
			}
			pos.units = pos.units.Add(units)
			pos.costUSD = pos.costUSD.Add(tr.AmountUSD)

		case models.ActionSell:
			perf.Sells++
			pos := positions[tr.Token]
			if pos == nil || pos.units.IsZero() {
				continue
			}
			sold := units
			if sold.GreaterThan(pos.units) {
				sold = pos.units
			}
			avgCost := pos.costUSD.Div(pos.units)
			costBasis := avgCost.Mul(sold)
			proceeds := sold.Mul(tr.ExecutionPrice)
			pnl := proceeds.Sub(costBasis)
			perf.RealizedPnLUSD = perf.RealizedPnLUSD.Add(pnl)
			if pnl.IsPositive() {
				perf.WinningTrades++
			}
			pos.units = pos.units.Sub(sold)
			pos.costUSD = pos.costUSD.Sub(costBasis)
		}
	}

	if perf.Sells > 0 {
		perf.WinRatePercent = decimal.NewFromInt(int64(perf.WinningTrades)).
			Div(decimal.NewFromInt(int64(perf.Sells))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	for token, pos := range positions {
		if pos.units.IsZero() {
			continue
		}
		perf.OpenPositions[token] = pos.units
		if t.oracle == nil {
			continue
		}
		current, err := t.oracle.GetTokenPrice(ctx, token)
		if err != nil {
			continue
		}
		perf.UnrealizedUSD = perf.UnrealizedUSD.Add(pos.units.Mul(current).Sub(pos.costUSD))
	}

	return perf, nil
}
