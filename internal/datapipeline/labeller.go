// Package datapipeline turns executed agent trades into labelled
// training data: each trade gets a realised-outcome label per horizon,
// and labels are joined back to the reasoning that produced the trade.
package datapipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// TickInterval is how often the labeller sweeps for unlabelled trades.
const TickInterval = 15 * time.Minute

var windows = []models.OutcomeWindow{models.Window1h, models.Window24h, models.Window7d}

// Labeller labels executed agent trades with their realised outcome
// over each horizon once enough time has passed.
type Labeller struct {
	db     *database.DB
	prices *price.Repository
	now    func() time.Time
	log    *zap.Logger
}

// NewLabeller creates the labeller worker.
func NewLabeller(db *database.DB, prices *price.Repository) *Labeller {
	return &Labeller{
		db:     db,
		prices: prices,
		now:    time.Now,
		log:    logger.Named("datapipeline"),
	}
}

// Name implements worker.Worker.
func (l *Labeller) Name() string { return "outcome_labeller" }

// Run sweeps every window once. Trades whose window has not yet elapsed
// or whose price data is missing are left for a later sweep.
func (l *Labeller) Run(ctx context.Context) error {
	now := l.now().UTC()
	labelled := 0
	for _, window := range windows {
		trades, err := l.unlabelled(ctx, window, now.Add(-window.Duration()))
		if err != nil {
			return err
		}
		for i := range trades {
			ok, err := l.label(ctx, &trades[i], window)
			if err != nil {
				l.log.Warn("Failed to label trade",
					zap.Int64("trade_id", trades[i].ID),
					zap.String("window", string(window)),
					zap.Error(err))
				continue
			}
			if ok {
				labelled++
			}
		}
	}
	if labelled > 0 {
		l.log.Info("Labelled trade outcomes", zap.Int("count", labelled))
	}
	return nil
}

// unlabelled returns executed trades created before the cutoff that have
// no label for the given window yet.
func (l *Labeller) unlabelled(ctx context.Context, window models.OutcomeWindow, cutoff time.Time) ([]models.AgentTrade, error) {
	var trades []models.AgentTrade
	err := l.db.DB().SelectContext(ctx, &trades, `
		SELECT t.* FROM agent_trades t
		WHERE t.created_at <= ?
		  AND t.status != 'failed'
		  AND t.execution_price != '0'
		  AND NOT EXISTS (
			SELECT 1 FROM outcome_labels o
			WHERE o.trade_id = t.id AND o.window = ?
		  )
		ORDER BY t.created_at ASC`, cutoff, string(window))
	if err != nil {
		return nil, fmt.Errorf("failed to list unlabelled trades: %w", err)
	}
	return trades, nil
}

func (l *Labeller) label(ctx context.Context, trade *models.AgentTrade, window models.OutcomeWindow) (bool, error) {
	priceAtWindow, err := l.prices.At(ctx, trade.Token, trade.CreatedAt.Add(window.Duration()))
	if err != nil {
		// no price data yet; retry next sweep
		return false, nil
	}
	if !trade.ExecutionPrice.IsPositive() {
		return false, nil
	}

	units := trade.AmountUSD.Div(trade.ExecutionPrice)
	move := priceAtWindow.Sub(trade.ExecutionPrice)
	if trade.Action == models.ActionSell {
		// a sell profits when the price falls afterwards
		move = move.Neg()
	}
	pnlUSD := move.Mul(units).Round(8)
	pnlPercent := move.Div(trade.ExecutionPrice).Mul(decimal.NewFromInt(100)).Round(4)

	res, err := l.db.DB().ExecContext(ctx, `
		INSERT OR IGNORE INTO outcome_labels
			(trade_id, agent_id, token, action, price_at_execution, window, price_at_window, pnl_usd, pnl_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.AgentID, trade.Token, string(trade.Action),
		trade.ExecutionPrice.String(), string(window), priceAtWindow.String(),
		pnlUSD.String(), pnlPercent.String())
	if err != nil {
		return false, fmt.Errorf("failed to insert outcome label: %w", err)
	}
	labelID, err := res.LastInsertId()
	if err != nil || labelID == 0 {
		return false, err
	}

	if err := l.enrich(ctx, trade, labelID, window, pnlUSD, pnlPercent); err != nil {
		l.log.Warn("Failed to enrich reasoning", zap.Int64("trade_id", trade.ID), zap.Error(err))
	}
	return true, nil
}

// enrich joins the label back to the reasoning trace closest before the
// trade, producing one training example row.
func (l *Labeller) enrich(ctx context.Context, trade *models.AgentTrade, labelID int64, window models.OutcomeWindow, pnlUSD, pnlPercent decimal.Decimal) error {
	var trace models.ReasoningTrace
	err := l.db.DB().GetContext(ctx, &trace, `
		SELECT * FROM reasoning_traces
		WHERE agent_id = ? AND created_at <= ?
		ORDER BY created_at DESC LIMIT 1`,
		trade.AgentID, trade.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find reasoning trace: %w", err)
	}

	payload, err := json.Marshal(TrainingExample{
		AgentID:    trade.AgentID,
		Token:      trade.Token,
		Action:     trade.Action,
		Context:    json.RawMessage(trace.ContextJSON),
		Decisions:  json.RawMessage(trace.DecisionsJSON),
		Reasoning:  trace.Reasoning,
		Window:     window,
		PnLUSD:     pnlUSD,
		PnLPercent: pnlPercent,
	})
	if err != nil {
		return err
	}
	_, err = l.db.DB().ExecContext(ctx, `
		INSERT INTO enriched_reasoning (trace_id, label_id, payload)
		VALUES (?, ?, ?)`, trace.ID, labelID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert enriched reasoning: %w", err)
	}
	return nil
}
