package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentMode selects whether decisions touch the transaction pipeline
type AgentMode string

const (
	ModeDryRun AgentMode = "dry_run"
	ModeLive   AgentMode = "live"
)

// AgentStatus is the lifecycle state of a running instance
type AgentStatus string

const (
	AgentRunning AgentStatus = "running"
	AgentPaused  AgentStatus = "paused"
	AgentStopped AgentStatus = "stopped"
)

// DecisionAction is what a strategy wants to do with a token
type DecisionAction string

const (
	ActionBuy  DecisionAction = "buy"
	ActionSell DecisionAction = "sell"
	ActionHold DecisionAction = "hold"
)

// RiskParams cap what an autonomous agent may do per evaluation and per day.
type RiskParams struct {
	MaxPositionUSD   decimal.Decimal `json:"max_position_usd"`
	MaxDailyTrades   int             `json:"max_daily_trades"`
	MaxDailyExposure decimal.Decimal `json:"max_daily_exposure_usd"`
	BlockedTokens    []string        `json:"blocked_tokens,omitempty"`
}

// EvalContext is the input to a strategy evaluation. Live runs fill it from
// current market state; backtests fill it from the historical series. The
// shape is identical in both so strategies cannot tell them apart.
type EvalContext struct {
	Now          time.Time                  `json:"now"`
	Prices       map[string]decimal.Decimal `json:"prices"`
	PriceHistory map[string][]float64       `json:"price_history,omitempty"`
	Portfolio    map[string]decimal.Decimal `json:"portfolio"`
	CashUSD      decimal.Decimal            `json:"cash_usd"`
	RecentTrades []AgentTrade               `json:"recent_trades,omitempty"`
	Knowledge    map[string]string          `json:"knowledge,omitempty"`
}

// Decision is a single strategy output
type Decision struct {
	Action    DecisionAction  `json:"action"`
	Token     string          `json:"token"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reasoning string          `json:"reasoning"`
}

// Strategy pairs a watchlist with a pure evaluation function.
type Strategy struct {
	Watchlist          []string
	EvaluationInterval time.Duration
	Evaluate           func(ctx *EvalContext) []Decision
}

// AgentDefinition is a declarative agent; a value, not a row. Instances are
// created per subscription or run.
type AgentDefinition struct {
	Name             string
	Version          string
	Description      string
	Author           string
	Category         string
	Skills           []string
	KnowledgeSources []string
	RiskParams       RiskParams
	Strategy         Strategy
}

// AgentInstance is one running (or stopped) instantiation of a definition
type AgentInstance struct {
	ID        string      `db:"id" json:"id"`
	AgentName string      `db:"agent_name" json:"agent_name"`
	Version   string      `db:"version" json:"version"`
	UserID    string      `db:"user_id" json:"user_id"`
	Mode      AgentMode   `db:"mode" json:"mode"`
	Config    string      `db:"config_options" json:"config_options"`
	Status    AgentStatus `db:"status" json:"status"`
	StartedAt time.Time   `db:"started_at" json:"started_at"`
	StoppedAt *time.Time  `db:"stopped_at" json:"stopped_at,omitempty"`
}

// AgentTrade is a decision that survived risk checks and was executed
// (dry-run or live)
type AgentTrade struct {
	ID             int64           `db:"id" json:"id"`
	AgentID        string          `db:"agent_id" json:"agent_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	Token          string          `db:"token" json:"token"`
	Action         DecisionAction  `db:"action" json:"action"`
	AmountUSD      decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	ExecutionPrice decimal.Decimal `db:"execution_price" json:"execution_price"`
	Status         string          `db:"status" json:"status"`
	TxID           *string         `db:"tx_id" json:"tx_id,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// ReasoningTrace records why an agent decided what it decided
type ReasoningTrace struct {
	ID            int64     `db:"id" json:"id"`
	AgentID       string    `db:"agent_id" json:"agent_id"`
	ContextJSON   string    `db:"context_json" json:"context_json"`
	DecisionsJSON string    `db:"decisions_json" json:"decisions_json"`
	Reasoning     string    `db:"reasoning" json:"reasoning"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// OutcomeWindow is the horizon over which a trade outcome is labelled
type OutcomeWindow string

const (
	Window1h  OutcomeWindow = "1h"
	Window24h OutcomeWindow = "24h"
	Window7d  OutcomeWindow = "7d"
)

// Duration returns the wall-clock length of the window.
func (w OutcomeWindow) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// OutcomeLabel is the realised PnL of an agent trade over a window.
// Unique per (trade, window).
type OutcomeLabel struct {
	ID               int64           `db:"id" json:"id"`
	TradeID          int64           `db:"trade_id" json:"trade_id"`
	AgentID          string          `db:"agent_id" json:"agent_id"`
	Token            string          `db:"token" json:"token"`
	Action           DecisionAction  `db:"action" json:"action"`
	PriceAtExecution decimal.Decimal `db:"price_at_execution" json:"price_at_execution"`
	Window           OutcomeWindow   `db:"window" json:"window"`
	PriceAtWindow    decimal.Decimal `db:"price_at_window" json:"price_at_window"`
	PnLUSD           decimal.Decimal `db:"pnl_usd" json:"pnl_usd"`
	PnLPercent       decimal.Decimal `db:"pnl_percent" json:"pnl_percent"`
	LabeledAt        time.Time       `db:"labeled_at" json:"labeled_at"`
}

// Subscription ties a user to a marketplace agent
type Subscription struct {
	ID        int64      `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	AgentName string     `db:"agent_name" json:"agent_name"`
	Version   string     `db:"version" json:"version"`
	Active    bool       `db:"active" json:"active"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}
