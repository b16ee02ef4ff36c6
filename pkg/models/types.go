package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// Role identifies the author of a conversation entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationEntry is a single stored chat message
type ConversationEntry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      Role      `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Preferences holds per-user settings. Unknown users get Defaults().
type Preferences struct {
	UserID                string          `db:"user_id" json:"user_id"`
	DefaultChainID        int64           `db:"default_chain_id" json:"default_chain_id"`
	SlippagePercent       decimal.Decimal `db:"slippage_percent" json:"slippage_percent"`
	ConfirmThresholdUSD   decimal.Decimal `db:"confirm_threshold_usd" json:"confirm_threshold_usd"`
	MaxTransactionsPerDay int             `db:"max_tx_per_day" json:"max_tx_per_day"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences returns the record applied to unknown users.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:                userID,
		DefaultChainID:        1,
		SlippagePercent:       decimal.NewFromFloat(0.5),
		ConfirmThresholdUSD:   decimal.NewFromInt(100),
		MaxTransactionsPerDay: 10,
	}
}

// TxStatus is the transaction record state machine. Status advances
// monotonically; confirmed and failed are terminal.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSimulated TxStatus = "simulated"
	TxBroadcast TxStatus = "broadcast"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// txRank orders statuses for the monotonic-advance check.
var txRank = map[TxStatus]int{
	TxPending:   0,
	TxSimulated: 1,
	TxBroadcast: 2,
	TxConfirmed: 3,
	TxFailed:    3,
}

// CanTransition reports whether a record may move from one status to another.
func (s TxStatus) CanTransition(to TxStatus) bool {
	if s == TxConfirmed || s == TxFailed {
		return false
	}
	return txRank[to] > txRank[s]
}

// Terminal reports whether the status accepts no further transitions.
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// TxRecord is the append-only log row for every attempted on-chain action.
type TxRecord struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	ChainID           int64     `db:"chain_id" json:"chain_id"`
	FromAddress       string    `db:"from_address" json:"from_address"`
	ToAddress         string    `db:"to_address" json:"to_address"`
	Value             string    `db:"value" json:"value"`
	Hash              *string   `db:"tx_hash" json:"tx_hash,omitempty"`
	Status            TxStatus  `db:"status" json:"status"`
	SkillName         string    `db:"skill_name" json:"skill_name"`
	IntentDescription string    `db:"intent_description" json:"intent_description"`
	SimulationResult  *string   `db:"simulation_result" json:"simulation_result,omitempty"`
	GuardrailChecks   *string   `db:"guardrail_checks" json:"guardrail_checks,omitempty"`
	GasUsed           *int64    `db:"gas_used" json:"gas_used,omitempty"`
	GasPrice          *string   `db:"gas_price" json:"gas_price,omitempty"`
	BlockNumber       *int64    `db:"block_number" json:"block_number,omitempty"`
	Error             *string   `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// DCAFrequency is the cadence of a DCA job
type DCAFrequency string

const (
	FrequencyDaily   DCAFrequency = "daily"
	FrequencyWeekly  DCAFrequency = "weekly"
	FrequencyMonthly DCAFrequency = "monthly"
)

// Interval returns the wall-clock period of the cadence.
func (f DCAFrequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// DCAStatus is the DCA job state
type DCAStatus string

const (
	DCAActive    DCAStatus = "active"
	DCAPaused    DCAStatus = "paused"
	DCACancelled DCAStatus = "cancelled"
)

// DCAJob is a persisted periodic swap instruction
type DCAJob struct {
	ID            int64           `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"user_id"`
	FromToken     string          `db:"from_token" json:"from_token"`
	ToToken       string          `db:"to_token" json:"to_token"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	ChainID       int64           `db:"chain_id" json:"chain_id"`
	Frequency     DCAFrequency    `db:"frequency" json:"frequency"`
	WalletAddress string          `db:"wallet_address" json:"wallet_address"`
	Status        DCAStatus       `db:"status" json:"status"`
	FailureStreak int             `db:"failure_streak" json:"failure_streak"`
	LastRunAt     *time.Time      `db:"last_run_at" json:"last_run_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// AlertType selects the threshold comparison direction
type AlertType string

const (
	AlertPriceAbove AlertType = "price_above"
	AlertPriceBelow AlertType = "price_below"
)

// AlertStatus is the alert state; triggered is terminal
type AlertStatus string

const (
	AlertActive    AlertStatus = "active"
	AlertTriggered AlertStatus = "triggered"
)

// Alert is a one-shot price-threshold watcher
type Alert struct {
	ID          int64           `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	Type        AlertType       `db:"type" json:"type"`
	Token       string          `db:"token" json:"token"`
	Threshold   decimal.Decimal `db:"threshold" json:"threshold"`
	Status      AlertStatus     `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	TriggeredAt *time.Time      `db:"triggered_at" json:"triggered_at,omitempty"`
}

// MemoryChunk is a semantically searchable piece of user context
type MemoryChunk struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Source    string    `db:"source" json:"source"`
	Text      string    `db:"text" json:"text"`
	Embedding []float32 `db:"-" json:"-"`
	Model     string    `db:"model" json:"model"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
