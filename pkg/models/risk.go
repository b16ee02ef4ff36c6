package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel buckets the combined 0-100 score
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore buckets a combined score.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score < 25:
		return RiskSafe
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// TokenSafetyReport is the normalised external safety report for a contract
type TokenSafetyReport struct {
	Address           string          `json:"address"`
	ChainID           int64           `json:"chain_id"`
	IsHoneypot        bool            `json:"is_honeypot"`
	BuyTaxPercent     decimal.Decimal `json:"buy_tax_percent"`
	SellTaxPercent    decimal.Decimal `json:"sell_tax_percent"`
	OwnerCanMint      bool            `json:"owner_can_mint"`
	OwnerCanPause     bool            `json:"owner_can_pause"`
	OwnerCanBlacklist bool            `json:"owner_can_blacklist"`
	TopHolderPercent  decimal.Decimal `json:"top_holder_percent"`
	IsOpenSource      bool            `json:"is_open_source"`
	IsProxy           bool            `json:"is_proxy"`
}

// SourceFinding is one pattern hit from the contract source scanner
type SourceFinding struct {
	Pattern     string `json:"pattern"`
	Severity    int    `json:"severity"`
	Description string `json:"description"`
}

// RiskReport is the combined assessment for a contract address
type RiskReport struct {
	Address        string             `json:"address"`
	ChainID        int64              `json:"chain_id"`
	Score          int                `json:"score"`
	Level          RiskLevel          `json:"level"`
	Safety         *TokenSafetyReport `json:"safety,omitempty"`
	SourceFindings []SourceFinding    `json:"source_findings,omitempty"`
	Summary        string             `json:"summary"`
	CachedAt       time.Time          `json:"cached_at"`
}

// BlockVerdict is the answer to shouldBlock
type BlockVerdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// HistoricalPrice is one daily close used by backtests and outcome labelling
type HistoricalPrice struct {
	ID       int64           `db:"id" json:"id"`
	Token    string          `db:"token" json:"token"`
	Day      time.Time       `db:"day" json:"day"`
	PriceUSD decimal.Decimal `db:"price_usd" json:"price_usd"`
}
