// Package risk scores counterparty contracts before any value moves.
// A combined score from the external safety report, the source-pattern
// scanner, and per-user lists decides whether a transaction is blocked.
package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/security"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// DefaultAutoBlockThreshold blocks anything scored high or worse.
const DefaultAutoBlockThreshold = 75

// Engine assembles risk reports and answers shouldBlock.
type Engine struct {
	safety    security.SafetyAPI
	source    security.SourceAPI
	cache     *CacheRepository
	lists     *ListRepository
	threshold int
	log       *zap.Logger
}

// NewEngine wires the engine. A nil source API skips the source scan.
func NewEngine(db *database.DB, safety security.SafetyAPI, source security.SourceAPI, autoBlockThreshold int) *Engine {
	if autoBlockThreshold <= 0 {
		autoBlockThreshold = DefaultAutoBlockThreshold
	}
	return &Engine{
		safety:    safety,
		source:    source,
		cache:     NewCacheRepository(db),
		lists:     NewListRepository(db),
		threshold: autoBlockThreshold,
		log:       logger.Named("risk"),
	}
}

// Lists exposes the per-user allow/block list repository.
func (e *Engine) Lists() *ListRepository { return e.lists }

// Assess returns the combined report for a contract, from cache when fresh.
func (e *Engine) Assess(ctx context.Context, chainID int64, address string) (*models.RiskReport, error) {
	address = strings.ToLower(address)

	if cached, ok, err := e.cache.Get(ctx, chainID, address); err != nil {
		e.log.Warn("Risk cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	report := &models.RiskReport{Address: address, ChainID: chainID}
	score := 0

	safety, err := e.safety.FetchReport(ctx, chainID, address)
	if err != nil {
		// an unreachable safety API must not unblock trading: score
		// the unknown conservatively
		e.log.Warn("Safety report fetch failed",
			zap.String("address", address), zap.Error(err))
		score += 40
		report.Summary = "safety report unavailable, treating as elevated risk"
	} else {
		report.Safety = safety
		score += scoreSafety(safety)
	}

	if e.source != nil {
		src, err := e.source.FetchSource(ctx, chainID, address)
		if err != nil {
			e.log.Warn("Source fetch failed",
				zap.String("address", address), zap.Error(err))
		} else {
			findings := ScanSource(src)
			report.SourceFindings = findings
			for _, f := range findings {
				score += f.Severity
			}
		}
	}

	if score > 100 {
		score = 100
	}
	report.Score = score
	report.Level = models.RiskLevelForScore(score)
	if report.Summary == "" {
		report.Summary = summarise(report)
	}

	if err := e.cache.Put(ctx, report); err != nil {
		e.log.Warn("Risk cache write failed", zap.Error(err))
	}
	return report, nil
}

// ShouldBlock decides whether a transaction to address may proceed.
// User blocklist and honeypot classification are hard blocks; the user
// allowlist bypasses the score check but never the honeypot check.
func (e *Engine) ShouldBlock(ctx context.Context, userID string, chainID int64, address string) (*models.BlockVerdict, error) {
	address = strings.ToLower(address)

	kind, listed, err := e.lists.Lookup(ctx, userID, address)
	if err != nil {
		return nil, err
	}
	if listed && kind == ListBlock {
		return &models.BlockVerdict{Blocked: true, Reason: "address is on your blocklist"}, nil
	}

	report, err := e.Assess(ctx, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to assess %s: %w", address, err)
	}

	if report.Safety != nil && report.Safety.IsHoneypot {
		return &models.BlockVerdict{Blocked: true, Reason: "token is classified as a honeypot"}, nil
	}
	if listed && kind == ListAllow {
		return &models.BlockVerdict{Blocked: false}, nil
	}
	if report.Score >= e.threshold {
		return &models.BlockVerdict{
			Blocked: true,
			Reason:  fmt.Sprintf("risk score %d (%s) exceeds the auto-block threshold", report.Score, report.Level),
		}, nil
	}
	return &models.BlockVerdict{Blocked: false}, nil
}

// scoreSafety converts safety report flags into score points.
func scoreSafety(s *models.TokenSafetyReport) int {
	score := 0
	if s.IsHoneypot {
		score += 100
	}
	if s.OwnerCanMint {
		score += 20
	}
	if s.OwnerCanPause {
		score += 15
	}
	if s.OwnerCanBlacklist {
		score += 15
	}
	if !s.IsOpenSource {
		score += 20
	}
	if s.IsProxy {
		score += 10
	}
	tenPct := decimal.NewFromInt(10)
	if s.BuyTaxPercent.GreaterThan(tenPct) || s.SellTaxPercent.GreaterThan(tenPct) {
		score += 15
	}
	if s.TopHolderPercent.GreaterThan(decimal.NewFromInt(50)) {
		score += 10
	}
	return score
}

func summarise(r *models.RiskReport) string {
	switch r.Level {
	case models.RiskSafe:
		return "no significant risk indicators found"
	case models.RiskMedium:
		return fmt.Sprintf("some risk indicators present (score %d)", r.Score)
	case models.RiskHigh:
		return fmt.Sprintf("multiple risk indicators present (score %d), proceed with caution", r.Score)
	default:
		return fmt.Sprintf("critical risk indicators present (score %d), trading blocked by default", r.Score)
	}
}
