// Package maintenance keeps the deployment healthy: age-based data
// retention, store compaction and the single-process lock.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/notify"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/internal/txlog"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Retention horizons per table family.
const (
	conversationRetention = 30 * 24 * time.Hour
	txLogRetention        = 90 * 24 * time.Hour
	riskCacheRetention    = 7 * 24 * time.Hour
	traceRetention        = 30 * 24 * time.Hour
	priceRetention        = 180 * 24 * time.Hour
	deadLetterRetention   = 7 * 24 * time.Hour
)

// Retention is the hourly cleanup worker.
type Retention struct {
	db            *database.DB
	conversations *memory.ConversationRepository
	vectors       *memory.VectorRepository
	txs           *txlog.Repository
	riskCache     *risk.CacheRepository
	traces        *agents.Repository
	prices        *price.Repository
	deliveries    *notify.QueueRepository

	now func() time.Time
	log *zap.Logger
}

// NewRetention wires the cleanup worker. Any repository may be nil;
// its table family is then skipped.
func NewRetention(db *database.DB, conversations *memory.ConversationRepository, vectors *memory.VectorRepository, txs *txlog.Repository, riskCache *risk.CacheRepository, traces *agents.Repository, prices *price.Repository, deliveries *notify.QueueRepository) *Retention {
	return &Retention{
		db:            db,
		conversations: conversations,
		vectors:       vectors,
		txs:           txs,
		riskCache:     riskCache,
		traces:        traces,
		prices:        prices,
		deliveries:    deliveries,
		now:           time.Now,
		log:           logger.Named("maintenance"),
	}
}

// Name implements worker.Worker.
func (r *Retention) Name() string { return "retention" }

// Run applies every retention rule, then compacts the store. A failing
// rule is logged and the rest still run; a failing vacuum only warns.
func (r *Retention) Run(ctx context.Context) error {
	now := r.now()
	total := int64(0)

	type rule struct {
		table string
		prune func(context.Context, time.Time) (int64, error)
		age   time.Duration
	}
	rules := []rule{}
	if r.conversations != nil {
		rules = append(rules, rule{"conversations", r.conversations.PruneOlderThan, conversationRetention})
	}
	if r.vectors != nil {
		rules = append(rules, rule{"memory_chunks", r.vectors.PruneOlderThan, conversationRetention})
	}
	if r.txs != nil {
		rules = append(rules, rule{"tx_log", r.txs.PruneOlderThan, txLogRetention})
	}
	if r.riskCache != nil {
		rules = append(rules, rule{"risk_cache", r.riskCache.PruneOlderThan, riskCacheRetention})
	}
	if r.traces != nil {
		rules = append(rules, rule{"reasoning_traces", r.traces.PruneTracesOlderThan, traceRetention})
	}
	if r.prices != nil {
		rules = append(rules, rule{"historical_prices", r.prices.PruneOlderThan, priceRetention})
	}
	if r.deliveries != nil {
		rules = append(rules, rule{"delivery_queue", r.deliveries.PruneDead, deadLetterRetention})
	}

	for _, rl := range rules {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := rl.prune(ctx, now.Add(-rl.age))
		if err != nil {
			r.log.Error("retention rule failed",
				zap.String("table", rl.table),
				zap.Error(err))
			continue
		}
		if n > 0 {
			r.log.Info("🧹 pruned expired rows",
				zap.String("table", rl.table),
				zap.Int64("rows", n))
		}
		total += n
	}

	// Vacuum fails when another writer holds the store; that is fine,
	// the next sweep tries again.
	if err := r.db.Vacuum(ctx); err != nil {
		r.log.Warn("⚠️ vacuum skipped", zap.Error(err))
	}

	if total > 0 {
		r.log.Info("✅ retention sweep complete", zap.Int64("rows_removed", total))
	}
	return nil
}
