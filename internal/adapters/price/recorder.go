package price

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Recorder snapshots oracle prices into the historical table so the
// backtest engine and outcome labeller have a local series to read.
type Recorder struct {
	oracle Oracle
	repo   *Repository
	tokens []string
	now    func() time.Time
	log    *zap.Logger
}

// NewRecorder creates the worker. tokens is the watchlist to snapshot.
func NewRecorder(oracle Oracle, repo *Repository, tokens []string) *Recorder {
	return &Recorder{
		oracle: oracle,
		repo:   repo,
		tokens: tokens,
		now:    time.Now,
		log:    logger.Named("price_recorder"),
	}
}

// Name implements worker.Worker.
func (r *Recorder) Name() string { return "price_recorder" }

// Run records today's price for each watched token. A token whose
// lookup fails is skipped until the next sweep.
func (r *Recorder) Run(ctx context.Context) error {
	day := r.now().UTC().Truncate(24 * time.Hour)
	for _, token := range r.tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		px, err := r.oracle.GetTokenPrice(ctx, token)
		if err != nil {
			r.log.Warn("price lookup failed",
				zap.String("token", token),
				zap.Error(err))
			continue
		}
		if err := r.repo.Upsert(ctx, token, day, px); err != nil {
			return err
		}
	}
	return nil
}
