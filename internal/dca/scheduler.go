package dca

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/dexapi"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/internal/txlog"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// TickInterval is how often the scheduler scans for due jobs.
const TickInterval = 60 * time.Second

// Executor performs one swap for a due job.
type Executor interface {
	ExecuteSwap(ctx context.Context, job *models.DCAJob) error
}

// Scheduler is the periodic worker draining due DCA jobs.
type Scheduler struct {
	repo *Repository
	exec Executor
	now  func() time.Time
	log  *zap.Logger
}

// NewScheduler creates the worker.
func NewScheduler(repo *Repository, exec Executor) *Scheduler {
	return &Scheduler{
		repo: repo,
		exec: exec,
		now:  time.Now,
		log:  logger.Named("dca"),
	}
}

// Name implements worker.Worker.
func (s *Scheduler) Name() string { return "dca_scheduler" }

// Run executes one tick: every due job gets exactly one attempt.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for i := range due {
		job := &due[i]
		err := s.exec.ExecuteSwap(ctx, job)
		if err != nil {
			s.log.Warn("DCA execution failed",
				zap.Int64("job_id", job.ID),
				zap.String("user_id", job.UserID),
				zap.Error(err))
		}
		if markErr := s.repo.MarkRun(ctx, job.ID, now, err == nil); markErr != nil {
			s.log.Error("Failed to record DCA run", zap.Int64("job_id", job.ID), zap.Error(markErr))
		}
	}
	return nil
}

// PipelineExecutor quotes the swap and pushes it through the transaction
// pipeline. A job that fails before reaching the pipeline still gets a
// failed transaction record.
type PipelineExecutor struct {
	dex    dexapi.DEXAggregator
	oracle price.Oracle
	pipe   *pipeline.Pipeline
	txs    *txlog.Repository
	prefs  PreferencesSource
}

// PreferencesSource resolves the user's preference snapshot.
type PreferencesSource interface {
	Get(ctx context.Context, userID string) (*models.Preferences, error)
}

// NewPipelineExecutor wires the executor.
func NewPipelineExecutor(dex dexapi.DEXAggregator, oracle price.Oracle, pipe *pipeline.Pipeline, txs *txlog.Repository, prefs PreferencesSource) *PipelineExecutor {
	return &PipelineExecutor{dex: dex, oracle: oracle, pipe: pipe, txs: txs, prefs: prefs}
}

// ExecuteSwap implements Executor.
func (e *PipelineExecutor) ExecuteSwap(ctx context.Context, job *models.DCAJob) error {
	description := fmt.Sprintf("DCA: swap %s %s to %s", job.Amount, job.FromToken, job.ToToken)

	quote, err := e.dex.QuoteSwap(ctx, job.ChainID, job.FromToken, job.ToToken, job.Amount)
	if err != nil {
		e.recordPreQuoteFailure(ctx, job, description, err)
		return fmt.Errorf("failed to quote DCA swap: %w", err)
	}

	amountUSD := job.Amount
	if unitPrice, err := e.oracle.GetTokenPrice(ctx, job.FromToken); err == nil {
		amountUSD = job.Amount.Mul(unitPrice)
	}

	prefs, err := e.prefs.Get(ctx, job.UserID)
	if err != nil {
		prefs = models.DefaultPreferences(job.UserID)
	}

	valueWei, ok := new(big.Int).SetString(quote.ValueWei, 10)
	if !ok {
		valueWei = big.NewInt(0)
	}

	result, err := e.pipe.Execute(ctx, &pipeline.Request{
		UserID:      job.UserID,
		ChainID:     job.ChainID,
		From:        job.WalletAddress,
		To:          quote.Router,
		ValueWei:    valueWei,
		Data:        quote.CallData,
		GasLimit:    quote.GasEstimate,
		AmountUSD:   amountUSD,
		SkillName:   "dca",
		Description: description,
		Buy:         true,
		Prefs:       *prefs,
		// scheduled runs have no channel to ask on, so no Confirm
	})
	if err != nil {
		return err
	}
	if result.Status == models.TxFailed {
		return fmt.Errorf("DCA swap failed: %s", result.Message)
	}
	return nil
}

// recordPreQuoteFailure keeps the one-record-per-execution invariant when
// the attempt dies before the pipeline can create its own record.
func (e *PipelineExecutor) recordPreQuoteFailure(ctx context.Context, job *models.DCAJob, description string, cause error) {
	rec, err := e.txs.Create(ctx, &models.TxRecord{
		UserID:            job.UserID,
		ChainID:           job.ChainID,
		FromAddress:       job.WalletAddress,
		ToAddress:         "",
		Value:             "0",
		SkillName:         "dca",
		IntentDescription: description,
	})
	if err != nil {
		logger.Error("Failed to create DCA failure record", zap.Error(err))
		return
	}
	reason := cause.Error()
	if err := e.txs.Advance(ctx, rec.ID, models.TxFailed, txlog.Update{Error: &reason}); err != nil {
		logger.Error("Failed to record DCA failure", zap.Error(err))
	}
}
