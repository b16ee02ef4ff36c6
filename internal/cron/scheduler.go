package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// maxTimerWait bounds every sleep so clock drift or process suspend
// cannot indefinitely delay wakeups.
const maxTimerWait = 60 * time.Second

// Executor runs the skill payload of a due job.
type Executor func(ctx context.Context, job *models.CronJob) error

// Scheduler owns the single pending timer and the tick loop.
type Scheduler struct {
	repo *Repository
	exec Executor
	bus  *hooks.Bus
	now  func() time.Time
	log  *zap.Logger

	ticking atomic.Bool
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates the scheduler.
func NewScheduler(repo *Repository, exec Executor, bus *hooks.Bus) *Scheduler {
	return &Scheduler{
		repo: repo,
		exec: exec,
		bus:  bus,
		now:  time.Now,
		log:  logger.Named("cron"),
		wake: make(chan struct{}, 1),
	}
}

// Start launches the timer loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("🚀 Cron scheduler started")
}

// Stop waits for the loop to drain.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.log.Info("✅ Cron scheduler stopped")
}

// Poke rearms the timer early, e.g. after a job was added.
func (s *Scheduler) Poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		// re-entrancy guard: a tick still running means rearm only
		if s.ticking.CompareAndSwap(false, true) {
			s.Tick(ctx)
			s.ticking.Store(false)
			timer.Reset(s.nextWait(ctx))
		} else {
			timer.Reset(maxTimerWait)
		}
	}
}

// nextWait computes the sleep until the earliest enabled next run,
// clamped to maxTimerWait.
func (s *Scheduler) nextWait(ctx context.Context) time.Duration {
	jobs, err := s.repo.ListEnabled(ctx)
	if err != nil {
		s.log.Error("Failed to list jobs for timer arming", zap.Error(err))
		return maxTimerWait
	}

	wait := maxTimerWait
	now := s.now()
	for _, job := range jobs {
		if job.State.NextRunAtMs == nil {
			continue
		}
		until := time.UnixMilli(*job.State.NextRunAtMs).Sub(now)
		if until < 0 {
			until = 0
		}
		if until < wait {
			wait = until
		}
	}
	return wait
}

// Tick runs every due job once and recomputes its schedule.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	jobs, err := s.repo.ListEnabled(ctx)
	if err != nil {
		s.log.Error("Failed to list enabled jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		if job.State.NextRunAtMs == nil || time.UnixMilli(*job.State.NextRunAtMs).After(now) {
			continue
		}
		s.runJob(ctx, job, now)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *models.CronJob, now time.Time) {
	s.emit(ctx, hooks.KeyCronJobStarted, job, nil)

	started := s.now()
	err := s.exec(ctx, job)
	duration := s.now().Sub(started)

	state := job.State
	runMs := now.UnixMilli()
	durMs := duration.Milliseconds()
	state.LastRunAtMs = &runMs
	state.LastDurationMs = &durMs

	if err != nil {
		state.LastStatus = "error"
		state.LastError = err.Error()
		state.ConsecutiveErrors++
		s.log.Warn("Cron job failed",
			zap.String("job_id", job.ID),
			zap.String("skill", job.SkillName),
			zap.Int("consecutive_errors", state.ConsecutiveErrors),
			zap.Error(err))
	} else {
		state.LastStatus = "ok"
		state.LastError = ""
		state.ConsecutiveErrors = 0
	}

	enabled := job.Enabled
	next, ok, schedErr := ComputeNextRun(&job.Schedule, now)
	if schedErr != nil {
		s.log.Error("Failed to compute next run", zap.String("job_id", job.ID), zap.Error(schedErr))
		ok = false
	}
	if !ok {
		// schedule exhausted, the job disables itself
		state.NextRunAtMs = nil
		enabled = false
	} else {
		if state.ConsecutiveErrors > 0 {
			floor := now.Add(ComputeBackoff(state.ConsecutiveErrors))
			if floor.After(next) {
				next = floor
			}
		}
		ms := next.UnixMilli()
		state.NextRunAtMs = &ms
	}

	if err := s.repo.SaveState(ctx, job.ID, enabled, state); err != nil {
		s.log.Error("Failed to persist cron state", zap.String("job_id", job.ID), zap.Error(err))
	}
	job.State = state
	job.Enabled = enabled

	s.emit(ctx, hooks.KeyCronJobFinished, job, state.LastError)
}

func (s *Scheduler) emit(ctx context.Context, key string, job *models.CronJob, extra interface{}) {
	if s.bus == nil {
		return
	}
	category, action, err := hooks.SplitKey(key)
	if err != nil {
		return
	}
	s.bus.Emit(ctx, hooks.Event{
		Category: category,
		Action:   action,
		Payload: map[string]interface{}{
			"job_id": job.ID,
			"skill":  job.SkillName,
			"detail": extra,
		},
	})
}
