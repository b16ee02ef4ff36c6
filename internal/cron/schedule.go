// Package cron is the schedule core: next-run computation, due-job
// selection, error backoff, and the single-timer tick loop.
package cron

import (
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/chainclaw/chainclaw/pkg/models"
)

var cronParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ComputeNextRun resolves the next fire time strictly after now.
// ok=false means the schedule is exhausted and the job should disable
// itself.
func ComputeNextRun(schedule *models.Schedule, now time.Time) (next time.Time, ok bool, err error) {
	if err := schedule.Validate(); err != nil {
		return time.Time{}, false, err
	}

	switch schedule.Kind {
	case models.ScheduleAt:
		if schedule.At.After(now) {
			return *schedule.At, true, nil
		}
		return time.Time{}, false, nil

	case models.ScheduleEvery:
		anchor := now
		if schedule.AnchorMs != nil {
			anchor = time.UnixMilli(*schedule.AnchorMs)
		}
		if now.Before(anchor) {
			return anchor, true, nil
		}
		every := time.Duration(schedule.EveryMs) * time.Millisecond
		elapsed := now.Sub(anchor)
		steps := elapsed / every
		next := anchor.Add((steps + 1) * every)
		// landing exactly on a step still advances a full interval
		return next, true, nil

	case models.ScheduleCron:
		spec, err := cronParser.Parse(schedule.Expr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("bad cron expression %q: %w", schedule.Expr, err)
		}
		loc := time.UTC
		if schedule.TZ != "" {
			loc, err = time.LoadLocation(schedule.TZ)
			if err != nil {
				return time.Time{}, false, fmt.Errorf("bad timezone %q: %w", schedule.TZ, err)
			}
		}
		next := spec.Next(now.In(loc))
		if !next.After(now) {
			next = spec.Next(now.Add(time.Second).In(loc))
		}
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		return next, true, nil
	}
	return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", schedule.Kind)
}

// backoffSteps clamp retry delay growth; the last step saturates.
var backoffSteps = []time.Duration{
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// ComputeBackoff maps a consecutive-error count (1-based) to a delay.
func ComputeBackoff(consecutiveErrors int) time.Duration {
	if consecutiveErrors < 1 {
		return 0
	}
	if consecutiveErrors > len(backoffSteps) {
		consecutiveErrors = len(backoffSteps)
	}
	return backoffSteps[consecutiveErrors-1]
}
