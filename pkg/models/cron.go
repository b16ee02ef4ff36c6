package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleKind tags the schedule variant
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is a tagged variant: one-shot absolute time, fixed interval with
// optional anchor, or a crontab expression with optional timezone.
type Schedule struct {
	Kind     ScheduleKind `json:"kind"`
	At       *time.Time   `json:"at,omitempty"`
	EveryMs  int64        `json:"every_ms,omitempty"`
	AnchorMs *int64       `json:"anchor_ms,omitempty"`
	Expr     string       `json:"expr,omitempty"`
	TZ       string       `json:"tz,omitempty"`
}

// Validate rejects malformed schedules with config-style messages.
func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil {
			return fmt.Errorf("schedule.at: absolute time is required")
		}
	case ScheduleEvery:
		if s.EveryMs < 1 {
			return fmt.Errorf("schedule.every_ms: must be >= 1")
		}
		if s.AnchorMs != nil && *s.AnchorMs < 0 {
			return fmt.Errorf("schedule.anchor_ms: must be >= 0")
		}
	case ScheduleCron:
		if s.Expr == "" {
			return fmt.Errorf("schedule.expr: crontab expression is required")
		}
	default:
		return fmt.Errorf("schedule.kind: unknown kind %q", s.Kind)
	}
	return nil
}

// CronState is runtime bookkeeping for one job
type CronState struct {
	NextRunAtMs       *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMs       *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus        string `json:"last_status,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastDurationMs    *int64 `json:"last_duration_ms,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// CronJob pairs a schedule with a skill invocation payload
type CronJob struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	SkillName string    `db:"skill_name" json:"skill_name"`
	Params    string    `db:"skill_params" json:"skill_params"`
	UserID    string    `db:"user_id" json:"user_id"`
	ChainID   *int64    `db:"chain_id" json:"chain_id,omitempty"`
	Schedule  Schedule  `db:"-" json:"schedule"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	State     CronState `db:"-" json:"state"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ParamsMap decodes the stored skill params payload.
func (j *CronJob) ParamsMap() (map[string]interface{}, error) {
	if j.Params == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(j.Params), &m); err != nil {
		return nil, fmt.Errorf("failed to decode skill params: %w", err)
	}
	return m, nil
}
