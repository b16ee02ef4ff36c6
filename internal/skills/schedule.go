package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// DCASkill manages recurring buy jobs.
func DCASkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "dca",
		Description: "Create, list, pause, resume or cancel recurring dollar-cost-average buys.",
		Schema: Schema{
			"action":     {Type: TypeString, Description: "What to do.", Required: true, Enum: []string{"create", "list", "pause", "resume", "cancel"}},
			"from_token": {Type: TypeString, Description: "Token to spend (create only)."},
			"to_token":   {Type: TypeString, Description: "Token to accumulate (create only)."},
			"amount":     {Type: TypeNumber, Description: "Amount of from_token per run (create only).", Min: floatPtr(0)},
			"frequency":  {Type: TypeString, Description: "Run cadence (create only).", Enum: []string{"daily", "weekly", "monthly"}},
			"job_id":     {Type: TypeInteger, Description: "Job id (pause/resume/cancel)."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			switch params["action"].(string) {
			case "create":
				from, _ := params["from_token"].(string)
				to, _ := params["to_token"].(string)
				freq, _ := params["frequency"].(string)
				amount, _ := params["amount"].(float64)
				if from == "" || to == "" || freq == "" || amount <= 0 {
					return nil, errs.Config("dca", "create needs from_token, to_token, amount and frequency")
				}
				if sc.WalletAddress == "" {
					return nil, errs.Config("wallet", "no wallet configured; create one with /wallet create")
				}
				id, err := deps.DCA.CreateJob(ctx, sc.UserID,
					strings.ToUpper(from), strings.ToUpper(to),
					decimal.NewFromFloat(amount), sc.Prefs.DefaultChainID,
					models.DCAFrequency(freq), sc.WalletAddress)
				if err != nil {
					return nil, err
				}
				return &Result{
					Success: true,
					Message: fmt.Sprintf("✅ DCA job #%d created: %s %s → %s %s.", id, freq, strings.ToUpper(from), strings.ToUpper(to), decimal.NewFromFloat(amount)),
					Data:    map[string]interface{}{"job_id": id},
				}, nil

			case "list":
				jobs, err := deps.DCA.GetUserJobs(ctx, sc.UserID)
				if err != nil {
					return nil, err
				}
				if len(jobs) == 0 {
					return &Result{Success: true, Message: "You have no DCA jobs."}, nil
				}
				var b strings.Builder
				b.WriteString("📅 Your DCA jobs:")
				for _, j := range jobs {
					b.WriteString(fmt.Sprintf("\n  #%d %s %s %s → %s [%s]",
						j.ID, j.Frequency, j.Amount, j.FromToken, j.ToToken, j.Status))
				}
				return &Result{Success: true, Message: b.String()}, nil

			default: // pause, resume, cancel
				action := params["action"].(string)
				id, ok := params["job_id"].(int64)
				if !ok {
					return nil, errs.Config("dca", action+" needs job_id")
				}
				job, err := deps.DCA.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				if job.UserID != sc.UserID {
					return nil, errs.Config("dca", fmt.Sprintf("job #%d not found", id))
				}
				status := map[string]models.DCAStatus{
					"pause":  models.DCAPaused,
					"resume": models.DCAActive,
					"cancel": models.DCACancelled,
				}[action]
				if err := deps.DCA.SetStatus(ctx, id, status); err != nil {
					return nil, err
				}
				return &Result{Success: true, Message: fmt.Sprintf("✅ DCA job #%d is now %s.", id, status)}, nil
			}
		},
	}
}

// ScheduleSkill persists cron jobs that run any registered skill later,
// on an interval, or on a crontab expression.
func ScheduleSkill(deps *Deps, reg *Registry) *Skill {
	return &Skill{
		Name:        "schedule",
		Description: "Schedule another skill to run once at a time, every N minutes, or on a crontab expression.",
		Schema: Schema{
			"action":        {Type: TypeString, Description: "What to do.", Required: true, Enum: []string{"create", "list", "cancel"}},
			"skill":         {Type: TypeString, Description: "Name of the skill to run (create only)."},
			"skill_params":  {Type: TypeString, Description: "JSON object of parameters for the scheduled skill (create only)."},
			"every_minutes": {Type: TypeInteger, Description: "Repeat interval in minutes (create only).", Min: floatPtr(1)},
			"cron":          {Type: TypeString, Description: "Crontab expression (create only)."},
			"at":            {Type: TypeString, Description: "One-shot run time, RFC3339 (create only)."},
			"name":          {Type: TypeString, Description: "Optional label for the job (create only)."},
			"job_id":        {Type: TypeString, Description: "Job id (cancel only)."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			if deps.Cron == nil {
				return nil, errs.Config("schedule", "the cron scheduler is not available")
			}
			poke := func() {
				if deps.CronPoke != nil {
					deps.CronPoke()
				}
			}

			switch params["action"].(string) {
			case "create":
				skillName, _ := params["skill"].(string)
				target := reg.Get(skillName)
				if target == nil {
					return nil, errs.Config("schedule", fmt.Sprintf("unknown skill %q", skillName))
				}
				if skillName == "schedule" {
					return nil, errs.Config("schedule", "a schedule cannot schedule itself")
				}

				skillParams, _ := params["skill_params"].(string)
				if skillParams != "" {
					var parsed map[string]interface{}
					if err := json.Unmarshal([]byte(skillParams), &parsed); err != nil {
						return nil, errs.Config("schedule", "skill_params must be a JSON object")
					}
				}

				sched, err := scheduleFromParams(params)
				if err != nil {
					return nil, err
				}

				name, _ := params["name"].(string)
				if name == "" {
					name = skillName
				}
				chainID := sc.Prefs.DefaultChainID
				job, err := deps.Cron.Add(ctx, &models.CronJob{
					Name:      name,
					SkillName: skillName,
					Params:    skillParams,
					UserID:    sc.UserID,
					ChainID:   &chainID,
					Schedule:  *sched,
				}, time.Now())
				if err != nil {
					return nil, err
				}
				poke()

				next := "never"
				if job.State.NextRunAtMs != nil {
					next = time.UnixMilli(*job.State.NextRunAtMs).UTC().Format(time.RFC3339)
				}
				return &Result{
					Success: true,
					Message: fmt.Sprintf("⏰ Scheduled %s (%s), first run %s.", name, describeSchedule(sched), next),
					Data:    map[string]interface{}{"job_id": job.ID},
				}, nil

			case "list":
				jobs, err := deps.Cron.ListByUser(ctx, sc.UserID)
				if err != nil {
					return nil, err
				}
				if len(jobs) == 0 {
					return &Result{Success: true, Message: "You have no scheduled jobs."}, nil
				}
				var b strings.Builder
				b.WriteString("⏰ Your scheduled jobs:")
				for _, j := range jobs {
					status := "disabled"
					if j.Enabled && j.State.NextRunAtMs != nil {
						status = "next " + time.UnixMilli(*j.State.NextRunAtMs).UTC().Format(time.RFC3339)
					}
					b.WriteString(fmt.Sprintf("\n  %s %s → %s (%s, %s)",
						j.ID, j.Name, j.SkillName, describeSchedule(&j.Schedule), status))
				}
				return &Result{Success: true, Message: b.String()}, nil

			default: // cancel
				id, _ := params["job_id"].(string)
				if id == "" {
					return nil, errs.Config("schedule", "cancel needs job_id")
				}
				if err := deps.Cron.Remove(ctx, sc.UserID, id); err != nil {
					return nil, err
				}
				poke()
				return &Result{Success: true, Message: fmt.Sprintf("✅ Scheduled job %s cancelled.", id)}, nil
			}
		},
	}
}

// scheduleFromParams maps exactly one of at/every_minutes/cron onto a
// schedule variant.
func scheduleFromParams(params map[string]interface{}) (*models.Schedule, error) {
	atStr, _ := params["at"].(string)
	everyMin, hasEvery := params["every_minutes"].(int64)
	expr, _ := params["cron"].(string)

	given := 0
	for _, set := range []bool{atStr != "", hasEvery, expr != ""} {
		if set {
			given++
		}
	}
	if given != 1 {
		return nil, errs.Config("schedule", "create needs exactly one of at, every_minutes or cron")
	}

	switch {
	case atStr != "":
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			return nil, errs.Config("schedule", "at must be an RFC3339 timestamp")
		}
		return &models.Schedule{Kind: models.ScheduleAt, At: &at}, nil
	case hasEvery:
		return &models.Schedule{Kind: models.ScheduleEvery, EveryMs: everyMin * 60_000}, nil
	default:
		return &models.Schedule{Kind: models.ScheduleCron, Expr: expr}, nil
	}
}

func describeSchedule(s *models.Schedule) string {
	switch s.Kind {
	case models.ScheduleAt:
		return "once at " + s.At.UTC().Format(time.RFC3339)
	case models.ScheduleEvery:
		return fmt.Sprintf("every %s", time.Duration(s.EveryMs)*time.Millisecond)
	default:
		return "cron " + s.Expr
	}
}

// AlertSkill manages one-shot price alerts.
func AlertSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "alert",
		Description: "Create, list or delete one-shot price alerts.",
		Schema: Schema{
			"action":    {Type: TypeString, Description: "What to do.", Required: true, Enum: []string{"create", "list", "delete"}},
			"token":     {Type: TypeString, Description: "Token symbol to watch (create only)."},
			"condition": {Type: TypeString, Description: "Fire direction (create only).", Enum: []string{"above", "below"}},
			"price":     {Type: TypeNumber, Description: "Threshold price in USD (create only).", Min: floatPtr(0)},
			"alert_id":  {Type: TypeInteger, Description: "Alert id (delete only)."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			switch params["action"].(string) {
			case "create":
				token, _ := params["token"].(string)
				condition, _ := params["condition"].(string)
				threshold, _ := params["price"].(float64)
				if token == "" || condition == "" || threshold <= 0 {
					return nil, errs.Config("alert", "create needs token, condition and price")
				}
				typ := models.AlertPriceAbove
				if condition == "below" {
					typ = models.AlertPriceBelow
				}
				id, err := deps.Alerts.Create(ctx, sc.UserID, typ, strings.ToUpper(token), decimal.NewFromFloat(threshold))
				if err != nil {
					return nil, err
				}
				return &Result{
					Success: true,
					Message: fmt.Sprintf("🔔 Alert #%d set: %s %s $%s.", id, strings.ToUpper(token), condition, decimal.NewFromFloat(threshold)),
					Data:    map[string]interface{}{"alert_id": id},
				}, nil

			case "list":
				list, err := deps.Alerts.ListByUser(ctx, sc.UserID)
				if err != nil {
					return nil, err
				}
				if len(list) == 0 {
					return &Result{Success: true, Message: "You have no alerts."}, nil
				}
				var b strings.Builder
				b.WriteString("🔔 Your alerts:")
				for _, a := range list {
					b.WriteString(fmt.Sprintf("\n  #%d %s %s $%s [%s]", a.ID, a.Token, a.Type, a.Threshold, a.Status))
				}
				return &Result{Success: true, Message: b.String()}, nil

			default: // delete
				id, ok := params["alert_id"].(int64)
				if !ok {
					return nil, errs.Config("alert", "delete needs alert_id")
				}
				if err := deps.Alerts.Delete(ctx, sc.UserID, id); err != nil {
					return nil, err
				}
				return &Result{Success: true, Message: fmt.Sprintf("✅ Alert #%d deleted.", id)}, nil
			}
		},
	}
}
