package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainclaw/chainclaw/pkg/errs"
)

const maxWorkflowSteps = 10

// WorkflowSkill runs an ordered list of other skills, stopping at the
// first failure and returning the partial result.
func WorkflowSkill(reg *Registry) *Skill {
	return &Skill{
		Name:        "workflow",
		Description: "Run several skills in sequence, stopping at the first failure.",
		Schema: Schema{
			"steps": {Type: TypeArray, Description: "Ordered steps, each {skill, params}.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			raw := params["steps"].([]interface{})
			if len(raw) == 0 || len(raw) > maxWorkflowSteps {
				return nil, errs.Config("workflow", fmt.Sprintf("needs between 1 and %d steps", maxWorkflowSteps))
			}

			type step struct {
				name   string
				params map[string]interface{}
			}
			steps := make([]step, 0, len(raw))
			for i, entry := range raw {
				obj, ok := entry.(map[string]interface{})
				if !ok {
					return nil, errs.Config("workflow", fmt.Sprintf("step %d must be an object", i+1))
				}
				name, _ := obj["skill"].(string)
				if name == "" {
					return nil, errs.Config("workflow", fmt.Sprintf("step %d is missing a skill name", i+1))
				}
				if name == "workflow" {
					return nil, errs.Config("workflow", "workflows cannot be nested")
				}
				stepParams, _ := obj["params"].(map[string]interface{})
				if stepParams == nil {
					stepParams = map[string]interface{}{}
				}
				steps = append(steps, step{name: name, params: stepParams})
			}

			var (
				messages  []string
				completed []map[string]interface{}
			)
			for i, st := range steps {
				skill := reg.Get(st.name)
				if skill == nil {
					return nil, errs.Config("workflow", fmt.Sprintf("step %d references unknown skill %q", i+1, st.name))
				}
				res, err := skill.Execute(ctx, st.params, sc)
				if err != nil {
					res = &Result{Success: false, Message: fmt.Sprintf("Failed to execute %s: %s", st.name, shortReason(err))}
				}
				completed = append(completed, map[string]interface{}{
					"skill":   st.name,
					"success": res.Success,
					"message": res.Message,
				})
				messages = append(messages, fmt.Sprintf("Step %d (%s): %s", i+1, st.name, res.Message))

				if !res.Success {
					return &Result{
						Success: false,
						Message: fmt.Sprintf("⛔ Workflow Stopped at step %d (%d/%d completed)\n\n%s",
							i+1, i, len(steps), strings.Join(messages, "\n\n")),
						Data: map[string]interface{}{"steps": completed},
					}, nil
				}
			}

			return &Result{
				Success: true,
				Message: fmt.Sprintf("✅ Workflow complete (%d/%d)\n\n%s",
					len(steps), len(steps), strings.Join(messages, "\n\n")),
				Data: map[string]interface{}{"steps": completed},
			}, nil
		},
	}
}

func shortReason(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 120 {
		msg = msg[:117] + "…"
	}
	return msg
}
