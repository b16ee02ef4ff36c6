package skills

import (
	"context"
	"fmt"
	"strings"
)

// RiskCheckSkill assesses a token contract before the user trades it.
func RiskCheckSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "risk_check",
		Description: "Assess the safety of a token contract before trading it.",
		Schema: Schema{
			"address":  {Type: TypeString, Description: "Token contract address.", Required: true},
			"chain_id": {Type: TypeInteger, Description: "Chain the contract lives on; defaults to the user's default chain."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			address := params["address"].(string)
			chainID := pickChain(params, sc)

			report, err := deps.Risk.Assess(ctx, chainID, address)
			if err != nil {
				return nil, fmt.Errorf("failed to assess token: %w", err)
			}

			var b strings.Builder
			b.WriteString(fmt.Sprintf("🛡 Risk report for %s (chain %d)\n", shortAddress(address), chainID))
			b.WriteString(fmt.Sprintf("Score: %d/100 (%s)\n", report.Score, report.Level))
			b.WriteString(report.Summary)
			if len(report.SourceFindings) > 0 {
				b.WriteString("\n\nSource findings:")
				for _, f := range report.SourceFindings {
					b.WriteString(fmt.Sprintf("\n  • %s (+%d)", f.Pattern, f.Severity))
				}
			}

			return &Result{
				Success: true,
				Message: b.String(),
				Data: map[string]interface{}{
					"score": report.Score,
					"level": string(report.Level),
				},
			}, nil
		},
	}
}
