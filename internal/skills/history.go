package skills

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainclaw/chainclaw/pkg/models"
)

const defaultHistoryLimit = 20

// HistorySkill serialises the caller's transaction records.
func HistorySkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "history",
		Description: "Show your recent transactions as text, CSV or JSON.",
		Schema: Schema{
			"format": {Type: TypeString, Description: "Output format.", Enum: []string{"text", "csv", "json"}},
			"limit":  {Type: TypeInteger, Description: "Maximum number of records.", Min: floatPtr(1), Max: floatPtr(100)},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			limit := defaultHistoryLimit
			if v, ok := params["limit"].(int64); ok {
				limit = int(v)
			}
			records, err := deps.Txs.ListByUser(ctx, sc.UserID, limit)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return &Result{Success: true, Message: "You have no transactions yet."}, nil
			}

			format, _ := params["format"].(string)
			switch format {
			case "json":
				raw, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return nil, err
				}
				return &Result{Success: true, Message: string(raw)}, nil

			case "csv":
				var b strings.Builder
				w := csv.NewWriter(&b)
				_ = w.Write([]string{"id", "chain_id", "status", "skill", "description", "hash", "created_at"})
				for _, r := range records {
					hash := ""
					if r.Hash != nil {
						hash = *r.Hash
					}
					_ = w.Write([]string{
						r.ID,
						fmt.Sprintf("%d", r.ChainID),
						string(r.Status),
						r.SkillName,
						r.IntentDescription,
						hash,
						r.CreatedAt.Format("2006-01-02 15:04:05"),
					})
				}
				w.Flush()
				return &Result{Success: true, Message: b.String()}, nil

			default:
				var b strings.Builder
				b.WriteString("📜 Recent transactions:")
				for _, r := range records {
					b.WriteString(fmt.Sprintf("\n  %s %s %s — %s",
						statusEmoji(r.Status), r.CreatedAt.Format("Jan 02 15:04"), r.SkillName, r.IntentDescription))
					if r.Hash != nil {
						b.WriteString(fmt.Sprintf("\n      %s", *r.Hash))
					}
				}
				return &Result{Success: true, Message: b.String()}, nil
			}
		},
	}
}

func statusEmoji(s models.TxStatus) string {
	switch s {
	case models.TxConfirmed:
		return "✅"
	case models.TxFailed:
		return "❌"
	case models.TxBroadcast:
		return "📡"
	default:
		return "⏳"
	}
}
