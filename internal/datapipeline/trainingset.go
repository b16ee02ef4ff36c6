package datapipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// TrainingExample is one line of the exported training set: the full
// evaluation context and reasoning paired with the realised outcome.
type TrainingExample struct {
	AgentID    string                `json:"agent_id"`
	Token      string                `json:"token"`
	Action     models.DecisionAction `json:"action"`
	Context    json.RawMessage       `json:"context"`
	Decisions  json.RawMessage       `json:"decisions"`
	Reasoning  string                `json:"reasoning"`
	Window     models.OutcomeWindow  `json:"window"`
	PnLUSD     decimal.Decimal       `json:"pnl_usd"`
	PnLPercent decimal.Decimal       `json:"pnl_percent"`
}

// Exporter streams enriched reasoning rows as JSONL.
type Exporter struct {
	db *database.DB
}

// NewExporter creates the training-set exporter.
func NewExporter(db *database.DB) *Exporter {
	return &Exporter{db: db}
}

// Export writes one JSON object per line. An empty agentID exports every
// agent. Returns the number of examples written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, agentID string) (int, error) {
	query := `
		SELECT er.payload FROM enriched_reasoning er
		JOIN outcome_labels ol ON ol.id = er.label_id
		ORDER BY er.id`
	args := []interface{}{}
	if agentID != "" {
		query = `
			SELECT er.payload FROM enriched_reasoning er
			JOIN outcome_labels ol ON ol.id = er.label_id
			WHERE ol.agent_id = ?
			ORDER BY er.id`
		args = append(args, agentID)
	}

	rows, err := e.db.DB().QueryxContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to load training examples: %w", err)
	}
	defer rows.Close()

	buf := bufio.NewWriter(w)
	count := 0
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return count, fmt.Errorf("failed to scan training example: %w", err)
		}
		if _, err := buf.WriteString(payload); err != nil {
			return count, err
		}
		if err := buf.WriteByte('\n'); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	return count, buf.Flush()
}
