package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Repository persists agent instances, trades and reasoning traces.
type Repository struct {
	db *database.DB
}

// NewRepository creates the repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateInstance inserts a running instance and returns it.
func (r *Repository) CreateInstance(ctx context.Context, def *models.AgentDefinition, userID string, mode models.AgentMode, config map[string]interface{}) (*models.AgentInstance, error) {
	if mode != models.ModeDryRun && mode != models.ModeLive {
		return nil, fmt.Errorf("unknown agent mode %q", mode)
	}
	configJSON := "{}"
	if len(config) > 0 {
		raw, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("failed to encode agent config: %w", err)
		}
		configJSON = string(raw)
	}

	inst := &models.AgentInstance{
		ID:        uuid.NewString(),
		AgentName: def.Name,
		Version:   def.Version,
		UserID:    userID,
		Mode:      mode,
		Config:    configJSON,
		Status:    models.AgentRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO agent_instances (id, agent_name, version, user_id, mode, config_options, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.AgentName, inst.Version, inst.UserID, string(inst.Mode),
		inst.Config, string(inst.Status), inst.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent instance: %w", err)
	}
	return inst, nil
}

// GetInstance returns one instance.
func (r *Repository) GetInstance(ctx context.Context, id string) (*models.AgentInstance, error) {
	var inst models.AgentInstance
	err := r.db.DB().GetContext(ctx, &inst, `SELECT * FROM agent_instances WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent instance %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent instance: %w", err)
	}
	return &inst, nil
}

// ListInstancesByUser lists a user's instances, newest first.
func (r *Repository) ListInstancesByUser(ctx context.Context, userID string) ([]models.AgentInstance, error) {
	var out []models.AgentInstance
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM agent_instances WHERE user_id = ?
		ORDER BY started_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent instances: %w", err)
	}
	return out, nil
}

// SetInstanceStatus updates the lifecycle state. Stopping stamps stopped_at.
func (r *Repository) SetInstanceStatus(ctx context.Context, id string, status models.AgentStatus) error {
	var stoppedAt *time.Time
	if status == models.AgentStopped {
		now := time.Now().UTC()
		stoppedAt = &now
	}
	res, err := r.db.DB().ExecContext(ctx, `
		UPDATE agent_instances SET status = ?, stopped_at = COALESCE(?, stopped_at)
		WHERE id = ?`,
		string(status), stoppedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent instance %s not found", id)
	}
	return nil
}

// RecordTrade inserts an executed decision.
func (r *Repository) RecordTrade(ctx context.Context, trade *models.AgentTrade) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO agent_trades (agent_id, user_id, token, action, amount_usd, execution_price, status, tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.AgentID, trade.UserID, trade.Token, string(trade.Action),
		trade.AmountUSD.String(), trade.ExecutionPrice.String(), trade.Status, trade.TxID)
	if err != nil {
		return 0, fmt.Errorf("failed to record agent trade: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// TradesByAgent lists an agent's trades, oldest first.
func (r *Repository) TradesByAgent(ctx context.Context, agentID string) ([]models.AgentTrade, error) {
	var out []models.AgentTrade
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM agent_trades WHERE agent_id = ?
		ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent trades: %w", err)
	}
	return out, nil
}

// TradesSince counts an agent's trades after a cutoff and sums exposure.
func (r *Repository) TradesSince(ctx context.Context, agentID string, since time.Time) ([]models.AgentTrade, error) {
	var out []models.AgentTrade
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM agent_trades WHERE agent_id = ? AND created_at >= ?
		ORDER BY created_at, id`, agentID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list recent agent trades: %w", err)
	}
	return out, nil
}

// RecordTrace persists one reasoning trace.
func (r *Repository) RecordTrace(ctx context.Context, agentID string, evalCtx *models.EvalContext, decisions []models.Decision, reasoning string) error {
	ctxJSON, err := json.Marshal(evalCtx)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation context: %w", err)
	}
	decJSON, err := json.Marshal(decisions)
	if err != nil {
		return fmt.Errorf("failed to encode decisions: %w", err)
	}
	_, err = r.db.DB().ExecContext(ctx, `
		INSERT INTO reasoning_traces (agent_id, context_json, decisions_json, reasoning)
		VALUES (?, ?, ?, ?)`,
		agentID, string(ctxJSON), string(decJSON), reasoning)
	if err != nil {
		return fmt.Errorf("failed to record reasoning trace: %w", err)
	}
	return nil
}

// TracesByAgent lists traces, newest first.
func (r *Repository) TracesByAgent(ctx context.Context, agentID string, limit int) ([]models.ReasoningTrace, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.ReasoningTrace
	err := r.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM reasoning_traces WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reasoning traces: %w", err)
	}
	return out, nil
}

// PruneTracesOlderThan removes reasoning traces past the retention
// horizon, along with enriched rows that pointed at them.
func (r *Repository) PruneTracesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM reasoning_traces WHERE created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune reasoning traces: %w", err)
	}
	if _, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM enriched_reasoning
		WHERE trace_id NOT IN (SELECT id FROM reasoning_traces)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune enriched reasoning: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
