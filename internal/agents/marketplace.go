package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Marketplace manages agent subscriptions. Subscribing starts an
// instance; unsubscribing stops it.
type Marketplace struct {
	db     *database.DB
	runner *Runner
}

// NewMarketplace creates the marketplace.
func NewMarketplace(db *database.DB, runner *Runner) *Marketplace {
	return &Marketplace{db: db, runner: runner}
}

// Browse lists the shipped agent catalogue.
func (m *Marketplace) Browse() []*models.AgentDefinition {
	return Catalog()
}

// Subscribe records an active subscription and starts a dry-run instance.
// A user holds at most one active subscription per agent.
func (m *Marketplace) Subscribe(ctx context.Context, userID, agentName string, mode models.AgentMode) (string, error) {
	def, err := Lookup(agentName)
	if err != nil {
		return "", err
	}

	var existing int
	err = m.db.DB().GetContext(ctx, &existing, `
		SELECT COUNT(*) FROM marketplace_subscriptions
		WHERE user_id = ? AND agent_name = ? AND active = 1`,
		userID, agentName)
	if err != nil {
		return "", fmt.Errorf("failed to check subscription: %w", err)
	}
	if existing > 0 {
		return "", fmt.Errorf("already subscribed to %s", agentName)
	}

	if _, err := m.db.DB().ExecContext(ctx, `
		INSERT INTO marketplace_subscriptions (user_id, agent_name, version)
		VALUES (?, ?, ?)`,
		userID, agentName, def.Version); err != nil {
		return "", fmt.Errorf("failed to create subscription: %w", err)
	}

	instanceID, err := m.runner.StartAgent(ctx, def, userID, mode, nil)
	if err != nil {
		return "", err
	}
	return instanceID, nil
}

// Unsubscribe closes the subscription and stops the user's running
// instances of the agent.
func (m *Marketplace) Unsubscribe(ctx context.Context, userID, agentName string) error {
	now := time.Now().UTC()
	res, err := m.db.DB().ExecContext(ctx, `
		UPDATE marketplace_subscriptions SET active = 0, ended_at = ?
		WHERE user_id = ? AND agent_name = ? AND active = 1`,
		now, userID, agentName)
	if err != nil {
		return fmt.Errorf("failed to end subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no active subscription to %s", agentName)
	}

	instances, err := m.runner.repo.ListInstancesByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if inst.AgentName == agentName && inst.Status != models.AgentStopped {
			if err := m.runner.StopAgent(ctx, inst.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subscriptions lists a user's subscriptions, active first.
func (m *Marketplace) Subscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	var out []models.Subscription
	err := m.db.DB().SelectContext(ctx, &out, `
		SELECT * FROM marketplace_subscriptions WHERE user_id = ?
		ORDER BY active DESC, created_at DESC`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}
