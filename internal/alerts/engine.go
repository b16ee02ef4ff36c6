package alerts

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// TickInterval is how often active alerts are evaluated.
const TickInterval = 30 * time.Second

// Notifier delivers a triggered-alert message to the user's channel.
type Notifier func(userID, text string)

// Engine is the periodic worker evaluating active alerts.
type Engine struct {
	repo   *Repository
	oracle price.Oracle
	notify Notifier
	bus    *hooks.Bus
	now    func() time.Time
	log    *zap.Logger
}

// NewEngine creates the worker.
func NewEngine(repo *Repository, oracle price.Oracle, notify Notifier, bus *hooks.Bus) *Engine {
	return &Engine{
		repo:   repo,
		oracle: oracle,
		notify: notify,
		bus:    bus,
		now:    time.Now,
		log:    logger.Named("alerts"),
	}
}

// Name implements worker.Worker.
func (e *Engine) Name() string { return "alert_engine" }

// Run evaluates every active alert once. Price lookup failures skip the
// alert without touching its state.
func (e *Engine) Run(ctx context.Context) error {
	active, err := e.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	for i := range active {
		alert := &active[i]
		current, err := e.oracle.GetTokenPrice(ctx, alert.Token)
		if err != nil {
			continue
		}

		fire := false
		switch alert.Type {
		case models.AlertPriceAbove:
			fire = current.GreaterThanOrEqual(alert.Threshold)
		case models.AlertPriceBelow:
			fire = current.LessThanOrEqual(alert.Threshold)
		}
		if !fire {
			continue
		}

		won, err := e.repo.Trigger(ctx, alert.ID, e.now())
		if err != nil {
			e.log.Error("Failed to trigger alert", zap.Int64("alert_id", alert.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		text := fmt.Sprintf("🔔 Alert Triggered: %s is now $%s (%s $%s)",
			alert.Token, current.StringFixed(2), describeType(alert.Type), alert.Threshold)
		if e.notify != nil {
			e.notify(alert.UserID, text)
		}
		if e.bus != nil {
			e.bus.Emit(ctx, hooks.Event{
				Category: "alert",
				Action:   "triggered",
				Payload:  map[string]interface{}{"alert_id": alert.ID, "user_id": alert.UserID, "price": current},
			})
		}
		e.log.Info("Alert triggered",
			zap.Int64("alert_id", alert.ID),
			zap.String("user_id", alert.UserID),
			zap.String("token", alert.Token),
			zap.String("price", current.String()))
	}
	return nil
}

func describeType(t models.AlertType) string {
	if t == models.AlertPriceAbove {
		return "rose above"
	}
	return "fell below"
}
