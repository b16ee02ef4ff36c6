package notify

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Sender pushes one message to a platform. An error means the queue
// keeps the message for retry.
type Sender func(userID, text string) error

// Dispatcher routes notifications by user id prefix ("tg:", "web:").
// Failed sends land in the durable queue; Run drains it.
type Dispatcher struct {
	repo *QueueRepository
	log  *zap.Logger

	mu      sync.RWMutex
	senders map[string]Sender // platform -> sender
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(repo *QueueRepository) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		log:     logger.Named("notify"),
		senders: make(map[string]Sender),
	}
}

// RegisterSender wires a platform's outbound path. Adapters register
// themselves at boot.
func (d *Dispatcher) RegisterSender(platform string, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[platform] = sender
}

// Notify attempts immediate delivery and falls back to the queue.
// Safe to call from any background worker.
func (d *Dispatcher) Notify(ctx context.Context, userID, text string) {
	platform := platformOf(userID)

	d.mu.RLock()
	sender, ok := d.senders[platform]
	d.mu.RUnlock()

	if ok {
		err := sender(userID, text)
		if err == nil {
			return
		}
		d.log.Warn("direct delivery failed, queueing",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	if err := d.repo.Enqueue(ctx, userID, platform, text); err != nil {
		d.log.Error("failed to queue notification",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// Name implements worker.Worker.
func (d *Dispatcher) Name() string { return "delivery_queue" }

// Run drains the pending queue once.
func (d *Dispatcher) Run(ctx context.Context) error {
	pending, err := d.repo.Pending(ctx, 100)
	if err != nil {
		return err
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d.mu.RLock()
		sender, ok := d.senders[msg.Platform]
		d.mu.RUnlock()

		if !ok {
			// Adapter not running; leave the row for a later sweep.
			continue
		}
		if err := sender(msg.UserID, msg.Message); err != nil {
			d.log.Warn("queued delivery failed",
				zap.Int64("id", msg.ID),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err))
			if err := d.repo.MarkFailed(ctx, msg.ID); err != nil {
				return err
			}
			continue
		}
		if err := d.repo.MarkDelivered(ctx, msg.ID); err != nil {
			return err
		}
	}

	if n := len(pending); n > 0 {
		d.log.Debug("delivery sweep complete", zap.Int("pending", n))
	}
	return nil
}

// platformOf extracts the platform tag from a prefixed user id.
func platformOf(userID string) string {
	if idx := strings.IndexByte(userID, ':'); idx > 0 {
		switch userID[:idx] {
		case "tg":
			return "telegram"
		default:
			return userID[:idx]
		}
	}
	return "unknown"
}
