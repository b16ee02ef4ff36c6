// Package hooks provides the process-local pub/sub bus for lifecycle events.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Event is a typed (category, action, payload) tuple.
type Event struct {
	Category string
	Action   string
	Payload  interface{}
}

// Key returns the exact subscription key, "category:action".
func (e Event) Key() string {
	return e.Category + ":" + e.Action
}

// Handler receives dispatched events. Errors are logged, never propagated.
type Handler func(ctx context.Context, ev Event) error

// Well-known hook keys.
const (
	KeyCronJobStarted    = "cron:job_started"
	KeyCronJobFinished   = "cron:job_finished"
	KeyTxBeforeSimulate  = "tx:before_simulate"
	KeyTxAfterSimulate   = "tx:after_simulate"
	KeyTxBeforeBroadcast = "tx:before_broadcast"
	KeyTxAfterBroadcast  = "tx:after_broadcast"
	KeyTxConfirmed       = "tx:confirmed"
	KeyTxFailed          = "tx:failed"
	KeyAgentDecision     = "agent:decision"
	KeyAlertTriggered    = "alert:triggered"
)

type subscriber struct {
	id      int64
	handler Handler
}

// Bus dispatches events to handlers registered for the exact key or the
// whole category. A failing or panicking subscriber never prevents the
// others from running.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[string][]subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// On registers a handler for a key. The key is either "category:action" for
// an exact match or "category" for every action in the category. The
// returned function unsubscribes.
func (b *Bus) On(key string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[key] = append(b.subs[key], subscriber{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[key]
		for i, s := range list {
			if s.id == id {
				b.subs[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Emit dispatches the event synchronously to category and exact-key
// subscribers, isolating each handler.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]subscriber, 0, 4)
	handlers = append(handlers, b.subs[ev.Category]...)
	handlers = append(handlers, b.subs[ev.Key()]...)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.dispatch(ctx, s, ev)
	}
}

func (b *Bus) dispatch(ctx context.Context, s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("hook handler panicked",
				zap.String("key", ev.Key()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		logger.Warn("hook handler failed",
			zap.String("key", ev.Key()),
			zap.Error(err),
		)
	}
}

// Reset drops all subscribers. Test entry point.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscriber)
}

// SplitKey breaks "category:action" into its parts.
func SplitKey(key string) (category, action string, err error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid hook key %q", key)
	}
	return parts[0], parts[1], nil
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus, initialised exactly once.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}
