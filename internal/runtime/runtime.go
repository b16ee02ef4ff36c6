// Package runtime drives one conversational turn end to end: persist
// the message, parse intents, execute skills, reply.
package runtime

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/intent"
	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// historyWindow is how many prior entries feed the parser.
const historyWindow = 10

// Runtime executes a user turn against the skill registry.
type Runtime struct {
	conversations *memory.ConversationRepository
	parser        *intent.Parser
	registry      *skills.Registry
	log           *zap.Logger
}

// New creates the runtime.
func New(conversations *memory.ConversationRepository, parser *intent.Parser, registry *skills.Registry) *Runtime {
	return &Runtime{
		conversations: conversations,
		parser:        parser,
		registry:      registry,
		log:           logger.Named("runtime"),
	}
}

// HandleTurn runs one full turn and returns the assistant reply. The
// skill context carries the caller's identity, wallet and preferences.
func (r *Runtime) HandleTurn(ctx context.Context, sc *skills.Context, message string) (string, error) {
	if err := r.conversations.AddMessage(ctx, sc.UserID, models.RoleUser, message); err != nil {
		return "", fmt.Errorf("failed to record user message: %w", err)
	}

	history, err := r.conversations.GetHistory(ctx, sc.UserID, historyWindow+1)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	// The entry just written is the last row; the parser gets the
	// current message separately.
	if n := len(history); n > 0 {
		history = history[:n-1]
	}

	result := r.parser.Parse(ctx, message, history)

	if result.ClarificationNeeded {
		question := result.ClarificationQuestion
		if question == "" {
			question = "Could you give me a bit more detail?"
		}
		return r.reply(ctx, sc.UserID, question)
	}

	if allUnknown(result.Intents) && result.ConversationalReply != "" {
		return r.reply(ctx, sc.UserID, result.ConversationalReply)
	}

	parts := make([]string, 0, len(result.Intents))
	for _, it := range result.Intents {
		if it.Action == intent.ActionUnknown {
			continue
		}
		parts = append(parts, r.executeIntent(ctx, sc, it))
	}
	if len(parts) == 0 {
		return r.reply(ctx, sc.UserID, "I'm not sure what you're asking for. Try /help to see what I can do.")
	}

	return r.reply(ctx, sc.UserID, strings.Join(parts, "\n\n"))
}

// executeIntent runs one skill. Failures become user-visible text so
// later intents still run.
func (r *Runtime) executeIntent(ctx context.Context, sc *skills.Context, it intent.Intent) string {
	skill := r.registry.Get(it.Action)
	if skill == nil {
		r.log.Warn("intent names unregistered skill", zap.String("action", it.Action))
		return fmt.Sprintf("I don't have a %q skill yet.", it.Action)
	}

	res, err := skill.Execute(ctx, it.Params, sc)
	if err != nil {
		r.log.Warn("skill failed",
			zap.String("skill", it.Action),
			zap.String("user_id", sc.UserID),
			zap.Error(err))
		return fmt.Sprintf("Failed to execute %s: %s", it.Action, shortReason(err))
	}
	return res.Message
}

// reply records the assistant turn and returns it.
func (r *Runtime) reply(ctx context.Context, userID, text string) (string, error) {
	if err := r.conversations.AddMessage(ctx, userID, models.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("failed to record reply: %w", err)
	}
	return text, nil
}

func allUnknown(intents []intent.Intent) bool {
	for _, it := range intents {
		if it.Action != intent.ActionUnknown {
			return false
		}
	}
	return len(intents) > 0
}

// shortReason keeps error text presentable: first line, bounded length.
func shortReason(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	if len(msg) > 120 {
		msg = msg[:117] + "..."
	}
	return msg
}
