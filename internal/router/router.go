// Package router is the platform-agnostic dispatch layer: slash
// commands handled inline, everything else forwarded to the runtime.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/runtime"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/internal/wallet"
	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// ChannelContext is what an adapter hands the router for one inbound
// message. UserID must be stable per end-user per platform.
type ChannelContext struct {
	UserID    string
	ChannelID string
	Platform  string

	SendReply func(text string)
	// RequestConfirmation is nil on channels that cannot prompt.
	RequestConfirmation func(ctx context.Context, prompt string) (bool, error)
}

// Router dispatches inbound messages from any channel adapter.
type Router struct {
	runtime       *runtime.Runtime
	registry      *skills.Registry
	wallets       *wallet.Manager
	prefs         *memory.PreferencesRepository
	conversations *memory.ConversationRepository
	chainIDs      []int64
	limiter       *rateLimiter
	log           *zap.Logger
}

// New creates the router. runtime may be nil when no LLM provider is
// configured; free text then reports a configuration error.
func New(rt *runtime.Runtime, registry *skills.Registry, wallets *wallet.Manager, prefs *memory.PreferencesRepository, conversations *memory.ConversationRepository, chainIDs []int64) *Router {
	return &Router{
		runtime:       rt,
		registry:      registry,
		wallets:       wallets,
		prefs:         prefs,
		conversations: conversations,
		chainIDs:      chainIDs,
		limiter:       newRateLimiter(),
		log:           logger.Named("router"),
	}
}

// Dispatch handles one inbound message. Replies go through
// cc.SendReply; the returned error is for the adapter's log only.
func (r *Router) Dispatch(ctx context.Context, cc *ChannelContext, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if !r.limiter.Allow(cc.UserID) {
		cc.SendReply("⏳ You're sending messages too quickly. Give me a few seconds.")
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return r.dispatchCommand(ctx, cc, text)
	}

	if r.runtime == nil {
		cc.SendReply("⚠️ Natural-language commands are not available: no LLM provider is configured.")
		return errs.Config("llm", "runtime not wired, free text rejected")
	}

	reply, err := r.runtime.HandleTurn(ctx, r.skillContext(ctx, cc), text)
	if err != nil {
		cc.SendReply("⚠️ Something went wrong handling that. Please try again.")
		return fmt.Errorf("failed to handle turn: %w", err)
	}
	cc.SendReply(reply)
	return nil
}

func (r *Router) dispatchCommand(ctx context.Context, cc *ChannelContext, text string) error {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "/start":
		cc.SendReply(r.startMessage(cc.UserID))
	case "/help":
		cc.SendReply(r.helpMessage())
	case "/wallet":
		cc.SendReply(r.walletCommand(ctx, cc.UserID, args))
	case "/balance":
		return r.runSkill(ctx, cc, "balance", map[string]interface{}{})
	case "/clear":
		if err := r.conversations.Clear(ctx, cc.UserID); err != nil {
			cc.SendReply("⚠️ Could not clear your history. Please try again.")
			return fmt.Errorf("failed to clear history: %w", err)
		}
		cc.SendReply("🧹 Conversation history cleared.")
	default:
		cc.SendReply(fmt.Sprintf("Unknown command %s. Try /help.", command))
	}
	return nil
}

func (r *Router) startMessage(userID string) string {
	if r.wallets != nil {
		if _, ok := r.wallets.Default(userID); ok {
			return "👋 Welcome back! Ask me anything, or try /help for a list of skills."
		}
	}

	var b strings.Builder
	b.WriteString("🚀 Welcome to ChainClaw, your self-hosted DeFi assistant.\n\n")
	b.WriteString("Setup Guide:\n")
	b.WriteString("1. Create a wallet with /wallet create (or import one with /wallet import <key>)\n")
	b.WriteString("2. Fund it with a small amount to start\n")
	b.WriteString("3. Check /balance, then just tell me what you want to do\n\n")
	b.WriteString("Try: \"swap 0.1 ETH to USDC\" or \"alert me when ETH drops below 3000\"")
	return b.String()
}

func (r *Router) helpMessage() string {
	var b strings.Builder
	b.WriteString("🧭 Commands:\n")
	b.WriteString("/start — onboarding\n")
	b.WriteString("/wallet create|import|list|default — manage wallets\n")
	b.WriteString("/balance — show balances\n")
	b.WriteString("/clear — forget our conversation\n\n")
	b.WriteString("Skills (just ask in plain language):\n")
	for _, skill := range r.registry.List() {
		fmt.Fprintf(&b, "• %s — %s\n", skill.Name, skill.Description)
	}
	return b.String()
}

func (r *Router) walletCommand(ctx context.Context, userID string, args []string) string {
	if r.wallets == nil {
		return "⚠️ Wallet storage is not configured."
	}
	if len(args) == 0 {
		return "Usage: /wallet <create|import|list|default>"
	}

	switch strings.ToLower(args[0]) {
	case "create":
		addr, err := r.wallets.Create(ctx, userID)
		if err != nil {
			r.log.Error("wallet create failed", zap.String("user_id", userID), zap.Error(err))
			return "⚠️ Could not create a wallet. Please try again."
		}
		return fmt.Sprintf("✅ Wallet created: %s\nIt is now your default wallet. Fund it to get started.", addr.Hex())
	case "import":
		if len(args) < 2 {
			return "Usage: /wallet import <private-key-hex>"
		}
		addr, err := r.wallets.Import(ctx, userID, args[1])
		if err != nil {
			return "⚠️ Could not import that key: " + shortReason(err)
		}
		return fmt.Sprintf("✅ Wallet imported: %s", addr.Hex())
	case "list":
		addrs := r.wallets.List()
		if len(addrs) == 0 {
			return "You have no wallets yet. Create one with /wallet create."
		}
		var b strings.Builder
		b.WriteString("🔑 Wallets:\n")
		def, hasDefault := r.wallets.Default(userID)
		for _, a := range addrs {
			marker := ""
			if hasDefault && a == def {
				marker = " (default)"
			}
			fmt.Fprintf(&b, "• %s%s\n", a.Hex(), marker)
		}
		return b.String()
	case "default":
		if len(args) < 2 {
			return "Usage: /wallet default <address>"
		}
		if !common.IsHexAddress(args[1]) {
			return "⚠️ That doesn't look like an address."
		}
		if err := r.wallets.SetDefault(userID, common.HexToAddress(args[1])); err != nil {
			return "⚠️ " + shortReason(err)
		}
		return "✅ Default wallet updated."
	default:
		return fmt.Sprintf("Unknown wallet command %q. Usage: /wallet <create|import|list|default>", args[0])
	}
}

// runSkill executes a registered skill directly, outside the runtime.
func (r *Router) runSkill(ctx context.Context, cc *ChannelContext, name string, params map[string]interface{}) error {
	skill := r.registry.Get(name)
	if skill == nil {
		cc.SendReply(fmt.Sprintf("⚠️ The %s skill is not available.", name))
		return errs.Config("skills", name+" not registered")
	}

	res, err := skill.Execute(ctx, params, r.skillContext(ctx, cc))
	if err != nil {
		cc.SendReply(fmt.Sprintf("Failed to execute %s: %s", name, shortReason(err)))
		return nil
	}
	cc.SendReply(res.Message)
	return nil
}

// skillContext builds the per-turn skill context from channel identity,
// wallet state and stored preferences.
func (r *Router) skillContext(ctx context.Context, cc *ChannelContext) *skills.Context {
	sc := &skills.Context{
		UserID:              cc.UserID,
		ChainIDs:            r.chainIDs,
		Prefs:               *models.DefaultPreferences(cc.UserID),
		SendReply:           cc.SendReply,
		RequestConfirmation: cc.RequestConfirmation,
	}
	if r.wallets != nil {
		if addr, ok := r.wallets.Default(cc.UserID); ok {
			sc.WalletAddress = addr.Hex()
		}
	}
	if r.prefs != nil {
		if prefs, err := r.prefs.Get(ctx, cc.UserID); err == nil {
			sc.Prefs = *prefs
		} else {
			r.log.Warn("failed to load preferences, using defaults",
				zap.String("user_id", cc.UserID), zap.Error(err))
		}
	}
	return sc
}

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
