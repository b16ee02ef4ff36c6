// Package telegram runs the Telegram channel: long-poll update loop,
// markdown replies, inline-keyboard confirmations.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/router"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// confirmationTTL bounds how long a pending ✅/❌ prompt stays answerable.
const confirmationTTL = 2 * time.Minute

// Bot is the Telegram channel adapter. All dispatch goes through the
// shared router; the bot only translates updates and replies.
type Bot struct {
	api        *tgbotapi.BotAPI
	router     *router.Router
	allowlist  map[string]struct{} // empty means open access
	confirmTTL time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	pending map[string]chan bool // confirmation id -> verdict
}

// NewBot connects to the Telegram API. allowlist holds permitted user
// ids ("tg:<numeric id>"); empty means everyone may talk to the bot.
func NewBot(token string, rt *router.Router, allowlist []string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	allowed := make(map[string]struct{}, len(allowlist))
	for _, id := range allowlist {
		allowed[id] = struct{}{}
	}

	log := logger.Named("telegram")
	log.Info("🤖 telegram bot initialized", zap.String("username", api.Self.UserName))

	return &Bot{
		api:        api,
		router:     rt,
		allowlist:  allowed,
		confirmTTL: confirmationTTL,
		log:        log,
		pending:    make(map[string]chan bool),
	}, nil
}

// Start runs the update loop until the context is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("🚀 telegram bot started, listening for messages")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				b.handleCallback(update.CallbackQuery)
			case update.Message != nil && update.Message.Text != "":
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := "tg:" + strconv.FormatInt(msg.From.ID, 10)
	if !b.allowed(userID) {
		b.log.Warn("message from user outside allowlist", zap.String("user_id", userID))
		b.send(msg.Chat.ID, "⛔ This bot is private.")
		return
	}

	cc := &router.ChannelContext{
		UserID:    userID,
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		Platform:  "telegram",
		SendReply: func(text string) {
			b.send(msg.Chat.ID, text)
		},
		RequestConfirmation: func(ctx context.Context, prompt string) (bool, error) {
			return b.requestConfirmation(ctx, msg.Chat.ID, prompt)
		},
	}

	if err := b.router.Dispatch(ctx, cc, msg.Text); err != nil {
		b.log.Error("dispatch failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

func (b *Bot) allowed(userID string) bool {
	if len(b.allowlist) == 0 {
		return true
	}
	_, ok := b.allowlist[userID]
	return ok
}

func (b *Bot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		// Markdown can fail on user-provided text; retry plain.
		msg.ParseMode = ""
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

// requestConfirmation shows ✅/❌ buttons and blocks for the verdict.
// TTL expiry surfaces as a deadline error so callers render the timeout
// path rather than a user decline.
func (b *Bot) requestConfirmation(ctx context.Context, chatID int64, prompt string) (bool, error) {
	id := uuid.NewString()
	verdict := make(chan bool, 1)

	b.mu.Lock()
	b.pending[id] = verdict
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "confirm:"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel:"+id),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		return false, fmt.Errorf("failed to send confirmation prompt: %w", err)
	}

	select {
	case approved := <-verdict:
		return approved, nil
	case <-time.After(b.confirmTTL):
		b.send(chatID, "⌛ Confirmation timed out; nothing was executed.")
		return false, context.DeadlineExceeded
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	var approved bool
	var id string
	switch {
	case len(cb.Data) > 8 && cb.Data[:8] == "confirm:":
		approved, id = true, cb.Data[8:]
	case len(cb.Data) > 7 && cb.Data[:7] == "cancel:":
		approved, id = false, cb.Data[7:]
	default:
		return
	}

	b.mu.Lock()
	verdict, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	ack := tgbotapi.NewCallback(cb.ID, "")
	if !ok {
		ack.Text = "This confirmation has expired."
	}
	if _, err := b.api.Request(ack); err != nil {
		b.log.Warn("failed to ack callback", zap.Error(err))
	}
	if ok {
		verdict <- approved
	}
}

// SendTo delivers a background notification to a user by their
// prefixed id ("tg:<numeric id>"). Direct chats share the user's id.
func (b *Bot) SendTo(userID, text string) error {
	raw := strings.TrimPrefix(userID, "tg:")
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed telegram user id %q", userID)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		msg.ParseMode = ""
		if _, err := b.api.Send(msg); err != nil {
			return fmt.Errorf("failed to deliver notification: %w", err)
		}
	}
	return nil
}
