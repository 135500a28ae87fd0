package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	relay "github.com/halden1427/gorelay"
	"github.com/halden1427/gorelay/llm"
	"github.com/halden1427/gorelay/skills"
)

// Streamed replies are delivered by editing one placeholder message.
// Telegram rate-limits edits, so a new edit needs both enough elapsed
// time and enough new text.
const (
	streamEditInterval = 500 * time.Millisecond
	streamEditMinChars = 50
)

// TelegramBot handles incoming messages via long polling. Commands go
// through the command layer; plain messages try skills first and then
// stream through the router with per-user conversation context.
type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	router     *relay.Router
	commands   *Commands
	auth       *Auth
	skills     *skills.Registry
	store      Store
	maxContext int
}

// NewTelegramBot creates a TelegramBot connected to the given token.
func NewTelegramBot(token string, router *relay.Router, commands *Commands, auth *Auth, reg *skills.Registry, store Store, maxContext int) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	bot.Debug = false
	return &TelegramBot{
		bot:        bot,
		router:     router,
		commands:   commands,
		auth:       auth,
		skills:     reg,
		store:      store,
		maxContext: maxContext,
	}, nil
}

// Start runs the long-polling loop until ctx is cancelled.
func (t *TelegramBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)

	slog.Info("telegram bot started", "account", t.bot.Self.UserName)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			go t.handle(ctx, update)
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		}
	}
}

// handle processes a single Telegram update.
func (t *TelegramBot) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	text := update.Message.Text

	if update.Message.IsCommand() {
		args := strings.Fields(update.Message.CommandArguments())
		reply := t.commands.Dispatch(userID, update.Message.Command(), args)
		t.send(chatID, reply)
		return
	}

	if remaining, locked := t.auth.LockedOut(userID); locked {
		t.send(chatID, fmt.Sprintf("You are locked out. Try again in %s.", remaining.Round(time.Second)))
		return
	}
	if _, ok := t.auth.Level(userID); !ok {
		t.send(chatID, "You are not authorized to use this bot.")
		return
	}

	// Skills short-circuit the LLM entirely.
	if sk := t.skills.Match(text); sk != nil {
		reply, err := sk.Run(ctx, text)
		if err != nil {
			slog.Warn("skill failed", "skill", sk.Name(), "error", err)
			reply = "That didn't work: " + err.Error()
		}
		t.send(chatID, reply)
		return
	}

	t.chat(ctx, userID, chatID, text)
}

// chat streams a router response into an edited placeholder message.
func (t *TelegramBot) chat(ctx context.Context, userID, chatID int64, text string) {
	messages := t.history(userID)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	if err := t.store.AppendChatMessage(userID, string(llm.RoleUser), text); err != nil {
		slog.Warn("store user message failed", "user", userID, "error", err)
	}

	placeholder, err := t.bot.Send(tgbotapi.NewMessage(chatID, "…"))
	if err != nil {
		slog.Warn("send placeholder failed", "chat", chatID, "error", err)
		return
	}

	var sb strings.Builder
	throttle := newEditThrottle(streamEditInterval, streamEditMinChars)
	var streamErr error

	for chunk := range t.router.Stream(ctx, messages, userID, "") {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		sb.WriteString(chunk.Content)
		if throttle.shouldEdit(sb.Len()) {
			t.edit(chatID, placeholder.MessageID, sb.String())
		}
	}

	final := sb.String()
	switch {
	case streamErr != nil && final == "":
		var allFailed *relay.AllBackendsFailedError
		if errors.As(streamErr, &allFailed) {
			final = "All backends are unavailable right now, try again later."
		} else {
			final = "Something went wrong, try again."
		}
	case streamErr != nil:
		final += "\n\n[response truncated]"
	}
	t.edit(chatID, placeholder.MessageID, final)

	if streamErr == nil && sb.Len() > 0 {
		if err := t.store.AppendChatMessage(userID, string(llm.RoleAssistant), sb.String()); err != nil {
			slog.Warn("store assistant message failed", "user", userID, "error", err)
		}
		if t.maxContext > 0 {
			if err := t.store.TrimChatHistory(userID, t.maxContext); err != nil {
				slog.Warn("trim history failed", "user", userID, "error", err)
			}
		}
	}
}

// history loads the user's rolling context from the store.
func (t *TelegramBot) history(userID int64) []llm.Message {
	stored, err := t.store.ChatHistory(userID, t.maxContext)
	if err != nil {
		slog.Warn("load history failed", "user", userID, "error", err)
		return nil
	}

	out := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}

func (t *TelegramBot) send(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Warn("telegram send failed", "chat", chatID, "error", err)
	}
}

func (t *TelegramBot) edit(chatID int64, messageID int, text string) {
	if text == "" {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		slog.Warn("telegram edit failed", "chat", chatID, "error", err)
	}
}

// editThrottle decides when a growing draft warrants another message
// edit.
type editThrottle struct {
	minInterval time.Duration
	minChars    int

	lastEdit time.Time
	lastLen  int

	// now is the clock; replaced in tests.
	now func() time.Time
}

func newEditThrottle(minInterval time.Duration, minChars int) *editThrottle {
	return &editThrottle{
		minInterval: minInterval,
		minChars:    minChars,
		now:         time.Now,
	}
}

// shouldEdit reports whether the draft at the given length should be
// flushed to Telegram, and records the flush when it should.
func (e *editThrottle) shouldEdit(length int) bool {
	if length-e.lastLen < e.minChars {
		return false
	}
	if e.now().Sub(e.lastEdit) < e.minInterval {
		return false
	}
	e.lastEdit = e.now()
	e.lastLen = length
	return true
}
