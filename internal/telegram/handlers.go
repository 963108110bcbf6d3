package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Notifier delivers messages to users outside of their conversation
type Notifier interface {
	Notify(userID int64, text string)
}

// Bot wraps the telegram bot and feeds updates to the router
type Bot struct {
	bot      *bot.Bot
	router   *Router
	notifier Notifier
	log      *slog.Logger
}

// New creates a new telegram bot
func New(token string, router *Router, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		router: router,
		log:    log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	for _, cmd := range []string{"/start", "/confirm", "/admin", "/accrual"} {
		tgBot.RegisterHandler(bot.HandlerTypeMessageText, cmd, bot.MatchTypeExact, b.commandHandler)
		tgBot.RegisterHandler(bot.HandlerTypeMessageText, cmd+" ", bot.MatchTypePrefix, b.commandHandler)
	}

	return b, nil
}

// UseNotifier routes notifications through n instead of sending them inline
func (b *Bot) UseNotifier(n Notifier) {
	b.notifier = n
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) commandHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	resp := b.router.Handle(ctx, msg.From.ID, msg.From.Username, parseCommand(msg.Text))
	b.render(ctx, msg.Chat.ID, nil, resp)
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	ev := Event{Kind: EventText, Text: msg.Text}
	if strings.HasPrefix(msg.Text, "/") {
		ev = parseCommand(msg.Text)
	}

	resp := b.router.Handle(ctx, msg.From.ID, msg.From.Username, ev)
	b.render(ctx, msg.Chat.ID, nil, resp)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	resp := b.router.Handle(ctx, cb.From.ID, cb.From.Username, Event{Kind: EventCallback, Data: cb.Data})

	// Answer callback to remove loading state
	answer := &bot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID}
	if resp.Alert != "" {
		answer.Text = resp.Alert
		answer.ShowAlert = true
	}
	if _, err := tgBot.AnswerCallbackQuery(ctx, answer); err != nil {
		b.log.Warn("answer callback", "error", err)
	}

	chatID := cb.From.ID
	if cb.Message.Message != nil {
		chatID = cb.Message.Message.Chat.ID
	}
	b.render(ctx, chatID, cb.Message.Message, resp)
}

// --- Helpers ---

// parseCommand splits "/cmd@bot arg1 arg2" into an event
func parseCommand(text string) Event {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Event{Kind: EventCommand}
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return Event{Kind: EventCommand, Command: strings.ToLower(cmd), Args: fields[1:]}
}

func (b *Bot) render(ctx context.Context, chatID int64, origin *models.Message, resp Response) {
	if resp.Text != "" {
		if resp.Edit && origin != nil {
			b.editMessage(ctx, origin, resp.Text, markup(resp.Keyboard))
		} else {
			b.sendMessage(ctx, chatID, resp.Text, markup(resp.Keyboard))
		}
	}

	for _, n := range resp.Notifications {
		if b.notifier != nil {
			b.notifier.Notify(n.UserID, n.Text)
			continue
		}
		if err := b.SendNotification(ctx, n.UserID, n.Text); err != nil {
			b.log.Warn("send notification", "user_id", n.UserID, "error", err)
		}
	}
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg *models.Message, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.EditMessageTextParams{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      text,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends a message to a user outside of a conversation
func (b *Bot) SendNotification(ctx context.Context, userID int64, text string) error {
	disablePreview := true
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   text,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}
