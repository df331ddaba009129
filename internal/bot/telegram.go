package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"order-bot/internal/workflow"
	"order-bot/pkg/logger"
)

// Conversation is the message pipeline behind the bot.
type Conversation interface {
	Handle(ctx context.Context, sessionID, text string) *workflow.Reply
	Logout(ctx context.Context, sessionID string) *workflow.Reply
}

// api is the part of tgbotapi.BotAPI the bot uses.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type TelegramBot struct {
	bot          *tgbotapi.BotAPI
	api          api
	conversation Conversation
	logger       *logger.Logger
	wg           sync.WaitGroup
}

func NewTelegramBot(token string, debug bool, conversation Conversation, logger *logger.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	bot.Debug = debug

	logger.Infow("Authorized on Telegram", "username", bot.Self.UserName)

	return &TelegramBot{
		bot:          bot,
		api:          bot,
		conversation: conversation,
		logger:       logger,
	}, nil
}

// SessionID is the session key for a Telegram chat.
func SessionID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func chatID(sessionID string) (int64, error) {
	id, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session %q is not a Telegram chat: %w", sessionID, err)
	}
	return id, nil
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	t.logger.Info("Removing any existing webhook")
	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(updateConfig)
	t.logger.Info("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)
	return nil
}

func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		t.wg.Add(1)
		go func(update tgbotapi.Update) {
			defer t.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.logger.Errorw("Recovered from panic while processing update", "error", r)
				}
			}()
			t.handleUpdate(ctx, update)
		}(update)
	}
}

// Notify pushes an out-of-band reply, such as a payment outcome, to the chat.
func (t *TelegramBot) Notify(_ context.Context, sessionID string, reply *workflow.Reply) error {
	id, err := chatID(sessionID)
	if err != nil {
		return err
	}
	return t.send(id, reply)
}

func (t *TelegramBot) send(chatID int64, reply *workflow.Reply) error {
	if reply == nil || reply.Text == "" {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.QuickReplies) > 0 {
		msg.ReplyMarkup = keyboard(reply.QuickReplies)
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// keyboard renders quick replies as inline buttons, two per row.
func keyboard(replies []workflow.QuickReply) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(replies); i += 2 {
		end := min(i+2, len(replies))
		row := make([]tgbotapi.InlineKeyboardButton, 0, 2)
		for _, qr := range replies[i:end] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(qr.Label, qr.Value))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Stop gracefully shuts down the bot
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return nil
	}
}
