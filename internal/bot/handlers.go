package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"order-bot/internal/workflow"
)

const (
	msgHelp           = "I can take your order right here. Tell me what you'd like, say \"checkout\" when you're done, and pick how to pay. Use /logout to switch numbers."
	msgUnknownCommand = "Unknown command. Use /help to see what I can do."
	msgUnsupported    = "Sorry, I can only read text messages."
)

func (t *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		t.logger.Debugw("Received message", "update_id", update.UpdateID, "chat_id", update.Message.Chat.ID)
		if update.Message.IsCommand() {
			t.handleCommand(ctx, update.Message)
		} else {
			t.handleMessage(ctx, update.Message)
		}
	case update.CallbackQuery != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	sessionID := SessionID(chatID)

	t.logger.Infow("Handling command", "command", message.Command(), "chat_id", chatID)

	var reply *workflow.Reply
	switch message.Command() {
	case "start":
		// Deep links back from the hosted payment page.
		switch message.CommandArguments() {
		case "payment_success", "payment_cancel":
			reply = t.conversation.Handle(ctx, sessionID, "payment status")
		default:
			reply = t.conversation.Handle(ctx, sessionID, "hello")
		}
	case "logout":
		reply = t.conversation.Logout(ctx, sessionID)
	case "help":
		reply = &workflow.Reply{Text: msgHelp}
	default:
		reply = &workflow.Reply{Text: msgUnknownCommand}
	}

	t.reply(chatID, reply)
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	text := strings.TrimSpace(message.Text)
	if message.Contact != nil && message.Contact.PhoneNumber != "" {
		text = message.Contact.PhoneNumber
	}
	if text == "" {
		t.reply(chatID, &workflow.Reply{Text: msgUnsupported})
		return
	}

	t.reply(chatID, t.conversation.Handle(ctx, SessionID(chatID), text))
}

// handleCallbackQuery turns an inline button press into the button's value as text.
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Warnw("Failed to acknowledge callback", "error", err)
	}

	if query.Message == nil || query.Data == "" {
		return
	}
	chatID := query.Message.Chat.ID
	t.logger.Debugw("Received callback query", "chat_id", chatID, "data", query.Data)

	t.reply(chatID, t.conversation.Handle(ctx, SessionID(chatID), query.Data))
}

func (t *TelegramBot) reply(chatID int64, reply *workflow.Reply) {
	if err := t.send(chatID, reply); err != nil {
		t.logger.Errorw("Failed to send reply", "chat_id", chatID, "error", err)
	}
}
