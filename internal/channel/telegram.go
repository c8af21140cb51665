package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alertresolver/internal/config"
	"alertresolver/internal/domain"
	"alertresolver/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramSender sends messages to one Telegram chat through the Bot API.
// Params: bot token, chat id, and API base URL.
// Returns: Telegram transport.
type TelegramSender struct {
	client *tgbot.Bot
	chatID any
}

// NewTelegramSender creates Telegram sender without calling getMe.
// Params: Telegram channel config.
// Returns: initialized sender or config error.
func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat_id is required")
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramSender{client: botClient, chatID: normalizeChatID(cfg.ChatID)}, nil
}

// Send posts one HTML message; raise attachments follow as reply documents.
func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      msg.Text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return classifyTelegramError(fmt.Errorf("telegram send: %w", err))
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	if msg.Action != ActionRaise || msg.Notification == nil {
		return nil
	}
	for _, file := range msg.Notification.Attachments {
		if err := s.sendDocument(ctx, sent.ID, file); err != nil {
			return err
		}
	}
	return nil
}

// sendDocument uploads one attachment as a reply to the alert message.
func (s *TelegramSender) sendDocument(ctx context.Context, replyTo int, file domain.Attachment) error {
	_, err := s.client.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:          s.chatID,
		Document:        &tgmodels.InputFileUpload{Filename: file.Name, Data: bytes.NewReader(file.Content)},
		ReplyParameters: &tgmodels.ReplyParameters{MessageID: replyTo},
	})
	if err != nil {
		return classifyTelegramError(fmt.Errorf("telegram document %s: %w", file.Name, err))
	}
	return nil
}

// classifyTelegramError marks Bot API rejections that a retry cannot fix.
func classifyTelegramError(err error) error {
	if errors.Is(err, tgbot.ErrorBadRequest) || errors.Is(err, tgbot.ErrorForbidden) ||
		errors.Is(err, tgbot.ErrorUnauthorized) || errors.Is(err, tgbot.ErrorNotFound) {
		return permanent.Mark(err)
	}
	return err
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
