package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/paygate/server/internal/model"
	"github.com/paygate/server/internal/port/outbound"
	"github.com/paygate/server/internal/utils/money"
	"go.uber.org/zap"
)

// sender is the slice of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// notifier implements outbound.NotifierPort over the Telegram Bot API.
type notifier struct {
	bot         sender
	users       outbound.UserDirectoryPort
	adminChatID int64
	logger      *zap.Logger
}

// NewNotifier creates a Telegram notifier. adminChatID 0 disables operator messages.
func NewNotifier(bot *tgbotapi.BotAPI, users outbound.UserDirectoryPort, adminChatID int64, logger *zap.Logger) outbound.NotifierPort {
	return &notifier{bot: bot, users: users, adminChatID: adminChatID, logger: logger}
}

// NewBot connects to the Bot API.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	bot.Debug = false
	return bot, nil
}

func (n *notifier) NotifyUser(ctx context.Context, msg *model.Notification) error {
	chatID, err := n.users.TelegramID(ctx, msg.UserID)
	if err != nil {
		return err
	}
	if chatID == 0 {
		n.logger.Debug("user has no telegram chat", zap.Int64("user_id", msg.UserID))
		return nil
	}
	return n.send(ctx, chatID, msg.Text)
}

func (n *notifier) NotifyOperators(ctx context.Context, msg *model.Notification) error {
	if n.adminChatID == 0 {
		return nil
	}
	text := fmt.Sprintf("Top-up %s via %s\nuser: %d\npayment: %s\ntransaction: %s",
		money.FormatMajor(msg.AmountMinorUnits),
		msg.Provider,
		msg.UserID,
		msg.PaymentID,
		msg.TransactionID,
	)
	return n.send(ctx, n.adminChatID, text)
}

func (n *notifier) send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", chatID, err)
	}
	return nil
}

// noopNotifier is used when no bot token is configured.
type noopNotifier struct {
	logger *zap.Logger
}

// NewNoopNotifier creates a notifier that only logs.
func NewNoopNotifier(logger *zap.Logger) outbound.NotifierPort {
	return &noopNotifier{logger: logger}
}

func (n *noopNotifier) NotifyUser(_ context.Context, msg *model.Notification) error {
	n.logger.Debug("user notification skipped", zap.Int64("user_id", msg.UserID))
	return nil
}

func (n *noopNotifier) NotifyOperators(_ context.Context, msg *model.Notification) error {
	n.logger.Debug("operator notification skipped", zap.String("payment_id", msg.PaymentID.String()))
	return nil
}

var (
	_ outbound.NotifierPort = (*notifier)(nil)
	_ outbound.NotifierPort = (*noopNotifier)(nil)
)
