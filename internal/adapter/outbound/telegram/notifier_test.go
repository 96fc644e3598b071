package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/paygate/server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) TelegramID(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func newTestNotifier(bot sender, users *MockUserDirectory, adminChatID int64) *notifier {
	return &notifier{bot: bot, users: users, adminChatID: adminChatID, logger: zap.NewNop()}
}

func messageTo(chatID int64, contains string) any {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == chatID && strings.Contains(msg.Text, contains)
	})
}

func TestNotifier_NotifyUser(t *testing.T) {
	ctx := context.Background()
	n := &model.Notification{UserID: 7, Text: "Balance topped up by 100.00 RUB via cryptobot"}

	t.Run("sends to the user's chat", func(t *testing.T) {
		bot := new(MockSender)
		users := new(MockUserDirectory)
		users.On("TelegramID", ctx, int64(7)).Return(int64(555), nil)
		bot.On("Send", messageTo(555, "100.00 RUB")).Return(nil)

		require.NoError(t, newTestNotifier(bot, users, 0).NotifyUser(ctx, n))
		bot.AssertExpectations(t)
	})

	t.Run("skips users without a chat", func(t *testing.T) {
		bot := new(MockSender)
		users := new(MockUserDirectory)
		users.On("TelegramID", ctx, int64(7)).Return(int64(0), nil)

		require.NoError(t, newTestNotifier(bot, users, 0).NotifyUser(ctx, n))
		bot.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("wraps send errors", func(t *testing.T) {
		bot := new(MockSender)
		users := new(MockUserDirectory)
		users.On("TelegramID", ctx, int64(7)).Return(int64(555), nil)
		bot.On("Send", mock.Anything).Return(errors.New("Forbidden: bot was blocked by the user"))

		err := newTestNotifier(bot, users, 0).NotifyUser(ctx, n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
	})
}

func TestNotifier_NotifyOperators(t *testing.T) {
	ctx := context.Background()
	n := &model.Notification{
		UserID:           7,
		PaymentID:        uuid.New(),
		TransactionID:    uuid.New(),
		Provider:         model.ProviderMulenPay,
		AmountMinorUnits: 25050,
	}

	t.Run("disabled without admin chat", func(t *testing.T) {
		bot := new(MockSender)
		require.NoError(t, newTestNotifier(bot, new(MockUserDirectory), 0).NotifyOperators(ctx, n))
		bot.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("sends summary to admin chat", func(t *testing.T) {
		bot := new(MockSender)
		bot.On("Send", messageTo(-100123, "250.50 via mulenpay")).Return(nil)

		require.NoError(t, newTestNotifier(bot, new(MockUserDirectory), -100123).NotifyOperators(ctx, n))
		bot.AssertExpectations(t)
	})

	t.Run("cancelled context sends nothing", func(t *testing.T) {
		bot := new(MockSender)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := newTestNotifier(bot, new(MockUserDirectory), -100123).NotifyOperators(cctx, n)
		assert.ErrorIs(t, err, context.Canceled)
		bot.AssertNotCalled(t, "Send", mock.Anything)
	})
}
