package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"garagehub/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func booking(status models.BookingStatus) *models.Booking {
	return &models.Booking{
		ID:             42,
		CustomerChatID: 123,
		ServiceName:    "Oil <change>",
		Status:         status,
		Mechanic:       &models.Mechanic{Name: "Budi"},
		ScheduledAt:    time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestNotifyStatus(t *testing.T) {
	sender := new(mockTelegramSender)
	n := NewTelegramNotifier(sender, time.UTC, nil)

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 123 &&
			msg.ParseMode == models.ParseModeHTML &&
			strings.Contains(msg.Text, "Budi is on the way")
	})).Return(tgbotapi.Message{}, nil).Once()

	require.NoError(t, n.NotifyStatus(context.Background(), booking(models.StatusEnRoute)))
	sender.AssertExpectations(t)
}

func TestNotifyStatusSkipsWithoutChat(t *testing.T) {
	sender := new(mockTelegramSender)
	n := NewTelegramNotifier(sender, nil, nil)

	b := booking(models.StatusCompleted)
	b.CustomerChatID = 0
	assert.NoError(t, n.NotifyStatus(context.Background(), b))
	sender.AssertNotCalled(t, "Send", mock.Anything)

	assert.Error(t, n.NotifyStatus(context.Background(), nil))
}

func TestNotifyStatusSendError(t *testing.T) {
	sender := new(mockTelegramSender)
	n := NewTelegramNotifier(sender, time.UTC, nil)
	boom := errors.New("telegram down")
	sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, boom).Once()

	err := n.NotifyStatus(context.Background(), booking(models.StatusCompleted))
	assert.ErrorIs(t, err, boom)
}

func TestStatusMessage(t *testing.T) {
	confirmed := StatusMessage(booking(models.StatusBookingConfirmed), time.UTC)
	assert.Contains(t, confirmed, "<b>Booking Confirmed</b>")
	assert.Contains(t, confirmed, "Oil &lt;change&gt;")
	assert.Contains(t, confirmed, "Mar 1, 9:30 AM")

	b := booking(models.StatusMechanicAssigned)
	b.Mechanic = nil
	assert.Contains(t, StatusMessage(b, time.UTC), "Your mechanic will handle")

	assert.Contains(t, StatusMessage(booking(models.StatusCancelled), time.UTC), "#42 has been cancelled")
	assert.Contains(t, StatusMessage(booking(models.StatusUnknown), time.UTC), "#42 was updated")
}
