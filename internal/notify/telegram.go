package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/models"
	"garagehub/internal/timeline"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrNoChat is returned for bookings without a linked Telegram chat.
var ErrNoChat = errors.New("booking has no telegram chat")

// TelegramNotifier sends booking status updates to the customer's chat.
type TelegramNotifier struct {
	bot      domain.TelegramSender
	location *time.Location
	logger   zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, location *time.Location, logger *zerolog.Logger) *TelegramNotifier {
	if location == nil {
		location = time.UTC
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "notify").Logger()
	}
	return &TelegramNotifier{bot: bot, location: location, logger: base}
}

// NotifyStatus implements domain.Notifier. Bookings without a chat id are
// skipped without error so the task is not retried forever.
func (n *TelegramNotifier) NotifyStatus(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}
	if booking.CustomerChatID == 0 {
		n.logger.Debug().Int64("booking_id", booking.ID).Msg("no chat linked, notification skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(booking.CustomerChatID, StatusMessage(booking, n.location))
	msg.ParseMode = models.ParseModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send status message: %w", err)
	}

	n.logger.Info().
		Int64("booking_id", booking.ID).
		Str("status", booking.Status.String()).
		Msg("status notification sent")
	return nil
}

// StatusMessage renders the customer-facing text for the booking's current status.
func StatusMessage(booking *models.Booking, loc *time.Location) string {
	var b strings.Builder
	service := html.EscapeString(booking.ServiceName)

	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(booking.Status.String()))
	switch booking.Status {
	case models.StatusBookingConfirmed:
		fmt.Fprintf(&b, "Your %s booking #%d is confirmed for %s.", service, booking.ID,
			booking.ScheduledAt.In(loc).Format(timeline.FormatDateTime))
	case models.StatusMechanicAssigned:
		fmt.Fprintf(&b, "%s will handle your %s.", mechanicName(booking), service)
	case models.StatusEnRoute:
		fmt.Fprintf(&b, "%s is on the way. Open the booking to track the arrival.", mechanicName(booking))
	case models.StatusInProgress:
		fmt.Fprintf(&b, "Work on your %s has started.", service)
	case models.StatusCompleted:
		fmt.Fprintf(&b, "Your %s is done. Thank you for choosing us!", service)
	case models.StatusCancelled:
		fmt.Fprintf(&b, "Booking #%d has been cancelled.", booking.ID)
	case models.StatusRescheduleRequested:
		fmt.Fprintf(&b, "We received your request to reschedule booking #%d.", booking.ID)
	default:
		fmt.Fprintf(&b, "Booking #%d was updated.", booking.ID)
	}
	return b.String()
}

func mechanicName(booking *models.Booking) string {
	if booking.Mechanic == nil || booking.Mechanic.Name == "" {
		return "Your mechanic"
	}
	return html.EscapeString(booking.Mechanic.Name)
}
