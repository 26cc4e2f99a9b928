package domain

import (
	"context"
	"time"

	"garagehub/internal/models"
	"garagehub/internal/tracking"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Repository is the booking and mechanic store.
type Repository interface {
	UpsertMechanic(ctx context.Context, mechanic *models.Mechanic) error
	GetMechanic(ctx context.Context, id int64) (*models.Mechanic, error)
	ListMechanics(ctx context.Context) ([]*models.Mechanic, error)
	UpdateMechanicLocation(ctx context.Context, id int64, location models.GeoPoint) error

	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	AssignMechanic(ctx context.Context, bookingID, version, mechanicID int64, at time.Time) error
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status models.BookingStatus, at time.Time) error
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetCustomerBookings(ctx context.Context, customerID int64) ([]*models.Booking, error)
}

// SnapshotStore keeps the last tracking snapshot per view and per booking so
// it survives the view being closed, and backs per-key rate limits.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot tracking.Snapshot) error
	GetSnapshot(ctx context.Context, viewID string) (*tracking.Snapshot, error)
	LatestSnapshot(ctx context.Context, bookingID int64) (*tracking.Snapshot, error)
	DeleteSnapshot(ctx context.Context, viewID string) error
	CheckRateLimit(ctx context.Context, key int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier delivers customer-facing booking updates.
type Notifier interface {
	NotifyStatus(ctx context.Context, booking *models.Booking) error
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
}

type TaskQueue interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}
