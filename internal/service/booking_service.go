package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/events"
	"garagehub/internal/metrics"
	"garagehub/internal/models"
	"garagehub/internal/timeline"

	"github.com/rs/zerolog"
)

// Timeline views select the timestamp layout.
const (
	ViewCustomer = "customer"
	ViewMechanic = "mechanic"
)

type BookingService struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	tasks    domain.TaskQueue
	notifyOn map[models.BookingStatus]bool
	location *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

// NewBookingService wires the booking workflow. An empty notifyOn list sends
// customer notifications for every status change.
func NewBookingService(
	repo domain.Repository,
	eventBus domain.EventPublisher,
	tasks domain.TaskQueue,
	notifyOn []models.BookingStatus,
	location *time.Location,
	logger *zerolog.Logger,
) *BookingService {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	var set map[models.BookingStatus]bool
	if len(notifyOn) > 0 {
		set = make(map[models.BookingStatus]bool, len(notifyOn))
		for _, s := range notifyOn {
			set[s] = true
		}
	}
	return &BookingService{
		repo:     repo,
		eventBus: eventBus,
		tasks:    tasks,
		notifyOn: set,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// ValidateTransition rejects moves out of terminal states, moves to the same
// or an unknown status, and regressions along the milestone sequence. Side
// states (Upcoming, Reschedule Requested) are reachable from any open booking.
func ValidateTransition(from, to models.BookingStatus) error {
	switch {
	case !to.IsKnown():
		return fmt.Errorf("%w: unknown status", ErrInvalidTransition)
	case from.IsTerminal():
		return fmt.Errorf("%w: booking is %s", ErrInvalidTransition, from)
	case from == to:
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, to)
	}

	fromIdx, toIdx := timeline.MilestoneIndex(from), timeline.MilestoneIndex(to)
	if toIdx >= 0 && toIdx < fromIdx {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func validateNewBooking(b *models.Booking) error {
	switch {
	case b == nil:
		return fmt.Errorf("%w: booking is required", ErrInvalidBooking)
	case b.CustomerID <= 0:
		return fmt.Errorf("%w: customer id is required", ErrInvalidBooking)
	case strings.TrimSpace(b.CustomerName) == "":
		return fmt.Errorf("%w: customer name is required", ErrInvalidBooking)
	case strings.TrimSpace(b.ServiceName) == "":
		return fmt.Errorf("%w: service name is required", ErrInvalidBooking)
	case b.ScheduledAt.IsZero():
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidBooking)
	}
	return nil
}

// CreateBooking stores a new booking in the Booking Confirmed state.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := validateNewBooking(booking); err != nil {
		return err
	}
	booking.Status = models.StatusBookingConfirmed
	booking.MechanicID = 0
	booking.Mechanic = nil

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", booking.ID).Int64("customer_id", booking.CustomerID).Msg("booking created")
	s.publishEvent(events.EventBookingCreated, booking, models.StatusUnknown, "customer")
	s.enqueue(ctx, booking, true)
	return nil
}

// AssignMechanic attaches a mechanic and moves the booking to Mechanic
// Assigned. Reassigning an already assigned booking is allowed.
func (s *BookingService) AssignMechanic(ctx context.Context, bookingID, version, mechanicID int64, changedBy string) (*models.Booking, error) {
	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.StatusMechanicAssigned {
		if err := ValidateTransition(current.Status, models.StatusMechanicAssigned); err != nil {
			return nil, err
		}
	}
	if version == 0 {
		version = current.Version
	}

	if err := s.repo.AssignMechanic(ctx, bookingID, version, mechanicID, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	metrics.IncStatusTransition(updated.Status.String())
	s.publishEvent(events.EventMechanicAssigned, updated, current.Status, changedBy)
	if current.Status != updated.Status {
		s.publishEvent(events.EventBookingStatusChanged, updated, current.Status, changedBy)
	}
	s.enqueue(ctx, updated, true)
	return updated, nil
}

// UpdateStatus moves a booking to status under optimistic locking. A zero
// version means "whatever is current".
func (s *BookingService) UpdateStatus(ctx context.Context, bookingID, version int64, status models.BookingStatus, changedBy string) (*models.Booking, error) {
	current, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(current.Status, status); err != nil {
		return nil, err
	}
	if version == 0 {
		version = current.Version
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, bookingID, version, status, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", bookingID).
		Str("from", current.Status.String()).
		Str("to", updated.Status.String()).
		Str("changed_by", changedBy).
		Msg("booking status changed")
	metrics.IncStatusTransition(updated.Status.String())
	s.publishEvent(events.EventBookingStatusChanged, updated, current.Status, changedBy)
	s.enqueue(ctx, updated, false)
	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// Timeline renders the progress view of a booking. view picks the timestamp
// layout: time only for mechanics, date and time for customers.
func (s *BookingService) Timeline(ctx context.Context, id int64, variant timeline.Variant, view string) (timeline.Timeline, error) {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return timeline.Timeline{}, err
	}
	return BuildTimeline(booking, variant, view, s.location), nil
}

// BuildTimeline is the pure rendering step behind Timeline.
func BuildTimeline(booking *models.Booking, variant timeline.Variant, view string, loc *time.Location) timeline.Timeline {
	layout := timeline.FormatDateTime
	if view == ViewMechanic {
		layout = timeline.FormatTime
	}
	return timeline.Build(booking.StatusHistory, booking.Status, timeline.Options{
		Variant:  variant,
		Layout:   layout,
		Location: loc,
	})
}

func (s *BookingService) CustomerBookings(ctx context.Context, customerID int64) ([]*models.Booking, error) {
	return s.repo.GetCustomerBookings(ctx, customerID)
}

// BookingsInRange lists bookings scheduled in [start, end].
func (s *BookingService) BookingsInRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end before start", ErrInvalidBooking)
	}
	return s.repo.GetBookingsByDateRange(ctx, start, end)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, previous models.BookingStatus, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:      booking.ID,
		CustomerID:     booking.CustomerID,
		CustomerName:   booking.CustomerName,
		CustomerChatID: booking.CustomerChatID,
		ServiceName:    booking.ServiceName,
		MechanicID:     booking.MechanicID,
		Status:         booking.Status.String(),
		ScheduledAt:    booking.ScheduledAt,
		ChangedBy:      changedBy,
	}
	if booking.Mechanic != nil {
		payload.MechanicName = booking.Mechanic.Name
	}
	if previous != models.StatusUnknown {
		payload.PreviousStatus = previous.String()
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) shouldNotify(status models.BookingStatus) bool {
	return s.notifyOn == nil || s.notifyOn[status]
}

// enqueue schedules the customer notification and the sheet sync. fullRow
// rewrites the whole spreadsheet row instead of the status cell.
func (s *BookingService) enqueue(ctx context.Context, booking *models.Booking, fullRow bool) {
	if s.tasks == nil {
		return
	}

	if s.shouldNotify(booking.Status) {
		if err := s.tasks.EnqueueTask(ctx, models.TaskNotifyStatus, booking.ID, booking, ""); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("notification enqueue error")
		}
	}

	taskType, status := models.TaskSheetStatus, booking.Status.String()
	if fullRow {
		taskType, status = models.TaskSheetUpsert, ""
	}
	if err := s.tasks.EnqueueTask(ctx, taskType, booking.ID, booking, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
