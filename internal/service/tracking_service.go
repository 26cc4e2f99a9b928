package service

import (
	"context"
	"encoding/json"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/events"
	"garagehub/internal/metrics"
	"garagehub/internal/models"
	"garagehub/internal/tracking"

	"github.com/rs/zerolog"
)

const snapshotWriteTimeout = 2 * time.Second

// TrackingService opens live tracking views for bookings and keeps their last
// snapshot in the snapshot store. It is the tracking.Listener of its manager.
type TrackingService struct {
	repo     domain.Repository
	store    domain.SnapshotStore
	eventBus domain.EventPublisher
	manager  *tracking.Manager
	logger   *zerolog.Logger
}

func NewTrackingService(
	repo domain.Repository,
	store domain.SnapshotStore,
	eventBus domain.EventPublisher,
	params tracking.Params,
	logger *zerolog.Logger,
) *TrackingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &TrackingService{
		repo:     repo,
		store:    store,
		eventBus: eventBus,
		logger:   logger,
	}
	s.manager = tracking.NewManager(params, s, logger)
	return s
}

// Open loads the booking and opens a view on it. destination overrides the
// customer location when set. A booking that cannot be tracked still yields
// a view, showing the unavailable message.
func (s *TrackingService) Open(ctx context.Context, bookingID int64, destination *models.GeoPoint) (tracking.Snapshot, error) {
	// Reserve before reading so a status change landing in between still
	// reaches the view.
	r := s.manager.Reserve(bookingID)
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		s.manager.Release(r)
		return tracking.Snapshot{}, err
	}
	return s.manager.OpenReserved(r, booking, destination).Snapshot(), nil
}

// Snapshot returns the live snapshot of an open view, or the last stored one
// after the view has closed.
func (s *TrackingService) Snapshot(ctx context.Context, viewID string) (tracking.Snapshot, error) {
	if v, ok := s.manager.Get(viewID); ok {
		return v.Snapshot(), nil
	}
	if s.store != nil {
		snap, err := s.store.GetSnapshot(ctx, viewID)
		if err != nil {
			return tracking.Snapshot{}, err
		}
		if snap != nil {
			return *snap, nil
		}
	}
	return tracking.Snapshot{}, ErrViewNotFound
}

// LatestForBooking returns the most recent stored snapshot of any view of
// the booking.
func (s *TrackingService) LatestForBooking(ctx context.Context, bookingID int64) (tracking.Snapshot, error) {
	if s.store == nil {
		return tracking.Snapshot{}, ErrViewNotFound
	}
	snap, err := s.store.LatestSnapshot(ctx, bookingID)
	if err != nil {
		return tracking.Snapshot{}, err
	}
	if snap == nil {
		return tracking.Snapshot{}, ErrViewNotFound
	}
	return *snap, nil
}

// Subscribe streams snapshots of an open view. The view closes when the last
// subscriber cancels.
func (s *TrackingService) Subscribe(viewID string) (tracking.Snapshot, <-chan tracking.Snapshot, func(), error) {
	v, ok := s.manager.Get(viewID)
	if !ok {
		return tracking.Snapshot{}, nil, nil, ErrViewNotFound
	}
	ch, cancel := v.Watch()
	return v.Snapshot(), ch, cancel, nil
}

// Close tears a view down; its ticker has stopped when Close returns.
func (s *TrackingService) Close(viewID string) error {
	if !s.manager.Close(viewID) {
		return ErrViewNotFound
	}
	return nil
}

// HandleStatusChanged closes the booking's views once it leaves En Route.
func (s *TrackingService) HandleStatusChanged(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}
	if payload.Status == models.StatusEnRoute.String() {
		return nil
	}
	if n := s.manager.CloseBooking(payload.BookingID); n > 0 {
		s.logger.Info().Int64("booking_id", payload.BookingID).Int("views", n).Str("status", payload.Status).Msg("tracking closed on status change")
	}
	return nil
}

func (s *TrackingService) Active() int { return s.manager.Active() }

// Params are the effective simulation parameters.
func (s *TrackingService) Params() tracking.Params { return s.manager.Params() }

func (s *TrackingService) Shutdown() { s.manager.Shutdown() }

func (s *TrackingService) ViewOpened(snap tracking.Snapshot) {
	if snap.Available {
		metrics.TrackingViewStarted()
	}
	s.save(snap)
	s.publish(events.EventTrackingStarted, snap)
}

func (s *TrackingService) Ticked(snap tracking.Snapshot) {
	metrics.IncTrackingTick()
	s.save(snap)
}

func (s *TrackingService) Arrived(snap tracking.Snapshot) {
	metrics.IncTrackingArrival()
	s.publish(events.EventTrackingArrived, snap)
}

func (s *TrackingService) ViewClosed(snap tracking.Snapshot) {
	if snap.Available {
		metrics.TrackingViewStopped()
	}
	s.publish(events.EventTrackingClosed, snap)
}

func (s *TrackingService) save(snap tracking.Snapshot) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
	defer cancel()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Str("view_id", snap.ViewID).Msg("save tracking snapshot")
	}
}

func (s *TrackingService) publish(eventType string, snap tracking.Snapshot) {
	if s.eventBus == nil {
		return
	}
	payload := events.TrackingEventPayload{
		ViewID:     snap.ViewID,
		BookingID:  snap.BookingID,
		Available:  snap.Available,
		DistanceKm: snap.DistanceKm,
		ETAMinutes: snap.ETAMinutes,
		Arrived:    snap.Arrived,
		Tick:       snap.Tick,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("view_id", snap.ViewID).Msg("publish event error")
	}
}
