package service

import (
	"context"
	"fmt"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/events"
	"garagehub/internal/models"

	"github.com/rs/zerolog"
)

type MechanicService struct {
	repo       domain.Repository
	limiter    domain.SnapshotStore
	eventBus   domain.EventPublisher
	rateLimit  int
	rateWindow time.Duration
	logger     *zerolog.Logger
}

func NewMechanicService(
	repo domain.Repository,
	limiter domain.SnapshotStore,
	eventBus domain.EventPublisher,
	rateLimit int,
	rateWindow time.Duration,
	logger *zerolog.Logger,
) *MechanicService {
	if rateLimit <= 0 {
		rateLimit = models.LocationRateLimit
	}
	if rateWindow <= 0 {
		rateWindow = models.LocationRateWindow
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &MechanicService{
		repo:       repo,
		limiter:    limiter,
		eventBus:   eventBus,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
		logger:     logger,
	}
}

func (s *MechanicService) GetMechanic(ctx context.Context, id int64) (*models.Mechanic, error) {
	return s.repo.GetMechanic(ctx, id)
}

func (s *MechanicService) ListMechanics(ctx context.Context) ([]*models.Mechanic, error) {
	return s.repo.ListMechanics(ctx)
}

// UpdateLocation records a mechanic's reported position. Reports beyond the
// per-mechanic rate limit are rejected with ErrRateLimited. A limiter failure
// lets the update through.
func (s *MechanicService) UpdateLocation(ctx context.Context, mechanicID int64, location models.GeoPoint) error {
	if s.limiter != nil {
		allowed, err := s.limiter.CheckRateLimit(ctx, mechanicID, s.rateLimit, s.rateWindow)
		if err != nil {
			s.logger.Warn().Err(err).Int64("mechanic_id", mechanicID).Msg("location rate limit check failed")
		} else if !allowed {
			return fmt.Errorf("%w: mechanic %d", ErrRateLimited, mechanicID)
		}
	}

	if err := s.repo.UpdateMechanicLocation(ctx, mechanicID, location); err != nil {
		return err
	}

	if s.eventBus != nil {
		payload := events.MechanicEventPayload{MechanicID: mechanicID, Lat: location.Lat, Lng: location.Lng}
		if err := s.eventBus.PublishJSON(events.EventMechanicMoved, payload); err != nil {
			s.logger.Error().Err(err).Int64("mechanic_id", mechanicID).Msg("publish event error")
		}
	}
	return nil
}
