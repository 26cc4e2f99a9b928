package repository

import (
	"context"
	"sync/atomic"
	"time"

	"garagehub/internal/domain"
	"garagehub/internal/tracking"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSnapshotStore uses primary until it errors, then serves from
// fallback and retries primary once per recoveryInterval.
type FailoverSnapshotStore struct {
	primary   domain.SnapshotStore
	fallback  domain.SnapshotStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverSnapshotStore(primary, fallback domain.SnapshotStore, logger *zerolog.Logger) *FailoverSnapshotStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverSnapshotStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverSnapshotStore) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverSnapshotStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary snapshot store failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the next call should try primary.
func (r *FailoverSnapshotStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverSnapshotStore) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary snapshot store recovered")
	}
}

func (r *FailoverSnapshotStore) SaveSnapshot(ctx context.Context, snapshot tracking.Snapshot) error {
	if r.usePrimary() {
		err := r.primary.SaveSnapshot(ctx, snapshot)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveSnapshot(ctx, snapshot)
}

func (r *FailoverSnapshotStore) GetSnapshot(ctx context.Context, viewID string) (*tracking.Snapshot, error) {
	if r.usePrimary() {
		snapshot, err := r.primary.GetSnapshot(ctx, viewID)
		if err == nil {
			r.recovered()
			if snapshot != nil {
				return snapshot, nil
			}
			// Written while primary was down.
			return r.fallback.GetSnapshot(ctx, viewID)
		}
		r.markDown(err)
	}
	return r.fallback.GetSnapshot(ctx, viewID)
}

func (r *FailoverSnapshotStore) LatestSnapshot(ctx context.Context, bookingID int64) (*tracking.Snapshot, error) {
	if r.usePrimary() {
		snapshot, err := r.primary.LatestSnapshot(ctx, bookingID)
		if err == nil {
			r.recovered()
			if snapshot != nil {
				return snapshot, nil
			}
			return r.fallback.LatestSnapshot(ctx, bookingID)
		}
		r.markDown(err)
	}
	return r.fallback.LatestSnapshot(ctx, bookingID)
}

func (r *FailoverSnapshotStore) DeleteSnapshot(ctx context.Context, viewID string) error {
	if r.usePrimary() {
		if err := r.primary.DeleteSnapshot(ctx, viewID); err != nil {
			r.markDown(err)
		} else {
			r.recovered()
		}
	}
	return r.fallback.DeleteSnapshot(ctx, viewID)
}

func (r *FailoverSnapshotStore) CheckRateLimit(ctx context.Context, key int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
