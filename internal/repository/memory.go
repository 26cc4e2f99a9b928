package repository

import (
	"context"
	"sync"
	"time"

	"garagehub/internal/tracking"
)

type memoryEntry struct {
	snapshot  tracking.Snapshot
	expiresAt time.Time
}

// MemorySnapshotStore is the in-process fallback for RedisSnapshotStore.
type MemorySnapshotStore struct {
	views    sync.Map
	bookings sync.Map

	rateMu     sync.Mutex
	rateLimits map[int64]*rateLimitEntry

	ttl time.Duration
	now func() time.Time
}

func NewMemorySnapshotStore(ttl time.Duration) *MemorySnapshotStore {
	return &MemorySnapshotStore{
		rateLimits: make(map[int64]*rateLimitEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemorySnapshotStore) SaveSnapshot(_ context.Context, snapshot tracking.Snapshot) error {
	entry := &memoryEntry{snapshot: snapshot}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.views.Store(snapshot.ViewID, entry)
	r.bookings.Store(snapshot.BookingID, entry)
	return nil
}

func (r *MemorySnapshotStore) GetSnapshot(_ context.Context, viewID string) (*tracking.Snapshot, error) {
	return r.load(&r.views, viewID), nil
}

func (r *MemorySnapshotStore) LatestSnapshot(_ context.Context, bookingID int64) (*tracking.Snapshot, error) {
	return r.load(&r.bookings, bookingID), nil
}

func (r *MemorySnapshotStore) load(m *sync.Map, key any) *tracking.Snapshot {
	val, ok := m.Load(key)
	if !ok {
		return nil
	}
	entry := val.(*memoryEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		m.Delete(key)
		return nil
	}
	snapshot := entry.snapshot
	return &snapshot
}

func (r *MemorySnapshotStore) DeleteSnapshot(_ context.Context, viewID string) error {
	r.views.Delete(viewID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySnapshotStore) CheckRateLimit(_ context.Context, key int64, limit int, window time.Duration) (bool, error) {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
