package service

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"garagehub/internal/database"
	"garagehub/internal/events"
	"garagehub/internal/models"
	"garagehub/internal/timeline"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) UpsertMechanic(ctx context.Context, mech *models.Mechanic) error {
	return m.Called(ctx, mech).Error(0)
}
func (m *mockRepo) GetMechanic(ctx context.Context, id int64) (*models.Mechanic, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Mechanic), args.Error(1)
}
func (m *mockRepo) ListMechanics(ctx context.Context) ([]*models.Mechanic, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Mechanic), args.Error(1)
}
func (m *mockRepo) UpdateMechanicLocation(ctx context.Context, id int64, p models.GeoPoint) error {
	return m.Called(ctx, id, p).Error(0)
}
func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) AssignMechanic(ctx context.Context, bid, v, mid int64, at time.Time) error {
	return m.Called(ctx, bid, v, mid, at).Error(0)
}
func (m *mockRepo) UpdateBookingStatusWithVersion(ctx context.Context, id, v int64, s models.BookingStatus, at time.Time) error {
	return m.Called(ctx, id, v, s, at).Error(0)
}
func (m *mockRepo) GetBookingsByDateRange(ctx context.Context, s, e time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, s, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) GetCustomerBookings(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueTask(ctx context.Context, tt string, bid int64, b *models.Booking, s string) error {
	return m.Called(ctx, tt, bid, b, s).Error(0)
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestBookingService(repo *mockRepo, bus *mockEventBus, queue *mockQueue, notifyOn ...models.BookingStatus) *BookingService {
	logger := zerolog.New(io.Discard)
	svc := NewBookingService(repo, bus, queue, notifyOn, time.UTC, &logger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    models.BookingStatus
		to      models.BookingStatus
		wantErr bool
	}{
		{"forward one step", models.StatusBookingConfirmed, models.StatusMechanicAssigned, false},
		{"skip ahead", models.StatusMechanicAssigned, models.StatusInProgress, false},
		{"cancel open booking", models.StatusEnRoute, models.StatusCancelled, false},
		{"reschedule request", models.StatusBookingConfirmed, models.StatusRescheduleRequested, false},
		{"back from side state", models.StatusRescheduleRequested, models.StatusBookingConfirmed, false},
		{"regression", models.StatusEnRoute, models.StatusMechanicAssigned, true},
		{"same status", models.StatusEnRoute, models.StatusEnRoute, true},
		{"out of completed", models.StatusCompleted, models.StatusCancelled, true},
		{"out of cancelled", models.StatusCancelled, models.StatusBookingConfirmed, true},
		{"unknown target", models.StatusEnRoute, models.StatusUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBookingServiceCreate(t *testing.T) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	queue := new(mockQueue)
	svc := newTestBookingService(repo, bus, queue)
	ctx := context.Background()

	t.Run("Valid", func(t *testing.T) {
		booking := &models.Booking{
			CustomerID:   5,
			CustomerName: "Ana",
			ServiceName:  "Oil change",
			Status:       models.StatusCompleted,
			ScheduledAt:  fixedNow.Add(24 * time.Hour),
		}

		repo.On("CreateBooking", ctx, booking).Return(nil).Run(func(args mock.Arguments) {
			args.Get(1).(*models.Booking).ID = 42
		}).Once()
		bus.On("PublishJSON", events.EventBookingCreated, mock.MatchedBy(func(p events.BookingEventPayload) bool {
			return p.BookingID == 42 && p.Status == "Booking Confirmed" && p.PreviousStatus == ""
		})).Return(nil).Once()
		queue.On("EnqueueTask", ctx, models.TaskNotifyStatus, int64(42), booking, "").Return(nil).Once()
		queue.On("EnqueueTask", ctx, models.TaskSheetUpsert, int64(42), booking, "").Return(nil).Once()

		require.NoError(t, svc.CreateBooking(ctx, booking))
		assert.Equal(t, models.StatusBookingConfirmed, booking.Status)
		repo.AssertExpectations(t)
		bus.AssertExpectations(t)
		queue.AssertExpectations(t)
	})

	t.Run("Invalid", func(t *testing.T) {
		assert.ErrorIs(t, svc.CreateBooking(ctx, nil), ErrInvalidBooking)
		assert.ErrorIs(t, svc.CreateBooking(ctx, &models.Booking{CustomerID: 1, CustomerName: "Ana"}), ErrInvalidBooking)
		assert.ErrorIs(t, svc.CreateBooking(ctx, &models.Booking{CustomerName: "Ana", ServiceName: "x", ScheduledAt: fixedNow}), ErrInvalidBooking)
	})
}

func TestBookingServiceUpdateStatus(t *testing.T) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	queue := new(mockQueue)
	svc := newTestBookingService(repo, bus, queue)
	ctx := context.Background()

	current := &models.Booking{ID: 10, Status: models.StatusMechanicAssigned, Version: 3}
	updated := &models.Booking{ID: 10, Status: models.StatusEnRoute, Version: 4}

	repo.On("GetBooking", ctx, int64(10)).Return(current, nil).Once()
	repo.On("UpdateBookingStatusWithVersion", ctx, int64(10), int64(3), models.StatusEnRoute, fixedNow).Return(nil).Once()
	repo.On("GetBooking", ctx, int64(10)).Return(updated, nil).Once()
	bus.On("PublishJSON", events.EventBookingStatusChanged, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.Status == "En Route" && p.PreviousStatus == "Mechanic Assigned" && p.ChangedBy == "mechanic"
	})).Return(nil).Once()
	queue.On("EnqueueTask", ctx, models.TaskNotifyStatus, int64(10), updated, "").Return(nil).Once()
	queue.On("EnqueueTask", ctx, models.TaskSheetStatus, int64(10), updated, "En Route").Return(nil).Once()

	got, err := svc.UpdateStatus(ctx, 10, 0, models.StatusEnRoute, "mechanic")
	require.NoError(t, err)
	assert.Equal(t, updated, got)
	repo.AssertExpectations(t)
	bus.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestBookingServiceUpdateStatusRejected(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestBookingService(repo, new(mockEventBus), new(mockQueue))
	ctx := context.Background()

	repo.On("GetBooking", ctx, int64(11)).Return(&models.Booking{ID: 11, Status: models.StatusCompleted, Version: 7}, nil).Once()

	_, err := svc.UpdateStatus(ctx, 11, 7, models.StatusInProgress, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	repo.AssertNotCalled(t, "UpdateBookingStatusWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingServiceUpdateStatusConflict(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestBookingService(repo, new(mockEventBus), new(mockQueue))
	ctx := context.Background()

	repo.On("GetBooking", ctx, int64(12)).Return(&models.Booking{ID: 12, Status: models.StatusEnRoute, Version: 2}, nil).Once()
	repo.On("UpdateBookingStatusWithVersion", ctx, int64(12), int64(1), models.StatusInProgress, fixedNow).
		Return(database.ErrConcurrentModification).Once()

	_, err := svc.UpdateStatus(ctx, 12, 1, models.StatusInProgress, "mechanic")
	assert.ErrorIs(t, err, database.ErrConcurrentModification)
}

func TestBookingServiceNotifyFilter(t *testing.T) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	queue := new(mockQueue)
	svc := newTestBookingService(repo, bus, queue, models.StatusEnRoute)
	ctx := context.Background()

	current := &models.Booking{ID: 13, Status: models.StatusEnRoute, Version: 1}
	updated := &models.Booking{ID: 13, Status: models.StatusInProgress, Version: 2}
	repo.On("GetBooking", ctx, int64(13)).Return(current, nil).Once()
	repo.On("UpdateBookingStatusWithVersion", ctx, int64(13), int64(1), models.StatusInProgress, fixedNow).Return(nil).Once()
	repo.On("GetBooking", ctx, int64(13)).Return(updated, nil).Once()
	bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	queue.On("EnqueueTask", ctx, models.TaskSheetStatus, int64(13), updated, "In Progress").Return(nil).Once()

	_, err := svc.UpdateStatus(ctx, 13, 0, models.StatusInProgress, "mechanic")
	require.NoError(t, err)
	queue.AssertNotCalled(t, "EnqueueTask", ctx, models.TaskNotifyStatus, int64(13), updated, "")
	queue.AssertExpectations(t)
}

func TestBookingServiceAssignMechanic(t *testing.T) {
	repo := new(mockRepo)
	bus := new(mockEventBus)
	queue := new(mockQueue)
	svc := newTestBookingService(repo, bus, queue)
	ctx := context.Background()

	current := &models.Booking{ID: 20, Status: models.StatusBookingConfirmed, Version: 1}
	updated := &models.Booking{
		ID:         20,
		Status:     models.StatusMechanicAssigned,
		MechanicID: 7,
		Mechanic:   &models.Mechanic{ID: 7, Name: "Budi"},
		Version:    2,
	}

	repo.On("GetBooking", ctx, int64(20)).Return(current, nil).Once()
	repo.On("AssignMechanic", ctx, int64(20), int64(1), int64(7), fixedNow).Return(nil).Once()
	repo.On("GetBooking", ctx, int64(20)).Return(updated, nil).Once()

	var published []string
	bus.On("PublishJSON", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = append(published, args.String(0))
		if p, ok := args.Get(1).(events.BookingEventPayload); ok {
			assert.Equal(t, "Budi", p.MechanicName)
		}
	}).Return(nil)
	queue.On("EnqueueTask", ctx, models.TaskNotifyStatus, int64(20), updated, "").Return(nil).Once()
	queue.On("EnqueueTask", ctx, models.TaskSheetUpsert, int64(20), updated, "").Return(nil).Once()

	got, err := svc.AssignMechanic(ctx, 20, 0, 7, "dispatcher")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.MechanicID)
	assert.Equal(t, []string{events.EventMechanicAssigned, events.EventBookingStatusChanged}, published)
	queue.AssertExpectations(t)

	t.Run("RejectedAfterEnRoute", func(t *testing.T) {
		repo.On("GetBooking", ctx, int64(21)).Return(&models.Booking{ID: 21, Status: models.StatusEnRoute}, nil).Once()
		_, err := svc.AssignMechanic(ctx, 21, 0, 7, "dispatcher")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestBookingServiceTimeline(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestBookingService(repo, nil, nil)
	ctx := context.Background()

	booking := &models.Booking{
		ID:     30,
		Status: models.StatusEnRoute,
		StatusHistory: []models.StatusHistoryEntry{
			{Status: models.StatusBookingConfirmed, Timestamp: "2025-03-01T08:00:00Z"},
			{Status: models.StatusMechanicAssigned, Timestamp: "2025-03-01T08:30:00Z"},
			{Status: models.StatusEnRoute, Timestamp: "2025-03-01T14:05:00Z"},
		},
	}
	repo.On("GetBooking", ctx, int64(30)).Return(booking, nil)

	tl, err := svc.Timeline(ctx, 30, timeline.VariantActive, ViewMechanic)
	require.NoError(t, err)
	assert.Equal(t, 2, tl.CurrentIndex)
	assert.Equal(t, timeline.StateActive, tl.Steps[2].State)
	assert.Equal(t, "2:05 PM", tl.Steps[2].TimeLabel)
	assert.Equal(t, models.PendingLabel, tl.Steps[3].TimeLabel)

	tl, err = svc.Timeline(ctx, 30, timeline.VariantReached, ViewCustomer)
	require.NoError(t, err)
	assert.Equal(t, timeline.StateCompleted, tl.Steps[2].State)
	assert.Equal(t, "Mar 1, 8:00 AM", tl.Steps[0].TimeLabel)

	raw, err := json.Marshal(tl)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"variant":"reached"`)
}

func TestBookingServiceQueries(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestBookingService(repo, nil, nil)
	ctx := context.Background()

	start := fixedNow
	end := fixedNow.Add(48 * time.Hour)
	repo.On("GetBookingsByDateRange", ctx, start, end).Return([]*models.Booking{{ID: 1}}, nil).Once()
	repo.On("GetCustomerBookings", ctx, int64(5)).Return([]*models.Booking{{ID: 2}, {ID: 3}}, nil).Once()

	got, err := svc.BookingsInRange(ctx, start, end)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.BookingsInRange(ctx, end, start)
	assert.ErrorIs(t, err, ErrInvalidBooking)

	mine, err := svc.CustomerBookings(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
