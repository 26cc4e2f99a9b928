package tracking

import (
	"sync"
	"testing"
	"time"

	"garagehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu      sync.Mutex
	opened  []Snapshot
	ticks   []Snapshot
	arrived []Snapshot
	closed  []Snapshot
}

func (l *recordingListener) ViewOpened(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, s)
}

func (l *recordingListener) Ticked(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, s)
}

func (l *recordingListener) Arrived(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arrived = append(l.arrived, s)
}

func (l *recordingListener) ViewClosed(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, s)
}

func (l *recordingListener) counts() (opened, ticks, arrived, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opened), len(l.ticks), len(l.arrived), len(l.closed)
}

func enRouteBooking(id int64, from, to models.GeoPoint) *models.Booking {
	return &models.Booking{
		ID:     id,
		Status: models.StatusEnRoute,
		Mechanic: &models.Mechanic{
			ID:       7,
			Name:     "Budi",
			Location: &from,
		},
		CustomerLocation: &to,
	}
}

func newTestManager(interval time.Duration, l Listener) *Manager {
	logger := zerolog.Nop()
	return NewManager(Params{Interval: interval}, l, &logger)
}

func waitDone(t *testing.T, v *View) {
	t.Helper()
	select {
	case <-v.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("view ticker still running")
	}
}

func TestManagerUnavailableViews(t *testing.T) {
	m := newTestManager(time.Millisecond, nil)
	defer m.Shutdown()

	from := models.GeoPoint{Lat: 1, Lng: 1}
	to := models.GeoPoint{Lat: 2, Lng: 2}

	cases := map[string]*models.Booking{
		"nil booking": nil,
		"not en route": func() *models.Booking {
			b := enRouteBooking(1, from, to)
			b.Status = models.StatusMechanicAssigned
			return b
		}(),
		"no mechanic": func() *models.Booking {
			b := enRouteBooking(2, from, to)
			b.Mechanic = nil
			return b
		}(),
		"no location": func() *models.Booking {
			b := enRouteBooking(3, from, to)
			b.Mechanic.Location = nil
			return b
		}(),
		"no destination": func() *models.Booking {
			b := enRouteBooking(4, from, to)
			b.CustomerLocation = nil
			return b
		}(),
	}

	for name, booking := range cases {
		t.Run(name, func(t *testing.T) {
			v := m.Open(booking, nil)
			assert.False(t, v.Available())
			s := v.Snapshot()
			assert.Equal(t, models.TrackingUnavailableMessage, s.Message)
			assert.Nil(t, s.Position)
			assert.Empty(t, s.Distance)

			select {
			case <-v.Done():
			default:
				t.Fatal("unavailable view must not run a ticker")
			}
			v.Close()
		})
	}
	assert.Zero(t, m.Active())
	assert.Zero(t, m.Len())
}

func TestManagerExplicitDestinationOverridesCustomerLocation(t *testing.T) {
	m := newTestManager(time.Hour, nil)
	defer m.Shutdown()

	b := enRouteBooking(1, models.GeoPoint{Lat: 1, Lng: 1}, models.GeoPoint{Lat: 2, Lng: 2})
	b.CustomerLocation = nil
	dest := models.GeoPoint{Lat: 1.5, Lng: 1.5}

	v := m.Open(b, &dest)
	require.True(t, v.Available())
	s := v.Snapshot()
	require.NotNil(t, s.Destination)
	assert.Equal(t, dest, *s.Destination)
	assert.Equal(t, 0, s.Tick)
	assert.False(t, s.Arrived)
	assert.NotEmpty(t, s.Distance)
}

func TestManagerViewArrivesAndStops(t *testing.T) {
	l := &recordingListener{}
	m := newTestManager(time.Millisecond, l)
	defer m.Shutdown()

	v := m.Open(enRouteBooking(10, manilaStart, manilaDest), nil)
	require.True(t, v.Available())
	waitDone(t, v)

	s := v.Snapshot()
	assert.True(t, s.Arrived)
	assert.Equal(t, "0 km", s.Distance)
	assert.Equal(t, "Arrived", s.ETA)
	require.NotNil(t, s.Position)
	assert.Equal(t, manilaDest, *s.Position)

	opened, ticks, arrived, closed := l.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, s.Tick, ticks)
	assert.Equal(t, 1, arrived)
	assert.Zero(t, closed)

	// Arrived views stay registered until the screen closes.
	assert.Equal(t, 1, m.Len())
	assert.Zero(t, m.Active())

	v.Close()
	_, _, _, closed = l.counts()
	assert.Equal(t, 1, closed)
	assert.Zero(t, m.Len())
}

func TestManagerCloseStopsTicker(t *testing.T) {
	l := &recordingListener{}
	m := newTestManager(2*time.Millisecond, l)
	defer m.Shutdown()

	v := m.Open(enRouteBooking(11, models.GeoPoint{Lat: 0, Lng: 0}, models.GeoPoint{Lat: 10, Lng: 10}), nil)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, m.Close(v.ID()))
	select {
	case <-v.Done():
	default:
		t.Fatal("close returned before ticker exited")
	}

	_, ticks, _, _ := l.counts()
	time.Sleep(20 * time.Millisecond)
	_, after, _, _ := l.counts()
	assert.Equal(t, ticks, after, "no ticks after close")

	assert.False(t, m.Close(v.ID()))
	_, ok := m.Get(v.ID())
	assert.False(t, ok)

	v.Close()
	_, _, _, closed := l.counts()
	assert.Equal(t, 1, closed)
}

func TestManagerCloseBookingAndShutdown(t *testing.T) {
	m := newTestManager(5*time.Millisecond, nil)

	far := models.GeoPoint{Lat: 10, Lng: 10}
	origin := models.GeoPoint{}
	a1 := m.Open(enRouteBooking(1, origin, far), nil)
	a2 := m.Open(enRouteBooking(1, origin, far), nil)
	b1 := m.Open(enRouteBooking(2, origin, far), nil)

	assert.NotEqual(t, a1.ID(), a2.ID())
	assert.Equal(t, 3, m.Active())

	assert.Equal(t, 2, m.CloseBooking(1))
	waitDone(t, a1)
	waitDone(t, a2)
	assert.Equal(t, 1, m.Active())
	assert.Zero(t, m.CloseBooking(1))

	m.Shutdown()
	waitDone(t, b1)
	assert.Zero(t, m.Len())
}

func TestViewSubscribe(t *testing.T) {
	m := newTestManager(20*time.Millisecond, nil)
	defer m.Shutdown()

	v := m.Open(enRouteBooking(3, manilaStart, manilaDest), nil)
	ch, cancel := v.Subscribe()
	defer cancel()

	var last Snapshot
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case s := <-ch:
			last = s
			if s.Arrived {
				break loop
			}
		case <-timeout:
			t.Fatal("no arrival frame delivered")
		}
	}
	assert.True(t, last.Arrived)
	assert.Greater(t, last.Tick, 1)

	v.Close()
	_, ok := <-ch
	assert.False(t, ok, "subscriber channel closed with the view")

	late, lateCancel := v.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	lateCancel()
}

func TestManagerReapsFinishedViews(t *testing.T) {
	l := &recordingListener{}
	logger := zerolog.Nop()
	m := NewManager(Params{Interval: time.Millisecond, Retention: 20 * time.Millisecond}, l, &logger)
	defer m.Shutdown()

	notEnRoute := enRouteBooking(20, manilaStart, manilaDest)
	notEnRoute.Status = models.StatusCompleted
	for i := 0; i < 50; i++ {
		m.Open(notEnRoute, nil)
	}
	arriving := m.Open(enRouteBooking(21, manilaStart, manilaDest), nil)
	require.True(t, arriving.Available())
	waitDone(t, arriving)

	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	_, _, arrived, closed := l.counts()
	assert.Equal(t, 1, arrived)
	assert.Equal(t, 51, closed)
	assert.Zero(t, m.Active())
}

func TestManagerRunningViewIsNotReaped(t *testing.T) {
	logger := zerolog.Nop()
	m := NewManager(Params{Interval: time.Hour, Retention: time.Millisecond}, nil, &logger)
	defer m.Shutdown()

	v := m.Open(enRouteBooking(22, manilaStart, manilaDest), nil)
	time.Sleep(20 * time.Millisecond)
	_, ok := m.Get(v.ID())
	assert.True(t, ok)
	assert.Equal(t, 1, m.Active())
}

func TestManagerCloseBookingInvalidatesReservation(t *testing.T) {
	m := newTestManager(time.Hour, nil)
	defer m.Shutdown()

	far := models.GeoPoint{Lat: 10, Lng: 10}
	r := m.Reserve(30)
	// The booking changes status after it was read as En Route.
	assert.Zero(t, m.CloseBooking(30))

	v := m.OpenReserved(r, enRouteBooking(30, models.GeoPoint{}, far), nil)
	assert.False(t, v.Available())
	assert.Equal(t, models.TrackingUnavailableMessage, v.Snapshot().Message)
	waitDone(t, v)
	assert.Zero(t, m.Active())

	fresh := m.Open(enRouteBooking(30, models.GeoPoint{}, far), nil)
	assert.True(t, fresh.Available())
	assert.Equal(t, 1, m.Active())

	released := m.Reserve(31)
	m.Release(released)
	m.mu.Lock()
	assert.Empty(t, m.pending)
	m.mu.Unlock()
}

func TestViewWatchClosesWhenLastWatcherLeaves(t *testing.T) {
	m := newTestManager(time.Hour, nil)
	defer m.Shutdown()

	far := models.GeoPoint{Lat: 10, Lng: 10}
	v := m.Open(enRouteBooking(40, models.GeoPoint{}, far), nil)

	_, plainCancel := v.Subscribe()
	plainCancel()
	_, ok := m.Get(v.ID())
	assert.True(t, ok, "plain subscribers do not own the view")

	_, first := v.Watch()
	_, second := v.Watch()
	first()
	_, ok = m.Get(v.ID())
	assert.True(t, ok, "one watcher remains")

	second()
	waitDone(t, v)
	_, ok = m.Get(v.ID())
	assert.False(t, ok)
	assert.Zero(t, m.Active())
}
