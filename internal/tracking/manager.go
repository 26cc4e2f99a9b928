package tracking

import (
	"context"
	"sync"
	"time"

	"garagehub/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshot is the display state of a tracking view.
type Snapshot struct {
	ViewID      string           `json:"view_id"`
	BookingID   int64            `json:"booking_id"`
	Available   bool             `json:"available"`
	Message     string           `json:"message,omitempty"`
	Position    *models.GeoPoint `json:"position,omitempty"`
	Destination *models.GeoPoint `json:"destination,omitempty"`
	DistanceKm  float64          `json:"distance_km"`
	ETAMinutes  int              `json:"eta_minutes"`
	Distance    string           `json:"distance,omitempty"`
	ETA         string           `json:"eta,omitempty"`
	Arrived     bool             `json:"arrived"`
	Tick        int              `json:"tick"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Listener observes view lifecycle. Callbacks for ticks run on the view's
// ticker goroutine and must not close views synchronously.
type Listener interface {
	ViewOpened(s Snapshot)
	Ticked(s Snapshot)
	Arrived(s Snapshot)
	ViewClosed(s Snapshot)
}

// View is one open tracking screen. The ticker it owns is started on Open and
// is guaranteed to be stopped once Close returns.
type View struct {
	id        string
	bookingID int64
	available bool

	ticker *Ticker
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}
	closed   bool

	reaper    *time.Timer
	closeOnce sync.Once
	onClose   func(*View)
}

func (v *View) ID() string       { return v.id }
func (v *View) BookingID() int64 { return v.bookingID }
func (v *View) Available() bool  { return v.available }

// Done is closed once the ticker goroutine has exited, either on arrival or
// on Close. It is closed immediately for unavailable views.
func (v *View) Done() <-chan struct{} { return v.done }

func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshot
}

// Subscribe returns a channel of snapshots and a cancel func. The channel is
// closed when the view closes. Slow subscribers miss frames.
func (v *View) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
		})
	}
}

// Watch is Subscribe for the screen that owns the view: when the last
// watcher leaves, the view is closed.
func (v *View) Watch() (<-chan Snapshot, func()) {
	ch, cancel := v.Subscribe()
	return ch, func() {
		cancel()
		v.mu.RLock()
		unwatched := !v.closed && len(v.subs) == 0
		v.mu.RUnlock()
		if unwatched {
			v.Close()
		}
	}
}

// Close cancels the ticker, waits for it to exit and releases subscribers.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		if v.cancel != nil {
			v.cancel()
		}
		<-v.done

		v.mu.Lock()
		v.closed = true
		if v.reaper != nil {
			v.reaper.Stop()
		}
		for ch := range v.subs {
			close(ch)
		}
		v.subs = nil
		v.mu.Unlock()

		if v.onClose != nil {
			v.onClose(v)
		}
	})
}

func (v *View) publish(s Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = s
	for ch := range v.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Manager keeps the registry of open views.
type Manager struct {
	params   Params
	listener Listener
	logger   zerolog.Logger
	newID    func() string

	root       context.Context
	cancelRoot context.CancelFunc

	mu        sync.Mutex
	views     map[string]*View
	byBooking map[int64]map[string]*View
	pending   map[int64]map[*Reservation]struct{}
}

// Reservation holds a booking between reading it and opening a view for it.
// CloseBooking invalidates outstanding reservations, so a view opened from a
// booking read before the close never starts ticking.
type Reservation struct {
	bookingID int64
	stale     bool
}

func NewManager(params Params, listener Listener, logger *zerolog.Logger) *Manager {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "tracking").Logger()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		params:     params.withDefaults(),
		listener:   listener,
		logger:     base,
		newID:      uuid.NewString,
		root:       root,
		cancelRoot: cancel,
		views:      make(map[string]*View),
		byBooking:  make(map[int64]map[string]*View),
		pending:    make(map[int64]map[*Reservation]struct{}),
	}
}

func (m *Manager) Params() Params { return m.params }

// Unavailability returns why a booking cannot be tracked, or "" when it can.
func Unavailability(booking *models.Booking, destination *models.GeoPoint) string {
	if booking == nil {
		return "booking missing"
	}
	if booking.Status != models.StatusEnRoute {
		return "booking is not en route"
	}
	if _, ok := booking.MechanicPosition(); !ok {
		return "mechanic position unknown"
	}
	if destination == nil && booking.CustomerLocation == nil {
		return "destination unknown"
	}
	return ""
}

// Reserve must be taken before the booking is read when the read and the
// Open are separate steps. Every reservation ends in OpenReserved or Release.
func (m *Manager) Reserve(bookingID int64) *Reservation {
	r := &Reservation{bookingID: bookingID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[bookingID] == nil {
		m.pending[bookingID] = make(map[*Reservation]struct{})
	}
	m.pending[bookingID][r] = struct{}{}
	return r
}

// Release drops a reservation that will not be opened.
func (m *Manager) Release(r *Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(r)
}

func (m *Manager) releaseLocked(r *Reservation) {
	if rs, ok := m.pending[r.bookingID]; ok {
		delete(rs, r)
		if len(rs) == 0 {
			delete(m.pending, r.bookingID)
		}
	}
}

// Open registers a view for booking. When the booking is not En Route, or the
// mechanic position or the destination is missing, the view is unavailable:
// it shows a static message and no ticker is started.
func (m *Manager) Open(booking *models.Booking, destination *models.GeoPoint) *View {
	var bookingID int64
	if booking != nil {
		bookingID = booking.ID
	}
	return m.OpenReserved(m.Reserve(bookingID), booking, destination)
}

// OpenReserved is Open for a booking read under r. If CloseBooking ran since
// r was taken, the view is unavailable.
func (m *Manager) OpenReserved(r *Reservation, booking *models.Booking, destination *models.GeoPoint) *View {
	v := &View{
		id:        m.newID(),
		bookingID: r.bookingID,
		done:      make(chan struct{}),
		subs:      make(map[chan Snapshot]struct{}),
		onClose:   m.remove,
	}
	reason := Unavailability(booking, destination)

	var ctx context.Context
	m.mu.Lock()
	m.releaseLocked(r)
	if reason == "" && r.stale {
		reason = "booking left en route"
	}
	if reason == "" {
		start, _ := booking.MechanicPosition()
		dest := booking.CustomerLocation
		if destination != nil {
			dest = destination
		}
		v.available = true
		v.ticker = NewTicker(start, *dest, m.params)
		v.snapshot = v.snapshotFrom(v.ticker.Last())
		ctx, v.cancel = context.WithCancel(m.root)
	} else {
		close(v.done)
		v.snapshot = Snapshot{
			ViewID:    v.id,
			BookingID: v.bookingID,
			Message:   models.TrackingUnavailableMessage,
			UpdatedAt: time.Now(),
		}
	}
	m.registerLocked(v)
	m.mu.Unlock()

	if !v.available {
		m.logger.Debug().Str("view_id", v.id).Int64("booking_id", v.bookingID).Str("reason", reason).Msg("tracking unavailable")
		if m.listener != nil {
			m.listener.ViewOpened(v.snapshot)
		}
		m.reapLater(v)
		return v
	}

	m.logger.Info().Str("view_id", v.id).Int64("booking_id", v.bookingID).Msg("tracking view opened")
	if m.listener != nil {
		m.listener.ViewOpened(v.snapshot)
	}

	go func() {
		defer close(v.done)
		v.ticker.Run(ctx, func(f Frame) {
			s := v.snapshotFrom(f)
			v.publish(s)
			if m.listener == nil {
				return
			}
			m.listener.Ticked(s)
			if s.Arrived {
				m.listener.Arrived(s)
			}
		})
		if v.ticker.Arrived() {
			m.reapLater(v)
		}
	}()

	return v
}

// reapLater closes a finished view once Params.Retention has passed, leaving
// its last snapshot readable until then.
func (m *Manager) reapLater(v *View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.reaper != nil {
		return
	}
	v.reaper = time.AfterFunc(m.params.Retention, v.Close)
}

func (v *View) snapshotFrom(f Frame) Snapshot {
	pos := f.Position
	dest := v.ticker.Destination()
	return Snapshot{
		ViewID:      v.id,
		BookingID:   v.bookingID,
		Available:   true,
		Position:    &pos,
		Destination: &dest,
		DistanceKm:  f.Reading.DistanceKm,
		ETAMinutes:  f.Reading.ETAMinutes,
		Distance:    f.Reading.Distance,
		ETA:         f.Reading.ETA,
		Arrived:     f.Reading.Arrived,
		Tick:        f.Tick,
		UpdatedAt:   f.At,
	}
}

func (m *Manager) Get(id string) (*View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	return v, ok
}

// Close closes a single view. It reports false when the id is unknown.
func (m *Manager) Close(id string) bool {
	v, ok := m.Get(id)
	if !ok {
		return false
	}
	v.Close()
	return true
}

// CloseBooking closes every view of a booking and returns how many closed.
// Reservations taken for the booking before the call can no longer open a
// running view.
func (m *Manager) CloseBooking(bookingID int64) int {
	m.mu.Lock()
	for r := range m.pending[bookingID] {
		r.stale = true
	}
	views := make([]*View, 0, len(m.byBooking[bookingID]))
	for _, v := range m.byBooking[bookingID] {
		views = append(views, v)
	}
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	return len(views)
}

// Active counts views whose ticker is still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.views {
		select {
		case <-v.done:
		default:
			n++
		}
	}
	return n
}

// Len counts registered views, including unavailable and arrived ones that
// are still within their retention.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Shutdown closes every view.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	views := make([]*View, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	m.cancelRoot()
}

func (m *Manager) registerLocked(v *View) {
	m.views[v.id] = v
	if m.byBooking[v.bookingID] == nil {
		m.byBooking[v.bookingID] = make(map[string]*View)
	}
	m.byBooking[v.bookingID][v.id] = v
}

func (m *Manager) remove(v *View) {
	m.mu.Lock()
	if views, ok := m.byBooking[v.bookingID]; ok {
		delete(views, v.id)
		if len(views) == 0 {
			delete(m.byBooking, v.bookingID)
		}
	}
	delete(m.views, v.id)
	m.mu.Unlock()

	m.logger.Info().Str("view_id", v.id).Int64("booking_id", v.bookingID).Msg("tracking view closed")
	if m.listener != nil {
		m.listener.ViewClosed(v.Snapshot())
	}
}
