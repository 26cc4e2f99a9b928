package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated       = "booking_created"
	EventBookingStatusChanged = "booking_status_changed"
	EventMechanicAssigned     = "mechanic_assigned"
	EventMechanicMoved        = "mechanic_moved"
	EventTrackingStarted      = "tracking_started"
	EventTrackingArrived      = "tracking_arrived"
	EventTrackingClosed       = "tracking_closed"
)

// AllEventTypes lists every type the services publish.
func AllEventTypes() []string {
	return []string{
		EventBookingCreated,
		EventBookingStatusChanged,
		EventMechanicAssigned,
		EventMechanicMoved,
		EventTrackingStarted,
		EventTrackingArrived,
		EventTrackingClosed,
	}
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID      int64     `json:"booking_id"`
	CustomerID     int64     `json:"customer_id"`
	CustomerName   string    `json:"customer_name"`
	CustomerChatID int64     `json:"customer_chat_id,omitempty"`
	ServiceName    string    `json:"service_name"`
	MechanicID     int64     `json:"mechanic_id,omitempty"`
	MechanicName   string    `json:"mechanic_name,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	ChangedBy      string    `json:"changed_by,omitempty"`
}

// TrackingEventPayload is published for tracking view lifecycle changes.
type TrackingEventPayload struct {
	ViewID     string  `json:"view_id"`
	BookingID  int64   `json:"booking_id"`
	Available  bool    `json:"available"`
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
	Arrived    bool    `json:"arrived"`
	Tick       int     `json:"tick"`
}

// MechanicEventPayload carries a mechanic location report.
type MechanicEventPayload struct {
	MechanicID int64   `json:"mechanic_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

const wildcard = "*"

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         int64
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.Subscribe(wildcard, handler)
}

// Publish notifies subscribers of the event type and returns the first
// handler error. Every handler runs regardless of earlier failures.
func (b *EventBus) Publish(event *Event) error {
	b.mu.Lock()
	b.seq++
	if event.ID == 0 {
		event.ID = b.seq
	}
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[wildcard]...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
