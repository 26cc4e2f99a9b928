package models

import "time"

// GeoPoint is an immutable latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// StatusHistoryEntry is one record of the append-only status log.
// Timestamp is kept as the ISO-8601 string the log was written with.
type StatusHistoryEntry struct {
	Status    BookingStatus `json:"status"`
	Timestamp string        `json:"timestamp"`
}

type Mechanic struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Phone     string    `json:"phone" yaml:"phone"`
	Location  *GeoPoint `json:"location,omitempty" yaml:"location"`
	Available bool      `json:"available" yaml:"available"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

type Booking struct {
	ID               int64                `json:"id"`
	CustomerID       int64                `json:"customer_id"`
	CustomerName     string               `json:"customer_name"`
	CustomerChatID   int64                `json:"customer_chat_id,omitempty"`
	ServiceName      string               `json:"service_name"`
	MechanicID       int64                `json:"mechanic_id,omitempty"`
	Mechanic         *Mechanic            `json:"mechanic,omitempty"`
	Status           BookingStatus        `json:"status"`
	StatusHistory    []StatusHistoryEntry `json:"status_history"`
	CustomerLocation *GeoPoint            `json:"customer_location,omitempty"`
	ScheduledAt      time.Time            `json:"scheduled_at"`
	Comment          string               `json:"comment,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Version          int64                `json:"version"`
}

// MechanicPosition returns the mechanic's last known coordinate, if any.
func (b *Booking) MechanicPosition() (GeoPoint, bool) {
	if b == nil || b.Mechanic == nil || b.Mechanic.Location == nil {
		return GeoPoint{}, false
	}
	return *b.Mechanic.Location, true
}

// Banner is a promotional card rotated on the customer home screen.
type Banner struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	ImageURL string `json:"image_url" yaml:"image_url"`
	Link     string `json:"link,omitempty" yaml:"link"`
}
