package models

import "strings"

// BookingStatus is the closed set of states a service booking can be in.
// The zero value is StatusUnknown and never appears in a persisted booking.
type BookingStatus int

const (
	StatusUnknown BookingStatus = iota
	StatusBookingConfirmed
	StatusMechanicAssigned
	StatusEnRoute
	StatusInProgress
	StatusCompleted
	StatusUpcoming
	StatusCancelled
	StatusRescheduleRequested
)

var statusLabels = map[BookingStatus]string{
	StatusBookingConfirmed:    "Booking Confirmed",
	StatusMechanicAssigned:    "Mechanic Assigned",
	StatusEnRoute:             "En Route",
	StatusInProgress:          "In Progress",
	StatusCompleted:           "Completed",
	StatusUpcoming:            "Upcoming",
	StatusCancelled:           "Cancelled",
	StatusRescheduleRequested: "Reschedule Requested",
}

// AllStatuses lists every known status in declaration order.
func AllStatuses() []BookingStatus {
	return []BookingStatus{
		StatusBookingConfirmed,
		StatusMechanicAssigned,
		StatusEnRoute,
		StatusInProgress,
		StatusCompleted,
		StatusUpcoming,
		StatusCancelled,
		StatusRescheduleRequested,
	}
}

func (s BookingStatus) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// IsKnown reports whether s is one of the enumerated statuses.
func (s BookingStatus) IsKnown() bool {
	_, ok := statusLabels[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseBookingStatus matches a label case-insensitively. Unknown labels yield
// StatusUnknown and false.
func ParseBookingStatus(raw string) (BookingStatus, bool) {
	needle := strings.TrimSpace(raw)
	for status, label := range statusLabels {
		if strings.EqualFold(label, needle) {
			return status, true
		}
	}
	return StatusUnknown, false
}

func (s BookingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText never fails: an unrecognised label becomes StatusUnknown so a
// single bad history record cannot break decoding of a whole booking.
func (s *BookingStatus) UnmarshalText(text []byte) error {
	*s, _ = ParseBookingStatus(string(text))
	return nil
}
