// Package timeline derives booking progress milestones from a status log.
//
// Everything here is a pure function of (history, current status): nothing is
// cached, so a log appended concurrently by the store is always read fresh.
package timeline

import (
	"strings"
	"time"

	"garagehub/internal/models"
)

// Milestones is the fixed, ordered progress sequence.
var Milestones = []models.BookingStatus{
	models.StatusBookingConfirmed,
	models.StatusMechanicAssigned,
	models.StatusEnRoute,
	models.StatusInProgress,
	models.StatusCompleted,
}

// MilestoneIndex returns the position of status in Milestones, or -1 for side
// states (Upcoming, Cancelled, Reschedule Requested) and unknown values.
func MilestoneIndex(status models.BookingStatus) int {
	switch status {
	case models.StatusBookingConfirmed:
		return 0
	case models.StatusMechanicAssigned:
		return 1
	case models.StatusEnRoute:
		return 2
	case models.StatusInProgress:
		return 3
	case models.StatusCompleted:
		return 4
	default:
		return -1
	}
}

// CurrentIndex is the furthest milestone reached across history and the live
// status. Order and duplicates in history do not matter; -1 means none.
func CurrentIndex(history []models.StatusHistoryEntry, current models.BookingStatus) int {
	best := MilestoneIndex(current)
	for _, entry := range history {
		if idx := MilestoneIndex(entry.Status); idx > best {
			best = idx
		}
	}
	return best
}

// Variant selects how the milestone at the current index is rendered.
type Variant int

const (
	// VariantActive marks milestones before the current one completed, the
	// current one active and the rest pending. This is the canonical view.
	VariantActive Variant = iota
	// VariantReached marks every milestone up to and including the current
	// one as completed.
	VariantReached
)

// ParseVariant accepts "active" or "reached"; anything else is VariantActive.
func ParseVariant(raw string) Variant {
	if strings.EqualFold(strings.TrimSpace(raw), "reached") {
		return VariantReached
	}
	return VariantActive
}

func (v Variant) String() string {
	if v == VariantReached {
		return "reached"
	}
	return "active"
}

// State is how a single milestone is drawn.
type State string

const (
	StateCompleted State = "completed"
	StateActive    State = "active"
	StatePending   State = "pending"
)

// Time layouts for step labels: FormatTime on the mechanic screen,
// FormatDateTime for customers.
const (
	FormatTime     = "3:04 PM"
	FormatDateTime = "Jan 2, 3:04 PM"
)

// Options controls rendering. Zero values mean Variant B, FormatDateTime and
// the local zone.
type Options struct {
	Variant  Variant
	Layout   string
	Location *time.Location
}

// Step is one rendered milestone.
type Step struct {
	Status    models.BookingStatus `json:"status"`
	State     State                `json:"state"`
	Reached   bool                 `json:"reached"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
	TimeLabel string               `json:"time_label"`
}

// Timeline is the full milestone list for a booking.
type Timeline struct {
	CurrentIndex int                  `json:"current_index"`
	Current      models.BookingStatus `json:"current_status"`
	Variant      string               `json:"variant"`
	Steps        []Step               `json:"steps"`
}

// Build renders every milestone for the given variant.
func Build(history []models.StatusHistoryEntry, current models.BookingStatus, opts Options) Timeline {
	if opts.Layout == "" {
		opts.Layout = FormatDateTime
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	idx := CurrentIndex(history, current)
	steps := make([]Step, 0, len(Milestones))
	for i, milestone := range Milestones {
		step := Step{
			Status: milestone,
			State:  stateFor(i, idx, opts.Variant),
		}
		step.Reached = step.State != StatePending

		step.TimeLabel = models.PendingLabel
		if entry, ok := firstEntry(history, milestone); ok {
			if ts, ok := ParseTimestamp(entry.Timestamp); ok {
				local := ts.In(opts.Location)
				step.Timestamp = &local
				step.TimeLabel = local.Format(opts.Layout)
			} else if strings.TrimSpace(entry.Timestamp) != "" {
				step.TimeLabel = entry.Timestamp
			}
		}
		steps = append(steps, step)
	}

	return Timeline{
		CurrentIndex: idx,
		Current:      current,
		Variant:      opts.Variant.String(),
		Steps:        steps,
	}
}

func stateFor(i, current int, variant Variant) State {
	switch {
	case variant == VariantReached && i <= current:
		return StateCompleted
	case i < current:
		return StateCompleted
	case i == current:
		return StateActive
	default:
		return StatePending
	}
}

func firstEntry(history []models.StatusHistoryEntry, status models.BookingStatus) (models.StatusHistoryEntry, bool) {
	for _, entry := range history {
		if entry.Status == status {
			return entry, true
		}
	}
	return models.StatusHistoryEntry{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts the ISO-8601 shapes the status log is written with.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
