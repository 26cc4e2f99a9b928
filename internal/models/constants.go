package models

import "time"

// ParseModeHTML is the Telegram parse mode for customer notifications.
const ParseModeHTML = "HTML"

const (
	// TrackingInterval is how often a tracking view recomputes position and ETA.
	TrackingInterval = 2 * time.Second

	// AverageSpeedKmh is the constant speed assumed for ETA estimates.
	AverageSpeedKmh = 40.0

	// TrackingStepFraction is the share of the remaining gap covered per tick.
	TrackingStepFraction = 0.1

	// ArrivalThresholdKm is the distance under which a mechanic counts as arrived.
	ArrivalThresholdKm = 0.1

	// BannerRotationInterval controls the promo carousel.
	BannerRotationInterval = 5 * time.Second

	// SnapshotTTL keeps the last tracking snapshot around after a view closes.
	SnapshotTTL = 10 * time.Minute

	// ViewRetention keeps finished tracking views readable before they are reaped.
	ViewRetention = time.Minute

	// WorkerQueueSize bounds the in-process task queue.
	WorkerQueueSize = 128

	// LocationRateLimit caps mechanic location updates per window.
	LocationRateLimit  = 30
	LocationRateWindow = time.Minute

	// DefaultExportRangeDays is used when an export request has no range.
	DefaultExportRangeDays = 30
)

const (
	TrackingUnavailableMessage = "tracking unavailable"
	ArrivedLabel               = "Arrived"
	PendingLabel               = "Pending"
)
