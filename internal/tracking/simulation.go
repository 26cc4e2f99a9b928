// Package tracking simulates a mechanic converging on a customer while a
// tracking view is open and derives the live distance/ETA shown with it.
package tracking

import (
	"fmt"
	"math"
	"time"

	"garagehub/internal/geo"
	"garagehub/internal/models"
)

// Params tunes the simulation. Zero fields fall back to the package defaults.
type Params struct {
	Interval           time.Duration
	AverageSpeedKmh    float64
	StepFraction       float64
	ArrivalThresholdKm float64

	// Retention is how long an arrived or unavailable view stays registered
	// before it is closed.
	Retention time.Duration
}

// DefaultParams returns the stock simulation: a 2 s tick at 40 km/h moving
// 10 % of the gap, arriving under 0.1 km.
func DefaultParams() Params {
	return Params{
		Interval:           models.TrackingInterval,
		AverageSpeedKmh:    models.AverageSpeedKmh,
		StepFraction:       models.TrackingStepFraction,
		ArrivalThresholdKm: models.ArrivalThresholdKm,
		Retention:          models.ViewRetention,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.AverageSpeedKmh <= 0 {
		p.AverageSpeedKmh = d.AverageSpeedKmh
	}
	if p.StepFraction <= 0 || p.StepFraction > 1 {
		p.StepFraction = d.StepFraction
	}
	if p.ArrivalThresholdKm <= 0 {
		p.ArrivalThresholdKm = d.ArrivalThresholdKm
	}
	if p.Retention <= 0 {
		p.Retention = d.Retention
	}
	return p
}

// Reading is what a single tick reports for display.
type Reading struct {
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
	Distance   string  `json:"distance"`
	ETA        string  `json:"eta"`
	Arrived    bool    `json:"arrived"`
}

// Measure computes distance and ETA from current to destination without
// moving and without applying the arrival rule.
func Measure(current, destination models.GeoPoint, p Params) Reading {
	p = p.withDefaults()
	d := geo.DistanceKm(current, destination)
	eta := ETAMinutes(d, p.AverageSpeedKmh)
	return Reading{
		DistanceKm: d,
		ETAMinutes: eta,
		Distance:   FormatDistance(d),
		ETA:        FormatETA(eta),
	}
}

// Advance performs one simulation step. Under the arrival threshold the
// position snaps onto destination and the reading is terminal; otherwise the
// position closes StepFraction of the gap on each axis and the reading holds
// the distance measured before the move.
func Advance(current, destination models.GeoPoint, p Params) (models.GeoPoint, Reading) {
	p = p.withDefaults()
	reading := Measure(current, destination, p)

	if reading.DistanceKm < p.ArrivalThresholdKm {
		return destination, Reading{
			Distance: FormatDistance(0),
			ETA:      models.ArrivedLabel,
			Arrived:  true,
		}
	}

	return geo.Lerp(current, destination, p.StepFraction), reading
}

// ETAMinutes rounds travel time at speedKmh up to whole minutes.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}

// FormatDistance renders "<N.N> km"; zero is rendered as "0 km".
func FormatDistance(km float64) string {
	if km == 0 {
		return "0 km"
	}
	return fmt.Sprintf("%.1f km", km)
}

// FormatETA renders "<N> min". Arrival is labelled by the caller.
func FormatETA(minutes int) string {
	return fmt.Sprintf("%d min", minutes)
}
