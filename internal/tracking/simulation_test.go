package tracking

import (
	"context"
	"testing"
	"time"

	"garagehub/internal/geo"
	"garagehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	manilaStart = models.GeoPoint{Lat: 14.5500, Lng: 121.0200}
	manilaDest  = models.GeoPoint{Lat: 14.5510, Lng: 121.0210}
)

func TestETAMinutes(t *testing.T) {
	assert.Equal(t, 0, ETAMinutes(0, 40))
	assert.Equal(t, 1, ETAMinutes(0.1547, 40))
	assert.Equal(t, 15, ETAMinutes(10, 40))
	assert.Equal(t, 16, ETAMinutes(10.01, 40))
	assert.Equal(t, 0, ETAMinutes(5, 0))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "0 km", FormatDistance(0))
	assert.Equal(t, "0.2 km", FormatDistance(0.1547))
	assert.Equal(t, "12.0 km", FormatDistance(12))
	assert.Equal(t, "7 min", FormatETA(7))
}

func TestAdvanceReportsPreMoveDistance(t *testing.T) {
	p := DefaultParams()
	start := models.GeoPoint{Lat: -6.2088, Lng: 106.8456}
	dest := models.GeoPoint{Lat: -6.9175, Lng: 107.6191}

	before := geo.DistanceKm(start, dest)
	next, reading := Advance(start, dest, p)

	assert.False(t, reading.Arrived)
	assert.InDelta(t, before, reading.DistanceKm, 1e-9)
	assert.Equal(t, FormatDistance(before), reading.Distance)
	assert.InDelta(t, start.Lat+(dest.Lat-start.Lat)*0.1, next.Lat, 1e-12)
	assert.InDelta(t, start.Lng+(dest.Lng-start.Lng)*0.1, next.Lng, 1e-12)
}

func TestAdvanceArrivalSnapsToDestination(t *testing.T) {
	dest := models.GeoPoint{Lat: 14.5510, Lng: 121.0210}
	near := models.GeoPoint{Lat: 14.5509, Lng: 121.0209}

	next, reading := Advance(near, dest, DefaultParams())
	assert.Equal(t, dest, next)
	assert.True(t, reading.Arrived)
	assert.Equal(t, "0 km", reading.Distance)
	assert.Equal(t, "Arrived", reading.ETA)
}

func TestTickerIdenticalPointsArriveOnFirstTick(t *testing.T) {
	tk := NewTicker(manilaDest, manilaDest, DefaultParams())
	f := tk.Tick()
	assert.True(t, f.Reading.Arrived)
	assert.Equal(t, 1, f.Tick)
	assert.Equal(t, manilaDest, f.Position)
}

func TestTickerShortHopArrives(t *testing.T) {
	tk := NewTicker(manilaStart, manilaDest, DefaultParams())

	first := tk.Tick()
	require.False(t, first.Reading.Arrived)
	assert.Equal(t, "0.2 km", first.Reading.Distance)
	assert.Equal(t, "1 min", first.Reading.ETA)

	arrivedAt := 0
	for i := 0; i < 20; i++ {
		if f := tk.Tick(); f.Reading.Arrived {
			arrivedAt = f.Tick
			break
		}
	}
	require.NotZero(t, arrivedAt)
	assert.True(t, tk.Arrived())
	assert.Equal(t, manilaDest, tk.Last().Position)
}

func TestTickerDistanceStrictlyDecreases(t *testing.T) {
	start := models.GeoPoint{Lat: -6.2088, Lng: 106.8456}
	dest := models.GeoPoint{Lat: -6.2500, Lng: 106.9000}
	tk := NewTicker(start, dest, DefaultParams())

	prev := tk.Last().Reading.DistanceKm
	prevPos := start
	for i := 0; i < 200; i++ {
		f := tk.Tick()
		if f.Reading.Arrived {
			return
		}
		assert.InDelta(t, geo.DistanceKm(prevPos, dest), f.Reading.DistanceKm, 1e-9)
		assert.Less(t, geo.DistanceKm(f.Position, dest), prev)
		prev = geo.DistanceKm(f.Position, dest)
		prevPos = f.Position
	}
	t.Fatal("mechanic never arrived")
}

func TestTickerPinnedAfterArrival(t *testing.T) {
	tk := NewTicker(manilaStart, manilaDest, DefaultParams())
	for !tk.Tick().Reading.Arrived {
	}
	arrived := tk.Last()

	for i := 0; i < 5; i++ {
		f := tk.Tick()
		assert.Equal(t, arrived, f)
		assert.Equal(t, manilaDest, f.Position)
		assert.Equal(t, "0 km", f.Reading.Distance)
		assert.Equal(t, "Arrived", f.Reading.ETA)
	}
}

func TestTickerRunStopsOnArrival(t *testing.T) {
	tk := NewTicker(manilaStart, manilaDest, Params{Interval: time.Millisecond})

	var frames []Frame
	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Run(context.Background(), func(f Frame) { frames = append(frames, f) })
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on arrival")
	}

	require.NotEmpty(t, frames)
	assert.True(t, frames[len(frames)-1].Reading.Arrived)
	for _, f := range frames[:len(frames)-1] {
		assert.False(t, f.Reading.Arrived)
	}
}

func TestTickerRunStopsOnCancel(t *testing.T) {
	far := models.GeoPoint{Lat: 0, Lng: 0}
	tk := NewTicker(far, models.GeoPoint{Lat: 10, Lng: 10}, Params{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tk.Run(ctx, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.False(t, tk.Arrived())
}
