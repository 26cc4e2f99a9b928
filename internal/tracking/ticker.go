package tracking

import (
	"context"
	"sync"
	"time"

	"garagehub/internal/models"
)

// Frame is the result of one tick.
type Frame struct {
	Position models.GeoPoint
	Reading  Reading
	Tick     int
	At       time.Time
}

// Ticker owns the simulated position for exactly one tracking view. Ticks are
// sequential; once arrived, further ticks report the terminal frame and never
// move the position again.
type Ticker struct {
	mu          sync.Mutex
	position    models.GeoPoint
	destination models.GeoPoint
	params      Params
	ticks       int
	last        Frame
	arrived     bool
	now         func() time.Time
}

func NewTicker(start, destination models.GeoPoint, params Params) *Ticker {
	params = params.withDefaults()
	t := &Ticker{
		position:    start,
		destination: destination,
		params:      params,
		now:         time.Now,
	}
	t.last = Frame{Position: start, Reading: Measure(start, destination, params), At: t.now()}
	return t
}

// Tick advances the simulation by one step.
func (t *Ticker) Tick() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.arrived {
		return t.last
	}

	next, reading := Advance(t.position, t.destination, t.params)
	t.position = next
	t.ticks++
	t.arrived = reading.Arrived
	t.last = Frame{Position: next, Reading: reading, Tick: t.ticks, At: t.now()}
	return t.last
}

// Last returns the most recent frame; before the first tick it carries the
// initial measurement.
func (t *Ticker) Last() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Arrived reports whether the position has been pinned to the destination.
func (t *Ticker) Arrived() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arrived
}

// Destination is the fixed point the ticker converges on.
func (t *Ticker) Destination() models.GeoPoint {
	return t.destination
}

// Run ticks every Params.Interval until ctx is cancelled or the mechanic
// arrives. emit is called from the Run goroutine after each tick.
func (t *Ticker) Run(ctx context.Context, emit func(Frame)) {
	clock := time.NewTicker(t.params.Interval)
	defer clock.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.C:
			frame := t.Tick()
			if emit != nil {
				emit(frame)
			}
			if frame.Reading.Arrived {
				return
			}
		}
	}
}
