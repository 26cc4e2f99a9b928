package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventBookingCreated, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: 9, ServiceName: "Oil change"})
	require.NoError(t, err)
	require.Equal(t, 1, callCount)
	assert.Equal(t, EventBookingCreated, received.Type)
	assert.NotZero(t, received.ID)

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, int64(9), decoded.BookingID)
	assert.Equal(t, "Oil change", decoded.ServiceName)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2, all int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.SubscribeAll(func(_ *Event) error { all++; return nil })

	require.NoError(t, bus.Publish(&Event{Type: "event"}))
	require.NoError(t, bus.Publish(&Event{Type: "other"}))

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
	assert.Equal(t, 2, all)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	var called bool

	bus.Subscribe("event", func(_ *Event) error { return boom })
	bus.Subscribe("event", func(_ *Event) error { called = true; return nil })

	err := bus.Publish(&Event{Type: "event"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.Publish(&Event{Type: "unknown"}))
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON(EventTrackingClosed, TrackingEventPayload{}))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventTrackingArrived, TrackingEventPayload{ViewID: "v1", Arrived: true})
	require.NoError(t, err)
	assert.Equal(t, EventTrackingArrived, event.Type)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded TrackingEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, "v1", decoded.ViewID)
	assert.True(t, decoded.Arrived)

	_, err = NewJSONEvent("bad", make(chan int))
	assert.Error(t, err)
}
