package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_Publish(t *testing.T) {
	bus := NewEventBus()

	var got []Event
	bus.Subscribe(func(e Event) error {
		got = append(got, e)
		return nil
	}, ReservationCreated, ReservationCancelled)

	bus.Publish(Event{Type: ReservationCreated, ID: 1, Date: "2025-06-01"})
	bus.Publish(Event{Type: ReservationsPurged, Count: 3})
	bus.Publish(Event{Type: ReservationCancelled, ID: 1})

	if assert.Len(t, got, 2) {
		assert.Equal(t, ReservationCreated, got[0].Type)
		assert.False(t, got[0].CreatedAt.IsZero())
		assert.Equal(t, ReservationCancelled, got[1].Type)
	}
}

func TestEventBus_HandlerErrors(t *testing.T) {
	bus := NewEventBus()

	var failed []string
	bus.OnError(func(e Event, err error) {
		failed = append(failed, e.Type+": "+err.Error())
	})

	calls := 0
	bus.Subscribe(func(Event) error { calls++; return errors.New("boom") }, ReservationsPurged)
	bus.Subscribe(func(Event) error { calls++; return nil }, ReservationsPurged)

	bus.Publish(Event{Type: ReservationsPurged})

	assert.Equal(t, 2, calls, "a failing handler must not stop the others")
	assert.Equal(t, []string{"reservation.purged: boom"}, failed)
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	p.Publish(Event{Type: ReservationCreated})
}
