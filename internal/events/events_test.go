package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	a := make(chan Event, 1)
	b := make(chan Event, 1)
	bus := NewBus(a, b)

	ev := Event{Kind: Process, ConnID: "c1"}
	bus.Publish(ev)

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	full := make(chan Event, 1)
	full <- Event{Kind: Close}
	bus := NewBus(full)

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: Process})
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // Publish must return even though full is at capacity.
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Process", Process.String())
	assert.Equal(t, "PostProcess", PostProcess.String())
	assert.Equal(t, "Close", Close.String())
	assert.Equal(t, "Error", Error.String())
}
