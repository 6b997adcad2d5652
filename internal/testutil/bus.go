package testutil

import (
	"context"
	"sync"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/events"
)

// Bus records published events so a test can deliver them to consumers by hand.
type Bus struct {
	mu        sync.Mutex
	err       error
	published []events.Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Publish(_ context.Context, evt events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, evt)

	return nil
}

// FailWith makes every following Publish return err. A nil err heals the bus.
func (b *Bus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.err = err
}

// Events returns every event published so far without consuming it.
func (b *Bus) Events() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]events.Event(nil), b.published...)
}

// Take removes and returns the events published to queue, oldest first.
func (b *Bus) Take(queue string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var taken, rest []events.Event
	for _, evt := range b.published {
		if evt.Queue() == queue {
			taken = append(taken, evt)
		} else {
			rest = append(rest, evt)
		}
	}
	b.published = rest

	return taken
}
