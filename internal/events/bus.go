package events

import (
	"context"
	"encoding/json"
	"log"

	"tradegate/internal/domain"
	"tradegate/internal/store"
)

// Publisher forwards audit events to an external webhook.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Bus is the single audit path: every emitted event is appended to the
// store, pushed to live feed subscribers and, when a publisher is wired,
// shipped out asynchronously. Emit never fails and never blocks the caller
// on network I/O.
type Bus struct {
	store     store.Store
	hub       *Hub
	publisher Publisher
}

func NewBus(st store.Store, hub *Hub, publisher Publisher) *Bus {
	return &Bus{store: st, hub: hub, publisher: publisher}
}

func (b *Bus) Emit(eventType domain.EventType, ticker string, payload map[string]interface{}) domain.Event {
	event := b.store.AppendEvent(eventType, ticker, payload)
	if b.hub != nil {
		if raw, err := json.Marshal(event); err == nil {
			b.hub.Broadcast(raw)
		}
	}
	if b.publisher != nil {
		go func() {
			if err := b.publisher.Publish(context.Background(), event); err != nil {
				log.Printf("events: publish %s: %v", event.Type, err)
			}
		}()
	}
	return event
}
