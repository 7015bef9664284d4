package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Type names an event channel.
type Type string

const (
	TypeOrderFilled   Type = "ORDER_FILLED"
	TypeOrderRejected Type = "ORDER_REJECTED"
	TypeMarketUpdate  Type = "MARKET_UPDATE"
)

// Event is implemented by every published event payload. Payloads are typed
// structs rather than string-keyed maps so subscribers are checked at
// compile time.
type Event interface {
	EventType() Type
}

// OrderFilled announces a successful order submission and fill.
type OrderFilled struct {
	OrderID   string
	SignalID  string
	MarketID  string
	FilledQty float64
}

func (OrderFilled) EventType() Type { return TypeOrderFilled }

// OrderRejected announces a failed order submission.
type OrderRejected struct {
	SignalID string
	MarketID string
	Error    string
}

func (OrderRejected) EventType() Type { return TypeOrderRejected }

// MarketUpdate carries a fresh quote for a market.
type MarketUpdate struct {
	MarketID string
	YesBid   float64
	YesAsk   float64
}

func (MarketUpdate) EventType() Type { return TypeMarketUpdate }

// Handler consumes published events.
type Handler func(Event)

// Bus is a typed publish/subscribe fan-out. Subscribers per type are invoked
// in registration order, synchronously with Publish.
type Bus struct {
	mu   sync.RWMutex
	subs map[Type][]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish fans an event out to all handlers of its type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.subs[event.EventType()]
	b.mu.RUnlock()

	log.Debug().
		Str("event_type", string(event.EventType())).
		Int("subscribers", len(handlers)).
		Msg("publishing event")

	for _, h := range handlers {
		h(event)
	}
}
