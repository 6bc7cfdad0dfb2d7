package api

import (
	"sync"
)

// StreamEvent is one folded monitoring event fanned out to dashboards.
type StreamEvent struct {
	Type string
	Data map[string]any
}

// AllRoutes subscribes to the firehose rather than a single route.
const AllRoutes int64 = 0

// Broker is the in-memory monitoring-event fan-out: per-route channel sets
// plus a firehose set. Slow subscribers drop events rather than block the
// fold path.
type Broker struct {
	mu   sync.Mutex
	subs map[int64]map[chan StreamEvent]struct{} // routeId (0 = all) -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[int64]map[chan StreamEvent]struct{}{}}
}

func (b *Broker) Subscribe(routeID int64) chan StreamEvent {
	ch := make(chan StreamEvent, 8)
	b.mu.Lock()
	if b.subs[routeID] == nil {
		b.subs[routeID] = map[chan StreamEvent]struct{}{}
	}
	b.subs[routeID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(routeID int64, ch chan StreamEvent) {
	b.mu.Lock()
	if m := b.subs[routeID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, routeID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(routeID int64, evt StreamEvent) {
	b.mu.Lock()
	for ch := range b.subs[routeID] {
		select {
		case ch <- evt:
		default:
		}
	}
	if routeID != AllRoutes {
		for ch := range b.subs[AllRoutes] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	b.mu.Unlock()
}
