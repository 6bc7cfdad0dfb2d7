package realtime

import (
	"sync"

	"carenav/internal/model"
)

// Subscription is one held (kind, id) channel.
type Subscription struct {
	Kind model.ChannelKind `json:"type"`
	ID   int64             `json:"id"`
}

// Registry holds subscription intent independent of any single connection.
// Membership is idempotent and survives reconnects; the connection manager
// replays the full held set after every successful (re)connect.
type Registry struct {
	mu    sync.Mutex
	held  map[Subscription]struct{}
	order []Subscription // insertion order, kept stable for deterministic replay
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{held: map[Subscription]struct{}{}}
}

// Add records a subscription. Returns false if it was already held.
func (r *Registry) Add(kind model.ChannelKind, id int64) bool {
	k := Subscription{Kind: kind, ID: id}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[k]; ok {
		return false
	}
	r.held[k] = struct{}{}
	r.order = append(r.order, k)
	return true
}

// Remove drops a subscription. Removing a non-member is a no-op; returns
// false in that case.
func (r *Registry) Remove(kind model.ChannelKind, id int64) bool {
	k := Subscription{Kind: kind, ID: id}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[k]; !ok {
		return false
	}
	delete(r.held, k)
	for i, s := range r.order {
		if s == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns the held set in insertion order.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of held subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
