package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventBroker fans folded monitoring events out to dashboard streams.
type EventBroker interface {
	Subscribe(routeID int64) chan StreamEvent
	Unsubscribe(routeID int64, ch chan StreamEvent)
	Publish(routeID int64, evt StreamEvent)
}

// In-memory broker already implemented in broker.go and satisfies EventBroker

// RedisBroker implements EventBroker over Redis Pub/Sub so multiple daemon
// instances can feed one dashboard fleet.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	pubs map[chan StreamEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), pubs: map[chan StreamEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(routeID int64) chan StreamEvent {
	ch := make(chan StreamEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(routeID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.pubs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt StreamEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(routeID int64, ch chan StreamEvent) {
	b.mu.Lock()
	ps := b.pubs[ch]
	delete(b.pubs, ch)
	b.mu.Unlock()
	if ps != nil {
		// closing the PubSub ends ps.Channel(), which closes ch in the pump
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(routeID int64, evt StreamEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(routeID), data).Err()
	if routeID != AllRoutes {
		_ = b.rdb.Publish(ctx, b.chanName(AllRoutes), data).Err()
	}
}

func (b *RedisBroker) chanName(routeID int64) string {
	if routeID == AllRoutes {
		return "monitoring:all"
	}
	return fmt.Sprintf("monitoring:route:%d", routeID)
}
