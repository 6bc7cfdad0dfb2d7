package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carenav/internal/metrics"
	"carenav/internal/model"
)

// Consumer receives decoded stream events in arrival order.
type Consumer func(model.InboundEvent)

// Dispatcher decodes inbound frames and fans them out to registered
// consumers. Decode failures drop the frame and keep the stream alive;
// a panicking consumer never prevents delivery to the others.
type Dispatcher struct {
	log *zap.Logger

	// OnPing is invoked when a server liveness probe is intercepted.
	// Set by the connection manager; ping frames are never broadcast.
	OnPing func()

	mu        sync.Mutex
	consumers map[string]Consumer
	order     []string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log.Named("realtime.dispatch"), consumers: map[string]Consumer{}}
}

// AddConsumer registers fn and returns a disposer that unregisters it.
// The disposer is safe to call at any time, including during a broadcast;
// removal before the consumer's turn suppresses delivery to it.
func (d *Dispatcher) AddConsumer(fn Consumer) func() {
	id := uuid.NewString()
	d.mu.Lock()
	d.consumers[id] = fn
	d.order = append(d.order, id)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.consumers[id]; !ok {
			return
		}
		delete(d.consumers, id)
		for i, v := range d.order {
			if v == id {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
}

// Dispatch decodes one raw frame and routes it.
func (d *Dispatcher) Dispatch(raw []byte) {
	evt, err := Decode(raw)
	if err != nil {
		metrics.DecodeFailures.Inc()
		d.log.Warn("dropping undecodable frame", zap.Error(err))
		return
	}
	metrics.StreamEvents.WithLabelValues(evt.Type).Inc()

	if evt.Type == model.EventPing {
		if d.OnPing != nil {
			d.OnPing()
		}
		return
	}
	d.broadcast(evt)
}

func (d *Dispatcher) broadcast(evt model.InboundEvent) {
	d.mu.Lock()
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	d.mu.Unlock()

	for _, id := range ids {
		// Re-check membership so a mid-broadcast removal is honored.
		d.mu.Lock()
		fn, ok := d.consumers[id]
		d.mu.Unlock()
		if !ok {
			continue
		}
		d.deliver(id, fn, evt)
	}
}

func (d *Dispatcher) deliver(id string, fn Consumer, evt model.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("consumer panicked", zap.String("consumer", id), zap.String("type", evt.Type), zap.Any("panic", r))
		}
	}()
	fn(evt)
}

// Decode parses a raw JSON frame into an InboundEvent.
func Decode(raw []byte) (model.InboundEvent, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.InboundEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return model.InboundEvent{}, fmt.Errorf("frame missing type tag")
	}
	evt := model.InboundEvent{Type: env.Type, Timestamp: env.Timestamp}

	switch env.Type {
	case model.EventLocationUpdate:
		var p model.LocationUpdate
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return model.InboundEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt.Location = &p
	case model.EventVisitStatusUpdate:
		var p model.VisitStatusUpdate
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return model.InboundEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt.VisitStatus = &p
	case model.EventETAUpdate:
		var p model.ETAUpdate
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return model.InboundEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt.ETA = &p
	case model.EventDelayAlert:
		var p model.DelayAlert
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return model.InboundEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		evt.Delay = &p
	case model.EventError:
		var p model.StreamError
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return model.InboundEvent{}, fmt.Errorf("decode %s: %w", env.Type, err)
			}
		}
		evt.Error = &p
	default:
		// Control frames and unknown kinds carry the tag only; the state
		// store decides whether to fold or ignore them.
	}
	return evt, nil
}
