package realtime

import (
	"sync"
	"testing"
	"time"

	"carenav/internal/model"
)

type eventRecorder struct {
	mu   sync.Mutex
	evts []model.InboundEvent
}

func (r *eventRecorder) record(evt model.InboundEvent) {
	r.mu.Lock()
	r.evts = append(r.evts, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evts))
	for i, e := range r.evts {
		out[i] = e.Type
	}
	return out
}

func TestDispatchDecodeFailureDropsFrame(t *testing.T) {
	d := NewDispatcher(nil)
	var rec eventRecorder
	d.AddConsumer(rec.record)

	d.Dispatch([]byte("{not json"))
	d.Dispatch([]byte(`{"timestamp":"2026-08-24T10:00:00Z"}`)) // missing type
	d.Dispatch([]byte(`{"type":"location_update","data":{"vehicleId":7,"latitude":41.4,"longitude":2.1,"timestamp":"2026-08-24T10:00:00Z"}}`))

	got := rec.types()
	if len(got) != 1 || got[0] != model.EventLocationUpdate {
		t.Fatalf("expected only the valid frame delivered, got %v", got)
	}
}

func TestDispatchInterceptsPing(t *testing.T) {
	d := NewDispatcher(nil)
	pinged := false
	d.OnPing = func() { pinged = true }
	var rec eventRecorder
	d.AddConsumer(rec.record)

	d.Dispatch([]byte(`{"type":"ping"}`))

	if !pinged {
		t.Fatal("ping hook not invoked")
	}
	if len(rec.types()) != 0 {
		t.Fatalf("ping must not be broadcast, got %v", rec.types())
	}
}

func TestDispatchIsolatesPanickingConsumer(t *testing.T) {
	d := NewDispatcher(nil)
	d.AddConsumer(func(model.InboundEvent) { panic("boom") })
	var rec eventRecorder
	d.AddConsumer(rec.record)

	d.Dispatch([]byte(`{"type":"delay_alert","data":{"visitId":42,"routeId":3,"severity":"minor","delayMinutes":5,"estimatedArrival":"2026-08-24T10:30:00Z","message":"late"}}`))
	d.Dispatch([]byte(`{"type":"subscription_confirmed"}`))

	got := rec.types()
	if len(got) != 2 || got[0] != model.EventDelayAlert || got[1] != model.EventSubscriptionConfirmed {
		t.Fatalf("second consumer should see both events in order, got %v", got)
	}
}

func TestDisposeDuringBroadcast(t *testing.T) {
	d := NewDispatcher(nil)
	var rec eventRecorder
	var dispose func()
	d.AddConsumer(func(model.InboundEvent) { dispose() }) // removes the next consumer mid-broadcast
	dispose = d.AddConsumer(rec.record)

	d.Dispatch([]byte(`{"type":"connection_established"}`))

	if len(rec.types()) != 0 {
		t.Fatalf("removed consumer must not receive the in-flight event, got %v", rec.types())
	}
	// disposing twice is safe
	dispose()
}

func TestDecodeLocationUpdate(t *testing.T) {
	raw := []byte(`{"type":"location_update","timestamp":"2026-08-24T10:00:05Z","data":{"vehicleId":7,"latitude":41.39,"longitude":2.17,"timestamp":"2026-08-24T10:00:00Z","speed":32.5}}`)
	evt, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != model.EventLocationUpdate || evt.Location == nil {
		t.Fatalf("bad decode: %+v", evt)
	}
	if evt.Location.VehicleID != 7 || evt.Location.Latitude != 41.39 {
		t.Fatalf("bad payload: %+v", evt.Location)
	}
	if evt.Location.Speed == nil || *evt.Location.Speed != 32.5 {
		t.Fatalf("optional speed not decoded: %+v", evt.Location)
	}
	want := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if !evt.Location.Timestamp.Equal(want) {
		t.Fatalf("timestamp: got %v, want %v", evt.Location.Timestamp, want)
	}
}
