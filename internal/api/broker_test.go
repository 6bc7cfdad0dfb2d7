package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func recvEvent(t *testing.T, ch chan StreamEvent, timeout time.Duration) StreamEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before delivery")
		}
		return evt
	case <-time.After(timeout):
		t.Fatal("timeout waiting for event")
		return StreamEvent{}
	}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(2)
	defer b.Unsubscribe(2, ch)

	b.Publish(2, StreamEvent{Type: "location_update", Data: map[string]any{"vehicleId": float64(7)}})
	evt := recvEvent(t, ch, time.Second)
	if evt.Type != "location_update" {
		t.Fatalf("event type: %s", evt.Type)
	}

	// other routes don't leak in
	b.Publish(9, StreamEvent{Type: "delay_alert"})
	select {
	case evt := <-ch:
		t.Fatalf("unexpected cross-route delivery: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerFirehoseSeesEveryRoute(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe(AllRoutes)
	defer b.Unsubscribe(AllRoutes, all)

	b.Publish(2, StreamEvent{Type: "eta_update"})
	b.Publish(9, StreamEvent{Type: "delay_alert"})

	if evt := recvEvent(t, all, time.Second); evt.Type != "eta_update" {
		t.Fatalf("first firehose event: %s", evt.Type)
	}
	if evt := recvEvent(t, all, time.Second); evt.Type != "delay_alert" {
		t.Fatalf("second firehose event: %s", evt.Type)
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(3)
	b.Unsubscribe(3, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// publishing after unsubscribe must not panic
	b.Publish(3, StreamEvent{Type: "eta_update"})
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new redis broker: %v", err)
	}

	ch := b.Subscribe(2)
	all := b.Subscribe(AllRoutes)
	defer b.Unsubscribe(2, ch)
	defer b.Unsubscribe(AllRoutes, all)

	b.Publish(2, StreamEvent{Type: "visit_status_update", Data: map[string]any{"visitId": float64(23)}})

	evt := recvEvent(t, ch, 2*time.Second)
	if evt.Type != "visit_status_update" {
		t.Fatalf("route event: %+v", evt)
	}
	if v, ok := evt.Data["visitId"].(float64); !ok || v != 23 {
		t.Fatalf("payload lost in transit: %+v", evt.Data)
	}
	if evt := recvEvent(t, all, 2*time.Second); evt.Type != "visit_status_update" {
		t.Fatalf("firehose event: %+v", evt)
	}
}

func TestRedisBrokerUnsubscribeClosesChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new redis broker: %v", err)
	}
	ch := b.Subscribe(5)
	b.Unsubscribe(5, ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed after unsubscribe")
	}
}
