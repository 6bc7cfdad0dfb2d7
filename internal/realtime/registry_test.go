package realtime

import (
	"testing"

	"carenav/internal/model"
)

func TestRegistryIdempotentAdd(t *testing.T) {
	r := NewRegistry()
	if !r.Add(model.ChannelVehicle, 7) {
		t.Fatal("first add should report new")
	}
	if r.Add(model.ChannelVehicle, 7) {
		t.Fatal("second add should be a no-op")
	}
	if r.Len() != 1 {
		t.Fatalf("len: got %d, want 1", r.Len())
	}
}

func TestRegistryRemoveNonMember(t *testing.T) {
	r := NewRegistry()
	r.Add(model.ChannelRoute, 3)
	if r.Remove(model.ChannelRoute, 99) {
		t.Fatal("removing non-member should be a no-op")
	}
	if !r.Remove(model.ChannelRoute, 3) {
		t.Fatal("removing member should succeed")
	}
	if r.Len() != 0 {
		t.Fatalf("len: got %d, want 0", r.Len())
	}
}

func TestRegistrySnapshotStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(model.ChannelVehicle, 7)
	r.Add(model.ChannelRoute, 3)
	r.Add(model.ChannelVehicle, 12)
	want := []Subscription{
		{Kind: model.ChannelVehicle, ID: 7},
		{Kind: model.ChannelRoute, ID: 3},
		{Kind: model.ChannelVehicle, ID: 12},
	}
	for i := 0; i < 3; i++ {
		got := r.Snapshot()
		if len(got) != len(want) {
			t.Fatalf("snapshot len: got %d, want %d", len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("snapshot[%d]: got %+v, want %+v", j, got[j], want[j])
			}
		}
	}
}
