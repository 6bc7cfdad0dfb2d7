package realtime

import (
	"testing"
	"time"

	"carenav/internal/model"
)

func mustTime(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t.Fatalf("parse time %q: %v", v, err)
	}
	return ts
}

func seedThreeRoutes(s *Store) {
	s.Populate([]model.ActiveRoute{
		{RouteID: 1, VehicleID: 7, TotalVisits: 4, CompletedVisits: 4, Date: "2026-08-24"},
		{RouteID: 2, VehicleID: 8, TotalVisits: 4, CompletedVisits: 1, InProgressVisits: 1, PendingVisits: 2, Date: "2026-08-24"},
		{RouteID: 3, VehicleID: 9, TotalVisits: 2, PendingVisits: 2, Date: "2026-08-24"},
	})
}

func TestFilteredRoutesByStatus(t *testing.T) {
	s := NewStore(nil)
	seedThreeRoutes(s)

	s.SetStatusFilter(model.RouteStatusInVisit)
	got := s.FilteredRoutes()
	if len(got) != 1 || got[0].RouteID != 2 {
		t.Fatalf("in_visit filter: got %+v", got)
	}

	s.SetStatusFilter(model.RouteStatusAll)
	if got := s.FilteredRoutes(); len(got) != 3 {
		t.Fatalf("all filter: got %d routes", len(got))
	}
}

func TestFilteredRoutesByVehicle(t *testing.T) {
	s := NewStore(nil)
	seedThreeRoutes(s)

	s.SetVehicleFilter([]int64{7, 9})
	got := s.FilteredRoutes()
	if len(got) != 2 || got[0].RouteID != 1 || got[1].RouteID != 3 {
		t.Fatalf("vehicle filter: got %+v", got)
	}

	// empty filter matches all
	s.SetVehicleFilter(nil)
	if got := s.FilteredRoutes(); len(got) != 3 {
		t.Fatalf("empty vehicle filter: got %d routes", len(got))
	}
}

func TestFilteredRoutesResolveLocation(t *testing.T) {
	s := NewStore(nil)
	seedThreeRoutes(s)
	s.Apply(locEvent(8, mustTime(t, "2026-08-24T10:00:00Z")))

	for _, rt := range s.FilteredRoutes() {
		if rt.VehicleID == 8 {
			if rt.CurrentLocation == nil {
				t.Fatal("route 2 should carry its vehicle's latest fix")
			}
			return
		}
	}
	t.Fatal("route 2 missing")
}

func TestStatsAggregation(t *testing.T) {
	s := NewStore(nil)
	seedThreeRoutes(s)
	s.Apply(delayEvent(21, 2, model.SeverityModerate))
	s.Apply(delayEvent(22, 2, model.SeveritySevere))
	s.Apply(delayEvent(31, 3, model.SeverityMinor))

	st := s.Stats()
	if st.TotalRoutes != 3 || st.TotalVisits != 10 {
		t.Fatalf("totals: %+v", st)
	}
	if st.CompletedVisits != 5 || st.InProgressVisits != 1 {
		t.Fatalf("visit sums: %+v", st)
	}
	if st.DelayedVisits != 3 {
		t.Fatalf("delayed: got %d, want 3", st.DelayedVisits)
	}
	want := (100.0 + 25.0 + 0.0) / 3
	if diff := st.AverageCompletion - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("averageCompletion: got %v, want %v", st.AverageCompletion, want)
	}

	// narrowing the filter narrows the delayed count too
	s.SetVehicleFilter([]int64{9})
	st = s.Stats()
	if st.TotalRoutes != 1 || st.DelayedVisits != 1 {
		t.Fatalf("filtered stats: %+v", st)
	}
}

func TestRouteDelaysOrderedByVisitID(t *testing.T) {
	s := NewStore(nil)
	// ids far enough apart that a naive int(a-b) comparator would misorder
	// on 32-bit platforms
	s.Apply(delayEvent(1<<40, 5, model.SeverityMinor))
	s.Apply(delayEvent(3, 5, model.SeveritySevere))
	s.Apply(delayEvent(1<<33, 5, model.SeverityModerate))

	alerts := s.RouteDelays(5)
	if len(alerts) != 3 {
		t.Fatalf("alerts: got %d, want 3", len(alerts))
	}
	want := []int64{3, 1 << 33, 1 << 40}
	for i, a := range alerts {
		if a.VisitID != want[i] {
			t.Fatalf("alerts[%d]: got visit %d, want %d", i, a.VisitID, want[i])
		}
	}
}

func TestStatsEmpty(t *testing.T) {
	s := NewStore(nil)
	st := s.Stats()
	if st.TotalRoutes != 0 || st.AverageCompletion != 0 {
		t.Fatalf("empty stats: %+v", st)
	}
}
