package realtime

import (
	"cmp"
	"slices"

	"carenav/internal/model"
)

// Derived views: pure, recomputed-on-read projections over the Store.
// Nothing here mutates state.

// FilteredRoutes returns the active routes matching the current filter,
// with each route's current location resolved from the latest vehicle fix.
// Routes are ordered by id for stable output.
func (s *Store) FilteredRoutes() []model.ActiveRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRoutes(s.routes, s.locations, s.filter)
}

// RouteDelays returns all delay alerts belonging to the given route,
// ordered by visit id.
func (s *Store) RouteDelays(routeID int64) []model.DelayAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.DelayAlert{}
	for _, a := range s.alerts {
		if a.RouteID == routeID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.DelayAlert) int {
		return cmp.Compare(a.VisitID, b.VisitID)
	})
	return out
}

// VisitETA returns the latest displayed arrival estimate for a visit.
func (s *Store) VisitETA(visitID int64) (model.ETAUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eta, ok := s.etas[visitID]
	return eta, ok
}

// VehicleLocation returns the latest known fix for a vehicle.
func (s *Store) VehicleLocation(vehicleID int64) (model.LocationUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[vehicleID]
	return loc, ok
}

// Stats aggregates the filtered route set.
func (s *Store) Stats() model.MonitoringStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	routes := filterRoutes(s.routes, s.locations, s.filter)
	st := model.MonitoringStats{TotalRoutes: len(routes)}
	if len(routes) == 0 {
		return st
	}
	inFilter := map[int64]struct{}{}
	sum := 0.0
	for _, rt := range routes {
		inFilter[rt.RouteID] = struct{}{}
		st.TotalVisits += rt.TotalVisits
		st.CompletedVisits += rt.CompletedVisits
		st.InProgressVisits += rt.InProgressVisits
		sum += rt.CompletionPercentage
	}
	for _, a := range s.alerts {
		if _, ok := inFilter[a.RouteID]; ok {
			st.DelayedVisits++
		}
	}
	st.AverageCompletion = sum / float64(len(routes))
	return st
}

func filterRoutes(routes map[int64]model.ActiveRoute, locations map[int64]model.LocationUpdate, f model.MonitoringFilter) []model.ActiveRoute {
	out := []model.ActiveRoute{}
	for _, rt := range routes {
		if f.Status != "" && f.Status != model.RouteStatusAll && model.DeriveRouteStatus(rt) != f.Status {
			continue
		}
		if len(f.VehicleIDs) > 0 && !slices.Contains(f.VehicleIDs, rt.VehicleID) {
			continue
		}
		if loc, ok := locations[rt.VehicleID]; ok {
			l := loc
			rt.CurrentLocation = &l
		}
		out = append(out, rt)
	}
	slices.SortFunc(out, func(a, b model.ActiveRoute) int {
		return cmp.Compare(a.RouteID, b.RouteID)
	})
	return out
}
