package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"carenav/internal/metrics"
	"carenav/internal/model"
)

// Store is the authoritative client-side monitoring snapshot. It is mutated
// only by folding inbound events (Apply) or explicit filter setters, and read
// through the derived views in views.go.
//
// Events referencing visits or routes not known locally are discarded, not
// buffered: the REST snapshot refresh that follows every reconnect closes the
// window, and at-least-once delivery replays anything that mattered. Each
// discard is counted so the gap stays observable.
type Store struct {
	log *zap.Logger

	mu          sync.RWMutex
	locations   map[int64]model.LocationUpdate // vehicleId -> latest fix
	routes      map[int64]model.ActiveRoute    // routeId -> snapshot
	alerts      map[int64]model.DelayAlert     // visitId -> latest alert
	etas        map[int64]model.ETAUpdate      // visitId -> latest estimate
	visitRoutes map[int64]int64                // visitId -> owning routeId
	visitStatus map[int64]model.VisitStatus    // visitId -> last folded status
	filter      model.MonitoringFilter
	lastUpdate  time.Time
}

// NewStore constructs an empty Store with the default filter
// (status "all", auto-refresh on).
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:         log.Named("realtime.state"),
		locations:   map[int64]model.LocationUpdate{},
		routes:      map[int64]model.ActiveRoute{},
		alerts:      map[int64]model.DelayAlert{},
		etas:        map[int64]model.ETAUpdate{},
		visitRoutes: map[int64]int64{},
		visitStatus: map[int64]model.VisitStatus{},
		filter:      model.MonitoringFilter{Status: model.RouteStatusAll, AutoRefresh: true},
	}
}

// Populate replaces the route snapshot with an authoritative REST read and
// rebuilds the visit index. Streamed locations newer than the snapshot's
// embedded positions are kept.
func (s *Store) Populate(routes []model.ActiveRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes = make(map[int64]model.ActiveRoute, len(routes))
	s.visitRoutes = map[int64]int64{}
	s.visitStatus = map[int64]model.VisitStatus{}
	for _, rt := range routes {
		rt.CompletionPercentage = model.CompletionPercentage(rt.CompletedVisits, rt.TotalVisits)
		s.routes[rt.RouteID] = rt
		for _, v := range rt.Visits {
			s.visitRoutes[v.VisitID] = rt.RouteID
			s.visitStatus[v.VisitID] = v.Status
		}
		if loc := rt.CurrentLocation; loc != nil {
			if cur, ok := s.locations[loc.VehicleID]; !ok || loc.Timestamp.After(cur.Timestamp) {
				s.locations[loc.VehicleID] = *loc
			}
		}
	}
	s.lastUpdate = time.Now()
}

// Apply folds one inbound event into the snapshot.
func (s *Store) Apply(evt model.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Type {
	case model.EventLocationUpdate:
		if evt.Location == nil {
			return
		}
		s.applyLocation(*evt.Location)
	case model.EventVisitStatusUpdate:
		if evt.VisitStatus == nil {
			return
		}
		s.applyVisitStatus(*evt.VisitStatus)
	case model.EventETAUpdate:
		if evt.ETA == nil {
			return
		}
		s.etas[evt.ETA.VisitID] = *evt.ETA
	case model.EventDelayAlert:
		if evt.Delay == nil {
			return
		}
		// Latest alert wins; repeated alerts for a visit replace, never stack.
		s.alerts[evt.Delay.VisitID] = *evt.Delay
	case model.EventConnectionEstablished, model.EventSubscriptionConfirmed:
		s.log.Debug("stream control event", zap.String("type", evt.Type))
		return
	case model.EventError:
		msg := ""
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		s.log.Warn("server reported stream error", zap.String("message", msg))
		return
	default:
		s.log.Debug("ignoring unrecognized event kind", zap.String("type", evt.Type))
		return
	}
	s.lastUpdate = time.Now()
}

// applyLocation upserts the vehicle's latest fix. The later timestamp wins
// regardless of arrival order, so reordered delivery cannot roll a vehicle
// backwards.
func (s *Store) applyLocation(loc model.LocationUpdate) {
	if cur, ok := s.locations[loc.VehicleID]; ok && cur.Timestamp.After(loc.Timestamp) {
		return
	}
	s.locations[loc.VehicleID] = loc
}

// applyVisitStatus moves a visit's counters on its owning route, preserving
// completed+inProgress+pending == total.
func (s *Store) applyVisitStatus(up model.VisitStatusUpdate) {
	routeID, ok := s.visitRoutes[up.VisitID]
	if !ok {
		metrics.OrphanEvents.Inc()
		s.log.Debug("discarding status update for unknown visit", zap.Int64("visitId", up.VisitID))
		return
	}
	rt, ok := s.routes[routeID]
	if !ok {
		metrics.OrphanEvents.Inc()
		s.log.Debug("discarding status update for unknown route", zap.Int64("routeId", routeID))
		return
	}
	prev := s.visitStatus[up.VisitID]
	if prev == up.Status {
		return
	}
	s.adjustCounter(&rt, prev, -1)
	s.adjustCounter(&rt, up.Status, +1)
	rt.CompletionPercentage = model.CompletionPercentage(rt.CompletedVisits, rt.TotalVisits)
	s.routes[routeID] = rt
	s.visitStatus[up.VisitID] = up.Status
	for i, v := range s.routes[routeID].Visits {
		if v.VisitID == up.VisitID {
			s.routes[routeID].Visits[i].Status = up.Status
			break
		}
	}
}

func (s *Store) adjustCounter(rt *model.ActiveRoute, status model.VisitStatus, delta int) {
	switch status {
	case model.VisitPending:
		rt.PendingVisits += delta
	case model.VisitInProgress:
		rt.InProgressVisits += delta
	case model.VisitCompleted:
		rt.CompletedVisits += delta
	}
}

// SetDateFilter replaces the date filter.
func (s *Store) SetDateFilter(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Date = date
}

// SetStatusFilter replaces the status filter.
func (s *Store) SetStatusFilter(status model.RouteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Status = status
}

// SetVehicleFilter replaces the vehicle filter; an empty list matches all.
func (s *Store) SetVehicleFilter(vehicleIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.VehicleIDs = append([]int64(nil), vehicleIDs...)
}

// SetAutoRefresh replaces the auto-refresh flag.
func (s *Store) SetAutoRefresh(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.AutoRefresh = on
}

// ResetFilters restores status to "all" and clears the vehicle filter,
// leaving date and auto-refresh untouched.
func (s *Store) ResetFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Status = model.RouteStatusAll
	s.filter.VehicleIDs = nil
}

// Filter returns the current filter.
func (s *Store) Filter() model.MonitoringFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.filter
	f.VehicleIDs = append([]int64(nil), s.filter.VehicleIDs...)
	return f
}

// RouteOfVisit resolves a visit to its owning route, when known.
func (s *Store) RouteOfVisit(visitID int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.visitRoutes[visitID]
	return id, ok
}

// LastUpdate reports when the snapshot last changed.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}
