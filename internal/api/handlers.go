package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carenav/internal/buildinfo"
	"carenav/internal/model"
)

// RoutesHandler serves the filtered active-route list with derived statuses.
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	routes := s.Store.FilteredRoutes()
	items := make([]routeView, 0, len(routes))
	for _, rt := range routes {
		items = append(items, newRouteView(rt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// routeView decorates an ActiveRoute with its derived display status.
type routeView struct {
	model.ActiveRoute
	Status model.RouteStatus `json:"status"`
}

func newRouteView(rt model.ActiveRoute) routeView {
	return routeView{ActiveRoute: rt, Status: model.DeriveRouteStatus(rt)}
}

// RouteDelaysHandler serves /v1/monitoring/routes/{routeId}/delays.
func (s *Server) RouteDelaysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/monitoring/routes/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "delays" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	routeID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid route id", err.Error(), r.URL.Path)
		return
	}
	alerts := s.Store.RouteDelays(routeID)
	items := make([]delayView, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, delayView{DelayAlert: a, Color: model.SeverityColor(a.Severity)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type delayView struct {
	model.DelayAlert
	Color string `json:"color"`
}

// StatsHandler serves the aggregate stats over the filtered route set.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Store.Stats())
}

// StatusHandler reports the stream connection state and snapshot freshness.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := map[string]any{
		"connection": s.Client.Status(),
		"alive":      s.Client.Alive(),
		"filter":     s.Store.Filter(),
	}
	if ts := s.Store.LastUpdate(); !ts.IsZero() {
		out["lastUpdate"] = ts.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

// filterPatch is a partial filter update; absent fields are left untouched.
type filterPatch struct {
	Date        *string            `json:"date"`
	Status      *model.RouteStatus `json:"status"`
	VehicleIDs  *[]int64           `json:"vehicleIds"`
	AutoRefresh *bool              `json:"autoRefresh"`
	Reset       bool               `json:"reset"`
}

// FiltersHandler reads (GET) or patches (PATCH/POST) the monitoring filter.
func (s *Server) FiltersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Store.Filter())
		return
	case http.MethodPatch, http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var p filterPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if p.Status != nil && !validStatusFilter(*p.Status) {
		writeProblem(w, http.StatusBadRequest, "Invalid status filter", string(*p.Status), r.URL.Path)
		return
	}
	if p.Reset {
		s.Store.ResetFilters()
	}
	if p.Date != nil {
		s.Store.SetDateFilter(*p.Date)
	}
	if p.Status != nil {
		s.Store.SetStatusFilter(*p.Status)
	}
	if p.VehicleIDs != nil {
		s.Store.SetVehicleFilter(*p.VehicleIDs)
	}
	if p.AutoRefresh != nil {
		s.Store.SetAutoRefresh(*p.AutoRefresh)
	}
	writeJSON(w, http.StatusOK, s.Store.Filter())
}

func validStatusFilter(st model.RouteStatus) bool {
	switch st {
	case model.RouteStatusAll, model.RouteStatusPending, model.RouteStatusEnRoute,
		model.RouteStatusInVisit, model.RouteStatusCompleted:
		return true
	}
	return false
}

// StreamHandler serves the live monitoring event stream over SSE.
// ?routeId=N narrows to one route; absent means the firehose.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	routeID := AllRoutes
	if v := r.URL.Query().Get("routeId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid route id", err.Error(), r.URL.Path)
			return
		}
		routeID = n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(routeID)
	defer s.Broker.Unsubscribe(routeID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// HealthHandler reports liveness of the daemon itself.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "build": buildinfo.Info()})
}

// DebugHandler dumps build info and runtime state for operators.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":      buildinfo.Info(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"connection": s.Client.Status(),
		"alive":      s.Client.Alive(),
	})
}
