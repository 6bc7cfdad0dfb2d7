package api

import (
	"time"

	"carenav/internal/model"
	"carenav/internal/realtime"
)

// PublishConsumer bridges the dispatcher to the broker: every folded event
// is republished to dashboard streams, keyed by its owning route when one
// can be resolved.
func PublishConsumer(b EventBroker, store *realtime.Store) realtime.Consumer {
	return func(evt model.InboundEvent) {
		routeID, data := eventPayload(store, evt)
		if data == nil {
			return
		}
		b.Publish(routeID, StreamEvent{Type: evt.Type, Data: data})
	}
}

func eventPayload(store *realtime.Store, evt model.InboundEvent) (int64, map[string]any) {
	switch evt.Type {
	case model.EventLocationUpdate:
		if evt.Location == nil {
			return 0, nil
		}
		l := evt.Location
		return AllRoutes, map[string]any{
			"vehicleId": l.VehicleID,
			"latitude":  l.Latitude,
			"longitude": l.Longitude,
			"timestamp": l.Timestamp.UTC().Format(time.RFC3339),
		}
	case model.EventVisitStatusUpdate:
		if evt.VisitStatus == nil {
			return 0, nil
		}
		v := evt.VisitStatus
		routeID, _ := store.RouteOfVisit(v.VisitID)
		return routeID, map[string]any{
			"visitId": v.VisitID,
			"status":  string(v.Status),
			"notes":   v.Notes,
		}
	case model.EventETAUpdate:
		if evt.ETA == nil {
			return 0, nil
		}
		e := evt.ETA
		routeID, _ := store.RouteOfVisit(e.VisitID)
		return routeID, map[string]any{
			"visitId":     e.VisitID,
			"etaMinutes":  e.ETAMinutes,
			"arrivalTime": e.ArrivalTime.UTC().Format(time.RFC3339),
		}
	case model.EventDelayAlert:
		if evt.Delay == nil {
			return 0, nil
		}
		d := evt.Delay
		return d.RouteID, map[string]any{
			"visitId":      d.VisitID,
			"routeId":      d.RouteID,
			"severity":     string(d.Severity),
			"color":        model.SeverityColor(d.Severity),
			"delayMinutes": d.DelayMinutes,
			"message":      d.Message,
		}
	default:
		// control frames are not interesting to dashboards
		return 0, nil
	}
}
