package model

import (
	"encoding/json"
	"time"
)

// ChannelKind identifies a logical subscription target on the event stream.
type ChannelKind string

const (
	ChannelVehicle ChannelKind = "vehicle"
	ChannelRoute   ChannelKind = "route"
)

// Inbound event type tags as they appear on the wire.
const (
	EventLocationUpdate        = "location_update"
	EventVisitStatusUpdate     = "visit_status_update"
	EventETAUpdate             = "eta_update"
	EventDelayAlert            = "delay_alert"
	EventConnectionEstablished = "connection_established"
	EventSubscriptionConfirmed = "subscription_confirmed"
	EventPing                  = "ping"
	EventError                 = "error"
)

// Envelope is the raw inbound frame: a type tag, an optional timestamp, and a
// type-dependent payload.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is the decoded tagged union. Exactly one payload pointer is
// non-nil for the data-bearing event kinds; control kinds carry only the tag.
type InboundEvent struct {
	Type      string
	Timestamp time.Time

	Location    *LocationUpdate
	VisitStatus *VisitStatusUpdate
	ETA         *ETAUpdate
	Delay       *DelayAlert
	Error       *StreamError
}

// LocationUpdate is a pushed vehicle position fix.
type LocationUpdate struct {
	VehicleID int64     `json:"vehicleId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// VisitStatus is the lifecycle state of a single home visit.
type VisitStatus string

const (
	VisitPending    VisitStatus = "pending"
	VisitInProgress VisitStatus = "in_progress"
	VisitCompleted  VisitStatus = "completed"
)

// VisitStatusUpdate moves one visit through its lifecycle.
type VisitStatusUpdate struct {
	VisitID   int64       `json:"visitId"`
	Status    VisitStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Notes     string      `json:"notes,omitempty"`
}

// ETAUpdate carries a server-computed arrival estimate. Display only; it
// never feeds visit counters.
type ETAUpdate struct {
	VisitID           int64     `json:"visitId"`
	ETAMinutes        float64   `json:"etaMinutes"`
	ArrivalTime       time.Time `json:"arrivalTime"`
	TrafficMultiplier float64   `json:"trafficMultiplier"`
}

// DelaySeverity grades a delay alert.
type DelaySeverity string

const (
	SeverityMinor    DelaySeverity = "minor"
	SeverityModerate DelaySeverity = "moderate"
	SeveritySevere   DelaySeverity = "severe"
)

// DelayAlert warns that a visit is running late against its time window.
type DelayAlert struct {
	VisitID          int64         `json:"visitId"`
	RouteID          int64         `json:"routeId"`
	Severity         DelaySeverity `json:"severity"`
	DelayMinutes     int           `json:"delayMinutes"`
	TimeWindowStart  *time.Time    `json:"timeWindowStart,omitempty"`
	TimeWindowEnd    *time.Time    `json:"timeWindowEnd,omitempty"`
	EstimatedArrival time.Time     `json:"estimatedArrival"`
	Message          string        `json:"message"`
}

// StreamError is a server-side error report delivered in-band.
type StreamError struct {
	Message string `json:"message"`
}

// RouteVisit is one visit entry inside an active-route snapshot.
type RouteVisit struct {
	VisitID int64       `json:"visitId"`
	Status  VisitStatus `json:"status"`
}

// ActiveRoute is the server-pushed snapshot of one route in flight.
// Invariant: CompletedVisits+InProgressVisits+PendingVisits == TotalVisits.
type ActiveRoute struct {
	RouteID              int64           `json:"routeId"`
	VehicleID            int64           `json:"vehicleId"`
	VehicleIdentifier    string          `json:"vehicleIdentifier"`
	Date                 string          `json:"date"`
	Personnel            []string        `json:"personnel,omitempty"`
	TotalVisits          int             `json:"totalVisits"`
	CompletedVisits      int             `json:"completedVisits"`
	InProgressVisits     int             `json:"inProgressVisits"`
	PendingVisits        int             `json:"pendingVisits"`
	CompletionPercentage float64         `json:"completionPercentage"`
	CurrentLocation      *LocationUpdate `json:"currentLocation,omitempty"`
	Visits               []RouteVisit    `json:"visits,omitempty"`
}

// MonitoringFilter selects which routes the derived views report on.
type MonitoringFilter struct {
	Date        string      `json:"date"`
	Status      RouteStatus `json:"status"`
	VehicleIDs  []int64     `json:"vehicleIds"`
	AutoRefresh bool        `json:"autoRefresh"`
}

// MonitoringStats aggregates the filtered route set.
type MonitoringStats struct {
	TotalRoutes       int     `json:"totalRoutes"`
	TotalVisits       int     `json:"totalVisits"`
	CompletedVisits   int     `json:"completedVisits"`
	InProgressVisits  int     `json:"inProgressVisits"`
	DelayedVisits     int     `json:"delayedVisits"`
	AverageCompletion float64 `json:"averageCompletion"`
}
