package model

// RouteStatus is the display status derived from a route's visit counters.
type RouteStatus string

const (
	RouteStatusAll       RouteStatus = "all"
	RouteStatusPending   RouteStatus = "pending"
	RouteStatusEnRoute   RouteStatus = "en_route"
	RouteStatusInVisit   RouteStatus = "in_visit"
	RouteStatusCompleted RouteStatus = "completed"
)

// DeriveRouteStatus is the single authoritative classification of a route.
// Every view and UI surface goes through here; nothing reimplements it.
func DeriveRouteStatus(r ActiveRoute) RouteStatus {
	switch {
	case r.TotalVisits > 0 && r.CompletedVisits == r.TotalVisits:
		return RouteStatusCompleted
	case r.InProgressVisits > 0:
		return RouteStatusInVisit
	case r.CompletedVisits > 0:
		return RouteStatusEnRoute
	default:
		return RouteStatusPending
	}
}

// CompletionPercentage computes completed/total as a 0-100 percentage,
// 0 when the route has no visits.
func CompletionPercentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// SeverityRank orders severities for comparison; unknown values rank lowest.
func SeverityRank(s DelaySeverity) int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// SeverityColor maps a delay severity to its dashboard color.
func SeverityColor(s DelaySeverity) string {
	switch s {
	case SeveritySevere:
		return "red"
	case SeverityModerate:
		return "orange"
	case SeverityMinor:
		return "yellow"
	default:
		return "gray"
	}
}
