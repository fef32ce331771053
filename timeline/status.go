package timeline

import "strings"

// Status is the lifecycle state of a booking on the timeline.
type Status string

const (
	Confirmed   Status = "confirmed"
	Pending     Status = "pending"
	Cancelled   Status = "cancelled"
	Maintenance Status = "maintenance"
)

// ParseStatus accepts the four known statuses in any letter case, ignoring
// surrounding whitespace. Anything else is rejected, never defaulted.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case Confirmed, Pending, Cancelled, Maintenance:
		return st, true
	default:
		return "", false
	}
}

// Color is the event background used by the agenda view.
func (s Status) Color() string {
	switch s {
	case Confirmed:
		return "#10B981"
	case Pending:
		return "#F59E0B"
	case Maintenance:
		return "#6B7280"
	default:
		return "#EF4444"
	}
}
