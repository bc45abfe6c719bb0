package action

import "strconv"

// Status is the lifecycle state of a jetton.
type Status string

const (
	StatusNew        Status = "New"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFaulted    Status = "Faulted"
	StatusCancelled  Status = "Cancelled"
	StatusTimedOut   Status = "TimedOut"
	StatusStopped    Status = "Stopped"
	StatusSkipped    Status = "Skipped"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew,
	StatusProcessing,
	StatusCompleted,
	StatusFaulted,
	StatusCancelled,
	StatusTimedOut,
	StatusStopped,
	StatusSkipped,
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no lifecycle transition leaves s
// (the explicit ready reset aside).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFaulted, StatusCancelled, StatusTimedOut, StatusStopped, StatusSkipped:
		return true
	default:
		return false
	}
}

// Priority orders actions in the work queue. Higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// DefaultPriority is used when an action does not choose one.
const DefaultPriority = PriorityMedium

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "priority(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePriority maps a config string onto a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "", "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	default:
		return DefaultPriority, false
	}
}
