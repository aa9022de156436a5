package models

import (
	"strings"
	"time"
)

type Ticket struct {
	TicketID    string     `json:"ticket_id"`
	Code        string     `json:"code"`
	QueueID     string     `json:"queue_id"`
	CitizenID   string     `json:"citizen_id"`
	ServiceDay  string     `json:"service_day"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	IssuedAt    time.Time  `json:"issued_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	NoShowAt    *time.Time `json:"no_show_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}

func ParseStatus(value string) (Status, bool) {
	switch status := Status(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusWaiting, StatusCalled, StatusInService, StatusCompleted, StatusCancelled, StatusNoShow:
		return status, true
	default:
		return "", false
	}
}

// Priority is ordinal: a higher value is served first.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityPriority
	PriorityUrgent
	PriorityLate
)

var priorityNames = map[Priority]string{
	PriorityNormal:   "normal",
	PriorityPriority: "priority",
	PriorityUrgent:   "urgent",
	PriorityLate:     "late",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func ParsePriority(value string) (Priority, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return PriorityNormal, true
	}
	for priority, name := range priorityNames {
		if name == value {
			return priority, true
		}
	}
	return PriorityNormal, false
}
