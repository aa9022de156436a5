package notify

import (
	"context"
	"errors"
	"time"
)

// ErrDeliveryFailed wraps publisher errors. It is logged and counted but
// never returned to the caller of the operation that triggered it.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Publisher delivers payload to whoever is subscribed to group. Zero
// subscribers is not an error.
type Publisher interface {
	Publish(ctx context.Context, group string, payload []byte) error
}

const (
	EventTicketCalled   = "ticket.called"
	EventTicketRecalled = "ticket.recalled"
	EventTicketCreated  = "ticket.created"
	EventQueueUpdated   = "queue.updated"
)

func DepartmentGroup(departmentID string) string { return "department_" + departmentID }

func UserGroup(userID string) string { return "user_" + userID }

func QueueGroup(queueID string) string { return "queue_" + queueID }

type TicketCalled struct {
	TicketID       string    `json:"ticket_id"`
	TicketCode     string    `json:"ticket_code"`
	QueueID        string    `json:"queue_id"`
	QueueName      string    `json:"queue_name"`
	DepartmentName string    `json:"department_name"`
	CitizenID      string    `json:"citizen_id"`
	CalledAt       time.Time `json:"called_at"`
	Message        string    `json:"message"`
}

type TicketCreated struct {
	TicketID   string    `json:"ticket_id"`
	TicketCode string    `json:"ticket_code"`
	QueueID    string    `json:"queue_id"`
	QueueName  string    `json:"queue_name"`
	Priority   string    `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
}

type QueueUpdated struct {
	QueueID     string    `json:"queue_id"`
	CurrentSize int       `json:"current_size"`
	MaxSize     int       `json:"max_size"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Envelope is what subscribers receive.
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// Event is one fanout request. Events sharing a Key are delivered in the
// order they were dispatched.
type Event struct {
	Key     string
	Type    string
	Groups  []string
	Payload interface{}
	At      time.Time
}
