package store

import (
	"context"
	"time"

	"qms/dispatch-service/internal/models"
)

// DayWindow is the half-open interval [Start, End) of one calendar day.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

func NewDayWindow(now time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Day names the window as YYYY-MM-DD in its own location.
func (w DayWindow) Day() string {
	return w.Start.Format(time.DateOnly)
}

type TicketFilter struct {
	QueueID string
	Status  models.Status
	Window  *DayWindow
	Limit   int
}

// QueueTx is a unit of work that holds the lock of a single queue. Writes
// made through it become visible only if the InQueue callback returns nil.
type QueueTx interface {
	Queue() models.Queue
	Ticket(ctx context.Context, ticketID string) (models.Ticket, error)
	// SelectTicket returns the first ticket with status issued inside window,
	// ordered by priority descending then creation time ascending.
	SelectTicket(ctx context.Context, status models.Status, window DayWindow) (models.Ticket, bool, error)
	WaitingTicketForCitizen(ctx context.Context, citizenID string, window DayWindow) (models.Ticket, bool, error)
	// CodeExists reports whether code was already issued on serviceDay.
	// Codes are unique per service day across all queues.
	CodeExists(ctx context.Context, code, serviceDay string) (bool, error)
	CountIssued(ctx context.Context, window DayWindow) (int, error)
	// InsertTicket fails with ErrCodeExists when the code is taken on the
	// ticket's service day.
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	UpdateTicket(ctx context.Context, ticket models.Ticket) error
	DeleteTicket(ctx context.Context, ticketID string) error
	SaveLedger(ctx context.Context, size int, day string) error
	// AfterCommit registers fn to run once the work is committed, before
	// the queue lock is released.
	AfterCommit(fn func())
}

type TicketStore interface {
	InQueue(ctx context.Context, queueID string, fn func(tx QueueTx) error) error
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
	ListStaleCalled(ctx context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error)
}

// Directory resolves the entities the dispatch engine only reads.
type Directory interface {
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	GetDepartment(ctx context.Context, departmentID string) (models.Department, error)
	GetCitizen(ctx context.Context, citizenID string) (models.Citizen, error)
}
