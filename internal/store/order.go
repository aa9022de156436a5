package store

import "qms/dispatch-service/internal/models"

// DispatchLess orders tickets the way they are called: higher priority
// first, then oldest creation time, then ticket id so the order is total.
func DispatchLess(a, b models.Ticket) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TicketID < b.TicketID
}
