package dispatch

import (
	"context"
	"fmt"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"

	"go.uber.org/zap"
)

// departmentOf resolves the display context for an announcement. A missing
// department does not fail the call; the name is left empty.
func (e *Engine) departmentOf(ctx context.Context, queue models.Queue) models.Department {
	department, err := e.directory.GetDepartment(ctx, queue.DepartmentID)
	if err != nil {
		e.logger.Warn("department lookup failed",
			zap.String("queue_id", queue.QueueID),
			zap.String("department_id", queue.DepartmentID),
			zap.Error(err),
		)
		return models.Department{DepartmentID: queue.DepartmentID}
	}
	return department
}

func (e *Engine) callGroups(queue models.Queue, userID string) []string {
	groups := []string{notify.DepartmentGroup(queue.DepartmentID)}
	if userID != "" {
		groups = append(groups, notify.UserGroup(userID))
	}
	if e.notifyQueueGroup {
		groups = append(groups, notify.QueueGroup(queue.QueueID))
	}
	return groups
}

func (e *Engine) announceCall(ticket models.Ticket, queue models.Queue, department models.Department, userID, eventType string) {
	calledAt := e.now()
	if ticket.CalledAt != nil {
		calledAt = *ticket.CalledAt
	}
	e.notifier.Dispatch(notify.Event{
		Key:    ticket.TicketID,
		Type:   eventType,
		Groups: e.callGroups(queue, userID),
		Payload: notify.TicketCalled{
			TicketID:       ticket.TicketID,
			TicketCode:     ticket.Code,
			QueueID:        queue.QueueID,
			QueueName:      queue.Name,
			DepartmentName: department.Name,
			CitizenID:      ticket.CitizenID,
			CalledAt:       calledAt,
			Message:        CallMessage(ticket.Code, department.Name),
		},
		At: e.now(),
	})
}

func (e *Engine) announceCreated(ticket models.Ticket, queue models.Queue) {
	e.notifier.Dispatch(notify.Event{
		Key:    ticket.TicketID,
		Type:   notify.EventTicketCreated,
		Groups: []string{notify.QueueGroup(queue.QueueID)},
		Payload: notify.TicketCreated{
			TicketID:   ticket.TicketID,
			TicketCode: ticket.Code,
			QueueID:    queue.QueueID,
			QueueName:  queue.Name,
			Priority:   ticket.Priority.String(),
			CreatedAt:  ticket.CreatedAt,
			Message:    fmt.Sprintf("Ticket %s issued for %s", ticket.Code, queue.Name),
		},
		At: ticket.CreatedAt,
	})
}

func (e *Engine) announceLedger(queue models.Queue, at time.Time) {
	e.notifier.Dispatch(notify.Event{
		Key:    queue.QueueID,
		Type:   notify.EventQueueUpdated,
		Groups: []string{notify.QueueGroup(queue.QueueID)},
		Payload: notify.QueueUpdated{
			QueueID:     queue.QueueID,
			CurrentSize: queue.CurrentQueueSize,
			MaxSize:     queue.MaxQueueSize,
			UpdatedAt:   at,
		},
		At: at,
	})
}

// CallMessage is the text shown and spoken on displays.
func CallMessage(code, departmentName string) string {
	return fmt.Sprintf("Ticket %s called for %s", code, departmentName)
}
