package dispatch

import (
	"context"
	"errors"
	"fmt"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const ticketNumberPad = 3

type CreateInput struct {
	QueueID   string
	CitizenID string
	Priority  models.Priority
}

// Create admits a new Waiting ticket. Capacity check, duplicate check, code
// allocation and the ledger increment all happen under the queue's lock.
// The first create of a service day starts the ledger from zero.
func (e *Engine) Create(ctx context.Context, input CreateInput) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "dispatch.Create",
		attribute.String("queue.id", input.QueueID),
		attribute.String("citizen.id", input.CitizenID),
	)
	defer func() { endSpan(span, err) }()

	if !input.Priority.Valid() {
		return models.Ticket{}, fmt.Errorf("priority %d: %w", input.Priority, store.ErrInvalidPriority)
	}
	if _, err = e.directory.GetCitizen(ctx, input.CitizenID); err != nil {
		return models.Ticket{}, err
	}

	err = e.store.InQueue(ctx, input.QueueID, func(tx store.QueueTx) error {
		now := e.now()
		window := store.NewDayWindow(now, e.location)
		queue := openLedger(tx.Queue(), window.Day())
		if queue.Status != models.QueueActive {
			return store.ErrQueueNotActive
		}
		if queue.CurrentQueueSize >= queue.MaxQueueSize {
			return store.ErrQueueFull
		}

		_, held, err := tx.WaitingTicketForCitizen(ctx, input.CitizenID, window)
		if err != nil {
			return err
		}
		if held {
			return store.ErrDuplicateTicket
		}

		department, err := e.directory.GetDepartment(ctx, queue.DepartmentID)
		if err != nil {
			return err
		}
		code, err := e.allocateCode(ctx, tx, department, queue, window)
		if err != nil {
			return err
		}

		ticket = models.Ticket{
			TicketID:   e.newID(),
			Code:       code,
			QueueID:    queue.QueueID,
			CitizenID:  input.CitizenID,
			ServiceDay: window.Day(),
			Status:     models.StatusWaiting,
			Priority:   input.Priority,
			IssuedAt:   now,
			CreatedAt:  now,
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return err
		}
		queue.CurrentQueueSize++
		if err := tx.SaveLedger(ctx, queue.CurrentQueueSize, queue.LedgerDay); err != nil {
			return err
		}

		created := ticket
		tx.AfterCommit(func() {
			e.announceCreated(created, queue)
			e.announceLedger(queue, now)
		})
		return nil
	})
	if errors.Is(err, store.ErrCodeExists) {
		err = fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	if err != nil {
		return models.Ticket{}, err
	}

	e.logger.Info("ticket created",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("code", ticket.Code),
		zap.String("queue_id", ticket.QueueID),
		zap.String("priority", ticket.Priority.String()),
	)
	return ticket, nil
}

// allocateCode derives the sequence from today's ledger. When that code is
// already taken it recounts today's tickets once before giving up.
func (e *Engine) allocateCode(ctx context.Context, tx store.QueueTx, department models.Department, queue models.Queue, window store.DayWindow) (string, error) {
	code := FormatCode(department.Code, queue.Code, queue.CurrentQueueSize+1)
	day := window.Day()
	exists, err := tx.CodeExists(ctx, code, day)
	if err != nil {
		return "", err
	}
	if !exists {
		return code, nil
	}

	issued, err := tx.CountIssued(ctx, window)
	if err != nil {
		return "", err
	}
	retry := FormatCode(department.Code, queue.Code, issued+1)
	exists, err = tx.CodeExists(ctx, retry, day)
	if err != nil {
		return "", err
	}
	if exists {
		e.logger.Warn("ticket code collision after retry",
			zap.String("queue_id", queue.QueueID),
			zap.String("first", code),
			zap.String("retry", retry),
		)
		return "", fmt.Errorf("%w: %s", store.ErrConflict, retry)
	}
	return retry, nil
}

// FormatCode builds the human readable code, e.g. DEPTQUEUE-003.
func FormatCode(departmentCode, queueCode string, seq int) string {
	return fmt.Sprintf("%s%s-%0*d", departmentCode, queueCode, ticketNumberPad, seq)
}

// openLedger returns queue with its ledger as of day. A ledger kept for an
// earlier day reads as empty.
func openLedger(queue models.Queue, day string) models.Queue {
	if queue.LedgerDay != day {
		queue.CurrentQueueSize = 0
		queue.LedgerDay = day
	}
	return queue
}

// releaseSlot gives the slot of a Waiting ticket back. Only tickets of the
// day the ledger counts free a slot, and the counter never goes below zero.
func releaseSlot(ctx context.Context, tx store.QueueTx, ticket models.Ticket) (models.Queue, bool, error) {
	queue := tx.Queue()
	if ticket.ServiceDay != queue.LedgerDay || queue.CurrentQueueSize <= 0 {
		return queue, false, nil
	}
	queue.CurrentQueueSize--
	if err := tx.SaveLedger(ctx, queue.CurrentQueueSize, queue.LedgerDay); err != nil {
		return queue, false, err
	}
	return queue, true, nil
}
