package dispatch

import (
	"context"
	"fmt"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Call moves a Waiting ticket to Called and announces it. userID may be
// empty when no staff member is behind the call.
func (e *Engine) Call(ctx context.Context, ticketID, userID string) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionCall, userID)
}

func (e *Engine) Start(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionStart, "")
}

func (e *Engine) Complete(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionComplete, "")
}

// Cancel gives the slot back to the ledger when the ticket was still Waiting.
func (e *Engine) Cancel(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionCancel, "")
}

func (e *Engine) MarkNoShow(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, ticketID, store.ActionNoShow, "")
}

// Apply runs action by name. It is the entry point for the HTTP actions route.
func (e *Engine) Apply(ctx context.Context, ticketID, action, userID string) (models.Ticket, error) {
	if _, ok := store.TargetStatus(action); !ok {
		return models.Ticket{}, fmt.Errorf("action %q: %w", action, store.ErrInvalidTransition)
	}
	return e.transition(ctx, ticketID, action, userID)
}

// Delete removes a ticket. A Waiting ticket gives its slot back.
func (e *Engine) Delete(ctx context.Context, ticketID string) (err error) {
	ctx, span := e.startSpan(ctx, "dispatch.Delete", attribute.String("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	current, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	err = e.store.InQueue(ctx, current.QueueID, func(tx store.QueueTx) error {
		ticket, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := tx.DeleteTicket(ctx, ticketID); err != nil {
			return err
		}
		if ticket.Status != models.StatusWaiting {
			return nil
		}
		queue, released, err := releaseSlot(ctx, tx, ticket)
		if err != nil || !released {
			return err
		}
		now := e.now()
		tx.AfterCommit(func() { e.announceLedger(queue, now) })
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("ticket deleted", zap.String("ticket_id", ticketID), zap.String("queue_id", current.QueueID))
	return nil
}

func (e *Engine) transition(ctx context.Context, ticketID, action, userID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "dispatch.Transition",
		attribute.String("ticket.id", ticketID),
		attribute.String("ticket.action", action),
	)
	defer func() { endSpan(span, err) }()

	// The queue id is immutable, so reading it before taking the lock is safe.
	current, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	err = e.store.InQueue(ctx, current.QueueID, func(tx store.QueueTx) error {
		loaded, err := tx.Ticket(ctx, ticketID)
		if err != nil {
			return err
		}
		wasWaiting := loaded.Status == models.StatusWaiting
		ticket, err = applyTransition(loaded, action, e.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}

		queue := tx.Queue()
		switch action {
		case store.ActionCall:
			called := ticket
			department := e.departmentOf(ctx, queue)
			tx.AfterCommit(func() { e.announceCall(called, queue, department, userID, notify.EventTicketCalled) })
		case store.ActionCancel:
			if !wasWaiting {
				return nil
			}
			var released bool
			queue, released, err = releaseSlot(ctx, tx, loaded)
			if err != nil || !released {
				return err
			}
			at := *ticket.CancelledAt
			tx.AfterCommit(func() { e.announceLedger(queue, at) })
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.logger.Info("ticket transition",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("action", action),
		zap.String("status", string(ticket.Status)),
	)
	return ticket, nil
}

// applyTransition validates action against the ticket's current status and
// stamps the matching timestamp. The input is never modified.
func applyTransition(ticket models.Ticket, action string, now time.Time) (models.Ticket, error) {
	if !store.ValidTransition(action, ticket.Status) {
		return ticket, fmt.Errorf("%s from %s: %w", action, ticket.Status, store.ErrInvalidTransition)
	}
	target, _ := store.TargetStatus(action)

	next := ticket
	next.Status = target
	next.UpdatedAt = &now
	switch action {
	case store.ActionCall:
		next.CalledAt = &now
	case store.ActionStart:
		next.StartedAt = &now
	case store.ActionComplete:
		next.CompletedAt = &now
	case store.ActionCancel:
		next.CancelledAt = &now
	case store.ActionNoShow:
		next.NoShowAt = &now
	}
	return next, nil
}
