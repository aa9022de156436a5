package dispatch

import (
	"context"
	"errors"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SelectNext calls the highest priority, oldest Waiting ticket of today.
// Selection and the call transition happen under the queue lock, so two
// callers never receive the same ticket.
func (e *Engine) SelectNext(ctx context.Context, queueID, userID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "dispatch.SelectNext",
		attribute.String("queue.id", queueID),
		attribute.String("user.id", userID),
	)
	defer func() { endSpan(span, err) }()

	err = e.store.InQueue(ctx, queueID, func(tx store.QueueTx) error {
		now := e.now()
		next, found, err := tx.SelectTicket(ctx, models.StatusWaiting, store.NewDayWindow(now, e.location))
		if err != nil {
			return err
		}
		if !found {
			return store.ErrNoTicket
		}
		ticket, err = applyTransition(next, store.ActionCall, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		called, queue := ticket, tx.Queue()
		department := e.departmentOf(ctx, queue)
		tx.AfterCommit(func() { e.announceCall(called, queue, department, userID, notify.EventTicketCalled) })
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.logger.Info("ticket called",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("code", ticket.Code),
		zap.String("queue_id", queueID),
		zap.String("user_id", userID),
	)
	return ticket, nil
}

// SelectLastCalled re-announces the Called ticket that selection order puts
// first. It never changes state, so it may be repeated freely.
func (e *Engine) SelectLastCalled(ctx context.Context, queueID, userID string) (ticket models.Ticket, err error) {
	ctx, span := e.startSpan(ctx, "dispatch.SelectLastCalled",
		attribute.String("queue.id", queueID),
		attribute.String("user.id", userID),
	)
	defer func() { endSpan(span, err) }()

	err = e.store.InQueue(ctx, queueID, func(tx store.QueueTx) error {
		last, found, err := tx.SelectTicket(ctx, models.StatusCalled, e.today())
		if err != nil {
			return err
		}
		if !found {
			return store.ErrNoTicket
		}
		ticket = last
		recalled, queue := last, tx.Queue()
		department := e.departmentOf(ctx, queue)
		tx.AfterCommit(func() { e.announceCall(recalled, queue, department, userID, notify.EventTicketRecalled) })
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}

	e.logger.Info("ticket recalled",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("code", ticket.Code),
		zap.String("queue_id", queueID),
		zap.String("user_id", userID),
	)
	return ticket, nil
}

// SweepNoShows marks Called tickets older than grace as NoShow. Tickets that
// moved on in the meantime are skipped. It returns how many were marked.
func (e *Engine) SweepNoShows(ctx context.Context, grace time.Duration, batch int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	stale, err := e.store.ListStaleCalled(ctx, e.now().Add(-grace), batch)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, ticket := range stale {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if _, err := e.MarkNoShow(ctx, ticket.TicketID); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrTicketNotFound) {
				continue
			}
			return marked, err
		}
		marked++
	}
	if marked > 0 {
		e.logger.Info("no-show sweep", zap.Int("marked", marked), zap.Duration("grace", grace))
	}
	return marked, nil
}
