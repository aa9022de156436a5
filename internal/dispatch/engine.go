// Package dispatch implements the ticket lifecycle, the per-queue ledger,
// next/last ticket selection and the announcements that follow a call.
package dispatch

import (
	"context"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Notifier accepts events for asynchronous delivery.
type Notifier interface {
	Dispatch(event notify.Event)
}

type Options struct {
	Clock            Clock
	Location         *time.Location
	NotifyQueueGroup bool
	NewID            func() string
	Logger           *zap.Logger
}

type Engine struct {
	store            store.TicketStore
	directory        store.Directory
	notifier         Notifier
	clock            Clock
	location         *time.Location
	notifyQueueGroup bool
	newID            func() string
	logger           *zap.Logger
	tracer           trace.Tracer
}

func NewEngine(ticketStore store.TicketStore, directory store.Directory, notifier Notifier, options Options) *Engine {
	e := &Engine{
		store:            ticketStore,
		directory:        directory,
		notifier:         notifier,
		clock:            options.Clock,
		location:         options.Location,
		notifyQueueGroup: options.NotifyQueueGroup,
		newID:            options.NewID,
		logger:           options.Logger,
		tracer:           otel.Tracer("qms/dispatch-service/dispatch"),
	}
	if e.clock == nil {
		e.clock = SystemClock
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) today() store.DayWindow {
	return store.NewDayWindow(e.now(), e.location)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Engine) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.store.GetTicket(ctx, ticketID)
}

// ListTickets returns the queue's tickets in dispatch order. todayOnly
// restricts the result to the current day window.
func (e *Engine) ListTickets(ctx context.Context, queueID string, status models.Status, todayOnly bool) ([]models.Ticket, error) {
	if _, err := e.directory.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	filter := store.TicketFilter{QueueID: queueID, Status: status}
	if todayOnly {
		window := e.today()
		filter.Window = &window
	}
	return e.store.ListTickets(ctx, filter)
}

func (e *Engine) Ledger(ctx context.Context, queueID string) (models.Ledger, error) {
	queue, err := e.directory.GetQueue(ctx, queueID)
	if err != nil {
		return models.Ledger{}, err
	}
	return ledgerOf(openLedger(queue, e.today().Day())), nil
}

func ledgerOf(queue models.Queue) models.Ledger {
	available := queue.MaxQueueSize - queue.CurrentQueueSize
	if available < 0 {
		available = 0
	}
	return models.Ledger{
		QueueID:     queue.QueueID,
		CurrentSize: queue.CurrentQueueSize,
		MaxSize:     queue.MaxQueueSize,
		Available:   available,
		Status:      queue.Status,
	}
}
