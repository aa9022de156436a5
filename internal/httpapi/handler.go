package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qms/dispatch-service/internal/dispatch"
	"qms/dispatch-service/internal/hub"
	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"go.uber.org/zap"
)

// Dispatcher is the part of the dispatch engine the API exposes.
type Dispatcher interface {
	Create(ctx context.Context, input dispatch.CreateInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, queueID string, status models.Status, todayOnly bool) ([]models.Ticket, error)
	Apply(ctx context.Context, ticketID, action, userID string) (models.Ticket, error)
	Delete(ctx context.Context, ticketID string) error
	SelectNext(ctx context.Context, queueID, userID string) (models.Ticket, error)
	SelectLastCalled(ctx context.Context, queueID, userID string) (models.Ticket, error)
	Ledger(ctx context.Context, queueID string) (models.Ledger, error)
}

type Handler struct {
	dispatcher     Dispatcher
	hub            *hub.Hub
	logger         *zap.Logger
	requestTimeout time.Duration
}

type Options struct {
	Hub            *hub.Hub
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

type createTicketRequest struct {
	QueueID   string `json:"queue_id"`
	CitizenID string `json:"citizen_id"`
	Priority  string `json:"priority"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// actionNames maps URL action segments to engine actions.
var actionNames = map[string]string{
	"call":     store.ActionCall,
	"start":    store.ActionStart,
	"complete": store.ActionComplete,
	"cancel":   store.ActionCancel,
	"no-show":  store.ActionNoShow,
}

func NewHandler(dispatcher Dispatcher, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{
		dispatcher:     dispatcher,
		hub:            options.Hub,
		logger:         logger,
		requestTimeout: timeout,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/queues/", h.handleQueue)
	if h.hub != nil {
		mux.HandleFunc("/api/stream", h.handleStream)
		mux.Handle("/realtime/", h.realtimeHandler())
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateTicket(w, r)
	case http.MethodGet:
		h.handleListTickets(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.QueueID = strings.TrimSpace(req.QueueID)
	req.CitizenID = strings.TrimSpace(req.CitizenID)
	if req.QueueID == "" || req.CitizenID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "queue_id and citizen_id are required")
		return
	}
	priority, ok := models.ParsePriority(req.Priority)
	if !ok {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "priority must be one of normal, priority, urgent, late")
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()
	ticket, err := h.dispatcher.Create(ctx, dispatch.CreateInput{
		QueueID:   req.QueueID,
		CitizenID: req.CitizenID,
		Priority:  priority,
	})
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)
	query := r.URL.Query()
	queueID := strings.TrimSpace(query.Get("queue_id"))
	if queueID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "queue_id is required")
		return
	}
	var status models.Status
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		parsed, ok := models.ParseStatus(raw)
		if !ok {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "unknown status")
			return
		}
		status = parsed
	}
	todayOnly := query.Get("day") != "all"

	ctx, cancel := h.requestContext(r)
	defer cancel()
	tickets, err := h.dispatcher.ListTickets(ctx, queueID, status, todayOnly)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// handleTicket serves /api/tickets/{id} and /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetTicket(w, r, ticketID)
		case http.MethodDelete:
			h.handleDeleteTicket(w, r, ticketID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		action, ok := actionNames[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.handleTicketAction(w, r, ticketID, action)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	ticket, err := h.dispatcher.GetTicket(ctx, ticketID)
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleDeleteTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	if err := h.dispatcher.Delete(ctx, ticketID); err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	ticket, err := h.dispatcher.Apply(ctx, ticketID, action, userIDFromRequest(r))
	if err != nil {
		h.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleQueue serves /api/queues/{id}/next, /recall and /ledger.
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	queueID, verb := parts[0], parts[1]

	ctx, cancel := h.requestContext(r)
	defer cancel()

	switch verb {
	case "next", "recall":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		selectTicket := h.dispatcher.SelectNext
		if verb == "recall" {
			selectTicket = h.dispatcher.SelectLastCalled
		}
		ticket, err := selectTicket(ctx, queueID, userIDFromRequest(r))
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "ledger":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ledger, err := h.dispatcher.Ledger(ctx, queueID)
		if err != nil {
			h.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ledger)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.requestTimeout)
}

func (h *Handler) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCitizenNotFound):
		return http.StatusNotFound, "citizen_not_found", "citizen not found"
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "department not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrDuplicateTicket):
		return http.StatusConflict, "duplicate_ticket", "citizen already holds a waiting ticket today"
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrCodeExists):
		return http.StatusConflict, "conflict", "ticket code conflict, retry the request"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no tickets available"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusUnprocessableEntity, "queue_full", "queue is full"
	case errors.Is(err, store.ErrQueueNotActive):
		return http.StatusUnprocessableEntity, "queue_not_active", "queue is not active"
	case errors.Is(err, store.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_request", "invalid priority"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

// userIDFromRequest returns the staff user behind the request. Authentication
// happens upstream; an empty id means an anonymous caller such as a kiosk.
func userIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
