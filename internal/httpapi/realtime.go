package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"qms/dispatch-service/internal/hub"
	"qms/dispatch-service/internal/notify"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const (
	clientBuffer      = 16
	heartbeatInterval = 30 * time.Second
)

// realtimeHandler accepts SockJS sessions that manage their own group
// membership with {"action":"join"|"leave","group":"department_1"}.
func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := hub.NewClient(uuid.NewString(), clientBuffer)
		h.hub.Register(client)
		defer h.hub.Unregister(client)

		if userID := userIDFromRequest(session.Request()); userID != "" {
			h.hub.Join(client, notify.UserGroup(userID))
		}

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			cmd, ok := hub.ParseCommand([]byte(msg))
			if !ok {
				h.logger.Debug("ignore realtime message", zap.String("client_id", client.ID))
				continue
			}
			if cmd.Action == "leave" {
				h.hub.Leave(client, cmd.Group)
			} else {
				h.hub.Join(client, cmd.Group)
			}
		}
	})
}

// handleStream is the server-sent events variant for displays that only
// listen: GET /api/stream?group=department_1&group=queue_7.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	groups := r.URL.Query()["group"]
	if len(groups) == 0 {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "at least one group is required")
		return
	}
	for _, group := range groups {
		if !hub.ValidGroup(strings.TrimSpace(group)) {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "unknown group "+group)
			return
		}
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}
	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("clear stream write deadline", zap.Error(err))
	}

	client := hub.NewClient(uuid.NewString(), clientBuffer)
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	for _, group := range groups {
		h.hub.Join(client, strings.TrimSpace(group))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
