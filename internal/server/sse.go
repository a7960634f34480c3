package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codewave-dev/codewave/internal/logging"
	"github.com/codewave-dev/codewave/internal/pubsub"
	"github.com/codewave-dev/codewave/pkg/types"
)

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second

	// connectionHeader carries the per-connection subscriber ID. Updates
	// tagged with it are not echoed back to the submitting connection.
	connectionHeader = "X-Codewave-Connection"
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE event and flushes it immediately.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event: one stream per client connection, relaying
// document deltas for ?file= and terminal output for ?terminal=. At least
// one of the two must be requested alongside projectID. The stream opens
// with a connected event carrying the connection ID clients must echo in
// their document updates.
func (srv *Server) events(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectID")
	filePath := r.URL.Query().Get("file")
	terminalID := r.URL.Query().Get("terminal")

	if projectID == "" || (filePath == "" && terminalID == "") {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and at least one of file or terminal are required")
		return
	}

	connID := r.URL.Query().Get("connectionID")
	if connID == "" {
		connID = ulid.Make().String()
	}

	log := logging.Component("sse").With().Str("connection", connID).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.Header().Set(connectionHeader, connID)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("connected", map[string]string{"connectionID": connID}); err != nil {
		return
	}

	var docUpdates <-chan types.DocumentUpdate
	if filePath != "" {
		docUpdates = srv.docs.Subscribe(projectID, filePath, connID)
		defer srv.docs.Unsubscribe(projectID, filePath, connID)
	}

	var terminal <-chan pubsub.Message
	if terminalID != "" {
		terminal, err = srv.bus.Subscribe(r.Context(), pubsub.TerminalOutputTopic(projectID, terminalID))
		if err != nil {
			log.Error().Err(err).Msg("Terminal subscribe failed")
			return
		}
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("Event stream closed")
			return

		case update, ok := <-docUpdates:
			if !ok {
				return
			}
			if err := sse.writeEvent("document.update", toUpdateEvent(update)); err != nil {
				return
			}

		case msg, ok := <-terminal:
			if !ok {
				return
			}
			var ev types.TerminalEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Warn().Err(err).Msg("Dropping malformed terminal event")
				continue
			}
			if err := sse.writeEvent(terminalEventName(ev.Type), ev); err != nil {
				return
			}

		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

func terminalEventName(t types.TerminalEventType) string {
	switch t {
	case types.TerminalReady:
		return "session.ready"
	case types.TerminalError:
		return "session.error"
	default:
		return "terminal.output"
	}
}
