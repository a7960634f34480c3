package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/codewave-dev/codewave/pkg/types"
)

type sessionRequest struct {
	ProjectID  string `json:"projectID"`
	TerminalID string `json:"terminalID"`
}

func (req sessionRequest) key() types.SessionKey {
	return types.SessionKey{ProjectID: req.ProjectID, TerminalID: req.TerminalID}
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request, req *sessionRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return false
	}
	if req.ProjectID == "" || req.TerminalID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and terminalID are required")
		return false
	}
	return true
}

// listSessions handles GET /session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

// initSession handles POST /session/init: provision the execution
// environment ahead of the first command. Idempotent per key.
func (s *Server) initSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeSessionRequest(w, r, &req) {
		return
	}

	info, err := s.sessions.Init(r.Context(), req.key())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type commandRequest struct {
	ProjectID  string `json:"projectID"`
	TerminalID string `json:"terminalID"`
	UserID     string `json:"userID,omitempty"`
	Command    string `json:"command"`
}

// submitCommand handles POST /session/command: enqueue for worker
// execution. Output arrives asynchronously on the event stream.
func (s *Server) submitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.TerminalID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and terminalID are required")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "command is required")
		return
	}

	cmd := types.Command{
		ProjectID:  req.ProjectID,
		TerminalID: req.TerminalID,
		UserID:     req.UserID,
		Command:    req.Command,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	if err := s.queue.Enqueue(r.Context(), cmd); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"enqueued": true})
}

// closeSession handles POST /session/close. Unknown sessions succeed.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeSessionRequest(w, r, &req) {
		return
	}

	if err := s.sessions.Close(r.Context(), req.key()); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

type resizeRequest struct {
	ProjectID  string `json:"projectID"`
	TerminalID string `json:"terminalID"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

// resizeSession handles POST /session/resize. Advisory: the execution
// backends do not drive a PTY, so this never fails.
func (s *Server) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.TerminalID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and terminalID are required")
		return
	}

	s.sessions.Resize(types.SessionKey{ProjectID: req.ProjectID, TerminalID: req.TerminalID}, req.Cols, req.Rows)
	writeSuccess(w)
}
