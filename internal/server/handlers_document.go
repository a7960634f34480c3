package server

import (
	"encoding/json"
	"net/http"

	"github.com/codewave-dev/codewave/pkg/types"
)

type openDocumentRequest struct {
	ProjectID string `json:"projectID"`
	FilePath  string `json:"filePath"`
}

type openDocumentResponse struct {
	ProjectID string          `json:"projectID"`
	FilePath  string          `json:"filePath"`
	State     json.RawMessage `json:"state"`
}

// openDocument handles POST /document/open: load-or-create the document
// and return its full serialized state.
func (s *Server) openDocument(w http.ResponseWriter, r *http.Request) {
	var req openDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.FilePath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and filePath are required")
		return
	}

	state, err := s.docs.Open(r.Context(), req.ProjectID, req.FilePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, openDocumentResponse{
		ProjectID: req.ProjectID,
		FilePath:  req.FilePath,
		State:     state,
	})
}

type updateDocumentRequest struct {
	ProjectID    string          `json:"projectID"`
	FilePath     string          `json:"filePath"`
	Update       json.RawMessage `json:"update"`
	ConnectionID string          `json:"connectionID,omitempty"`
}

// updateDocument handles POST /document/update: merge a delta into the
// live document and fan it out to every other subscriber. The submitting
// connection identifies itself so it does not receive its own update back.
func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	var req updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.FilePath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and filePath are required")
		return
	}
	if len(req.Update) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "update is required")
		return
	}

	origin := req.ConnectionID
	if origin == "" {
		origin = r.Header.Get(connectionHeader)
	}

	if err := s.docs.ApplyUpdate(r.Context(), req.ProjectID, req.FilePath, req.Update, origin); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// documentUpdateEvent is the SSE payload for one relayed delta.
type documentUpdateEvent struct {
	ProjectID string          `json:"projectID"`
	FilePath  string          `json:"filePath"`
	Update    json.RawMessage `json:"update"`
}

func toUpdateEvent(u types.DocumentUpdate) documentUpdateEvent {
	return documentUpdateEvent{
		ProjectID: u.ProjectID,
		FilePath:  u.FilePath,
		Update:    u.Update,
	}
}
