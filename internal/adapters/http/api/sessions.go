package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/sitwell/internal/app"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
)

// SessionsHandler serves uploads and stored session reads.
type SessionsHandler struct {
	deps         Dependencies
	maxBodyBytes int64
	logger       logger.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies, maxBodyBytes int64, l logger.Logger) *SessionsHandler {
	return &SessionsHandler{deps: deps, maxBodyBytes: maxBodyBytes, logger: l}
}

type uploadResponse struct {
	Duplicate bool                `json:"duplicate"`
	Session   model.SessionRecord `json:"session"`
}

type listResponse struct {
	Sessions []model.SessionRecord `json:"sessions"`
	Total    int                   `json:"total"`
	Limit    int                   `json:"limit"`
	Offset   int                   `json:"offset"`
}

// HandleUpload handles POST /sessions/upload requests.
func (h *SessionsHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.upload"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	var rec service.Recording
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		var kind error = ErrBadRequest
		if status, _ := statusOf(err); status == http.StatusRequestEntityTooLarge {
			kind = ErrTooLarge
		}
		fail(w, WrapKind(op, kind, err))
		return
	}

	stored, duplicate, err := h.deps.ProcessRecording(r.Context(), &rec)
	if err != nil {
		if status, _ := statusOf(err); status >= statusInternalError {
			h.logger.Error(r.Context(), "upload failed", logger.String("upload", rec.UploadID), logger.Error(err))
		}
		fail(w, fmt.Errorf("%s: %w", op, err))
		return
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{Duplicate: duplicate, Session: stored})
}

// HandleList handles GET /sessions?limit=&offset= requests.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_sessions"

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil || limit < 1 {
		fail(w, WrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer")))
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		fail(w, WrapKind(op, ErrBadRequest, errors.New("offset must be a non-negative integer")))
		return
	}

	recs, total, err := h.deps.ListSessions(r.Context(), limit, offset)
	if err != nil {
		fail(w, fmt.Errorf("%s: %w", op, err))
		return
	}
	if recs == nil {
		recs = []model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: recs, Total: total, Limit: limit, Offset: offset})
}

// HandleGet handles GET /sessions/{id} requests.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, fmt.Errorf("api.get_session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /sessions/{id} requests.
func (h *SessionsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, fmt.Errorf("api.delete_session: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
