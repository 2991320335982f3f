package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/middleware"
	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/internal/store"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

// SessionHandler serves the REST view of counseling sessions for the web app
// and staff dashboard. The websocket protocol remains the primary surface;
// these endpoints cover history review and out-of-band closure.
type SessionHandler struct {
	store   *store.Client
	gateway relay.Gateway
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st *store.Client, gw relay.Gateway, log *logger.Logger) *SessionHandler {
	return &SessionHandler{store: st, gateway: gw, logger: log}
}

// History returns the session transcript. Accessible to the owning user, any
// staff role, or the assigned staff member.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "session store unavailable")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	userID := middleware.GetUserID(r.Context())
	role := middleware.GetRole(r.Context())
	if !sess.AccessibleBy(userID, role) {
		writeError(w, http.StatusForbidden, "not allowed to view this session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"status":    sess.Status,
		"type":      sess.Type,
		"messages":  sess.Messages,
	})
}

type closeRequest struct {
	Rating   *int   `json:"rating,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Close ends a session out-of-band, for example from the staff dashboard.
// Live participants still connected get the session_closed event.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req closeRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	sess, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "session store unavailable")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.IsClosed() {
		writeError(w, http.StatusConflict, "session is already closed")
		return
	}

	userID := middleware.GetUserID(r.Context())
	role := middleware.GetRole(r.Context())
	if !role.IsStaff() && sess.UserID != userID {
		writeError(w, http.StatusForbidden, "not allowed to close this session")
		return
	}

	if err := h.store.Close(r.Context(), sess.ID, store.CloseRequest{
		ClosedBy: userID,
		Rating:   req.Rating,
		Feedback: req.Feedback,
		EndedAt:  time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusBadGateway, "failed to close session")
		return
	}

	group := relay.SessionGroup(sess.ID)
	h.gateway.Broadcast(group, model.EventSessionClosed, &model.SessionClosedPayload{
		SessionID: sess.ID,
		Timestamp: time.Now().UTC(),
		Rating:    req.Rating,
		Feedback:  req.Feedback,
	})
	h.gateway.CloseGroup(group)

	h.logger.Info("session closed via api",
		zap.String("session_id", sess.ID),
		zap.String("closed_by", userID),
	)

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// Active lists open and escalated sessions for the staff dashboard.
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ActiveSessions(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadGateway, "session store unavailable")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
