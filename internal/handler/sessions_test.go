package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare-platform/chat-relay/internal/middleware"
	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/internal/store"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

const testSecret = "test-secret"

type nopGateway struct {
	broadcasts []model.EventType
	closed     []string
}

func (g *nopGateway) JoinGroup(relay.Conn, string) error { return nil }
func (g *nopGateway) LeaveGroup(relay.Conn, string)      {}
func (g *nopGateway) CloseGroup(group string)            { g.closed = append(g.closed, group) }
func (g *nopGateway) Broadcast(_ string, event model.EventType, _ any) {
	g.broadcasts = append(g.broadcasts, event)
}
func (g *nopGateway) SendTo(relay.Conn, model.EventType, any) {}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newAPI(t *testing.T, storeHandler http.HandlerFunc) (*chi.Mux, *nopGateway) {
	t.Helper()
	srv := httptest.NewServer(storeHandler)
	t.Cleanup(srv.Close)

	gw := &nopGateway{}
	h := NewSessionHandler(store.New(srv.URL, "", 2*time.Second, logger.NewNop()), gw, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))
		r.Get("/sessions/{sessionID}/history", h.History)
		r.Post("/sessions/{sessionID}/close", h.Close)
		r.With(middleware.RequireStaff).Get("/sessions/active", h.Active)
	})
	return r, gw
}

func get(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func post(r http.Handler, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sessionStore(t *testing.T, sess model.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sess)
	}
}

func TestHistoryRequiresAuth(t *testing.T) {
	r, _ := newAPI(t, sessionStore(t, model.Session{ID: "s1"}))
	rec := get(r, "/api/v1/sessions/s1/history", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryVisibleToOwner(t *testing.T) {
	r, _ := newAPI(t, sessionStore(t, model.Session{
		ID:       "s1",
		UserID:   "u1",
		Messages: []model.Message{{ID: "m1", Text: "hi"}},
	}))

	rec := get(r, "/api/v1/sessions/s1/history", token(t, "u1", "user"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Messages, 1)
}

func TestHistoryHiddenFromStrangers(t *testing.T) {
	r, _ := newAPI(t, sessionStore(t, model.Session{ID: "s1", UserID: "u1"}))
	rec := get(r, "/api/v1/sessions/s1/history", token(t, "u2", "user"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHistoryVisibleToStaff(t *testing.T) {
	r, _ := newAPI(t, sessionStore(t, model.Session{ID: "s1", UserID: "u1"}))
	rec := get(r, "/api/v1/sessions/s1/history", token(t, "staff-9", "psikolog"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHistoryNotFound(t *testing.T) {
	r, _ := newAPI(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rec := get(r, "/api/v1/sessions/gone/history", token(t, "u1", "user"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseBroadcastsAndClosesGroup(t *testing.T) {
	r, gw := newAPI(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(model.Session{ID: "s1", UserID: "u1", Status: model.StatusOpen})
	})

	rec := post(r, "/api/v1/sessions/s1/close", token(t, "u1", "user"), `{"rating":5,"feedback":"thanks"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, gw.broadcasts, model.EventSessionClosed)
	assert.Equal(t, []string{relay.SessionGroup("s1")}, gw.closed)
}

func TestCloseRejectsBadRating(t *testing.T) {
	r, _ := newAPI(t, sessionStore(t, model.Session{ID: "s1", UserID: "u1"}))
	rec := post(r, "/api/v1/sessions/s1/close", token(t, "u1", "user"), `{"rating":9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseForbiddenForStranger(t *testing.T) {
	r, gw := newAPI(t, sessionStore(t, model.Session{ID: "s1", UserID: "u1", Status: model.StatusOpen}))
	rec := post(r, "/api/v1/sessions/s1/close", token(t, "u2", "user"), `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, gw.broadcasts)
}

func TestActiveRequiresStaffRole(t *testing.T) {
	r, _ := newAPI(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]model.Session{{ID: "s1"}})
	})

	rec := get(r, "/api/v1/sessions/active", token(t, "u1", "user"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(r, "/api/v1/sessions/active", token(t, "staff-1", "staff"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
