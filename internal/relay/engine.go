package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/middleware"
	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/policy"
	"github.com/mindcare-platform/chat-relay/internal/responder"
	"github.com/mindcare-platform/chat-relay/internal/store"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// defaultOpTimeout bounds one inbound event's store and responder work.
const defaultOpTimeout = 30 * time.Second

// Engine routes inbound events through the permission table to the handler
// for each protocol operation. The engine holds no durable session state;
// the store is the single source of truth, so multiple relay instances can
// run behind a load balancer.
type Engine struct {
	store     Store
	responder responder.Client
	gateway   Gateway
	logger    *logger.Logger
	opTimeout time.Duration
}

// NewEngine creates a relay engine.
func NewEngine(st Store, rc responder.Client, gw Gateway, log *logger.Logger) *Engine {
	return &Engine{
		store:     st,
		responder: rc,
		gateway:   gw,
		logger:    log,
		opTimeout: defaultOpTimeout,
	}
}

// Dispatch handles one inbound frame from a connection. It is called from the
// connection's read loop, so events from one connection are processed in
// order while other connections proceed independently. Panics in a handler
// are confined to the offending event.
func (e *Engine) Dispatch(ctx context.Context, conn Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in event handler",
				zap.String("connection_id", conn.ID()),
				zap.Any("panic", r),
			)
			e.sendError(conn, model.ErrCodeValidation, "failed to process event")
		}
	}()

	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.sendError(conn, model.ErrCodeValidation, "malformed payload")
		return
	}

	if !Allowed(env.Type, conn.Role()) {
		if _, known := actionRoles[env.Type]; !known {
			e.sendError(conn, model.ErrCodeValidation, fmt.Sprintf("unknown event type %q", env.Type))
			return
		}
		e.sendError(conn, model.ErrCodePermissionDenied, "insufficient permissions")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	switch env.Type {
	case model.EventJoinSession:
		e.handleJoin(opCtx, conn, env.Payload)
	case model.EventSendMessage:
		e.handleSendMessage(opCtx, conn, env.Payload)
	case model.EventRequestEscalation:
		e.handleRequestEscalation(opCtx, conn, env.Payload)
	case model.EventStaffJoinSession:
		e.handleStaffJoin(opCtx, conn, env.Payload)
	case model.EventCloseSession:
		e.handleClose(opCtx, conn, env.Payload)
	}
}

// handleJoin creates or fetches the session and subscribes the connection to
// its broadcast group. Consent is required only for sessions that do not yet
// exist.
func (e *Engine) handleJoin(ctx context.Context, conn Conn, raw json.RawMessage) {
	var payload model.JoinSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		e.sendError(conn, model.ErrCodeValidation, "sessionId is required")
		return
	}

	sess, err := e.store.Get(ctx, payload.SessionID)
	if err != nil {
		e.upstreamError(conn, "join_session", payload.SessionID, err)
		return
	}

	if sess == nil {
		if !payload.Consent {
			e.sendError(conn, model.ErrCodeValidation, "consent is required to start a session")
			return
		}
		userID := payload.UserID
		if userID == "" {
			userID = conn.UserID()
		}
		sess, err = e.store.Create(ctx, store.CreateSessionRequest{
			SessionID:      payload.SessionID,
			UserID:         userID,
			Type:           model.SessionTypeChatbot,
			ConsentGivenAt: time.Now().UTC(),
		})
		if err != nil {
			e.upstreamError(conn, "join_session", payload.SessionID, err)
			return
		}
		e.logger.Info("session created",
			zap.String("session_id", sess.ID),
			zap.String("user_id", userID),
		)
	}

	conn.BindSession(sess.ID)
	if err := e.gateway.JoinGroup(conn, SessionGroup(sess.ID)); err != nil {
		e.sendError(conn, model.ErrCodePermissionDenied, err.Error())
		return
	}

	e.gateway.SendTo(conn, model.EventSessionJoined, &model.SessionJoinedPayload{
		SessionID:   sess.ID,
		Messages:    sess.Messages,
		SessionType: sess.Type,
		Status:      sess.Status,
	})
}

// handleSendMessage persists the user turn, broadcasts it, and for chatbot
// sessions requests and relays the bot turn. Responder failures never reach
// the client as errors; the fallback path keeps the conversation going.
func (e *Engine) handleSendMessage(ctx context.Context, conn Conn, raw json.RawMessage) {
	var payload model.SendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.sendError(conn, model.ErrCodeValidation, "malformed payload")
		return
	}

	text := strings.TrimSpace(payload.Message)
	if err := middleware.ValidateMessageText(text); err != nil {
		e.sendError(conn, model.ErrCodeValidation, err.Error())
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		e.sendError(conn, model.ErrCodeValidation, "sessionId is required")
		return
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.upstreamError(conn, "send_message", sessionID, err)
		return
	}
	if sess == nil {
		e.sendError(conn, model.ErrCodeNotFound, "session not found")
		return
	}
	if sess.IsClosed() {
		e.sendError(conn, model.ErrCodeValidation, "session is closed")
		return
	}

	sender := model.SenderUser
	if conn.Role().IsStaff() {
		sender = model.SenderStaff
	}

	userMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sess.ID,
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}

	if !e.appendMessage(ctx, conn, sess.ID, userMsg) {
		return
	}
	e.gateway.Broadcast(SessionGroup(sess.ID), model.EventMessageReceived, userMsg)

	if sess.Type != model.SessionTypeChatbot {
		return
	}

	group := SessionGroup(sess.ID)
	e.gateway.Broadcast(group, model.EventTypingStart, nil)
	reply := e.respond(ctx, &responder.Request{
		Message:   text,
		SessionID: sess.ID,
		UserID:    conn.UserID(),
		History:   append(sess.Messages, userMsg),
	})
	e.gateway.Broadcast(group, model.EventTypingStop, nil)

	suggestion := policy.Evaluate(text, reply.Confidence)
	suggested := suggestion.Suggested || reply.EscalationSuggested
	reason := suggestion.Reason
	if reason == "" {
		reason = reply.EscalationReason
	}

	botMsg := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sess.ID,
		Sender:    model.SenderBot,
		Text:      reply.Text,
		Timestamp: time.Now().UTC(),
		Metadata:  botMetadata(reply, suggested, reason),
	}

	if !e.appendMessage(ctx, conn, sess.ID, botMsg) {
		return
	}
	e.gateway.Broadcast(group, model.EventMessageReceived, botMsg)

	if suggested {
		e.gateway.Broadcast(group, model.EventEscalationSuggested, &model.EscalationSuggestedPayload{
			SessionID: sess.ID,
			Reason:    reason,
		})
	}
}

// handleRequestEscalation flips the session to escalated and alerts the staff
// broadcast group. Idempotent: a repeat request on an already-escalated
// session re-acks with the stored ticket and does not notify staff again.
func (e *Engine) handleRequestEscalation(ctx context.Context, conn Conn, raw json.RawMessage) {
	var payload model.RequestEscalationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.sendError(conn, model.ErrCodeValidation, "malformed payload")
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		e.sendError(conn, model.ErrCodeValidation, "sessionId is required")
		return
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.upstreamError(conn, "request_escalation", sessionID, err)
		return
	}
	if sess == nil {
		e.sendError(conn, model.ErrCodeNotFound, "session not found")
		return
	}
	if sess.IsClosed() {
		e.sendError(conn, model.ErrCodeValidation, "session is closed")
		return
	}

	if sess.Status == model.StatusEscalated {
		e.gateway.SendTo(conn, model.EventEscalationRequested, &model.EscalationRequestedPayload{
			SessionID: sess.ID,
			TicketID:  sess.EscalationTicketID,
			Message:   "Session is already escalated",
		})
		return
	}

	ticketID := fmt.Sprintf("ESC_%d_%s", time.Now().UnixMilli(), sess.ID)
	if _, err := e.store.Escalate(ctx, sess.ID, store.EscalateRequest{
		Reason:      payload.Reason,
		EscalatedBy: conn.UserID(),
		TicketID:    ticketID,
	}); err != nil {
		e.upstreamError(conn, "request_escalation", sess.ID, err)
		return
	}

	priority := policy.PriorityFor(payload.Reason)
	metrics.EscalationsTotal.WithLabelValues(string(priority)).Inc()

	// Best-effort: a failed notification must not block the escalation.
	e.store.NotifyEscalation(ctx, store.NotificationRequest{
		SessionID: sess.ID,
		UserID:    conn.UserID(),
		Reason:    payload.Reason,
		TicketID:  ticketID,
		Priority:  string(priority),
	})

	e.gateway.Broadcast(StaffBroadcastGroup, model.EventEscalationAlert, &model.EscalationAlertPayload{
		SessionID: sess.ID,
		UserID:    conn.UserID(),
		Reason:    payload.Reason,
		Priority:  string(priority),
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
	})

	e.gateway.SendTo(conn, model.EventEscalationRequested, &model.EscalationRequestedPayload{
		SessionID: sess.ID,
		TicketID:  ticketID,
		Message:   "Escalated successfully",
	})

	e.logger.Info("session escalated",
		zap.String("session_id", sess.ID),
		zap.String("ticket_id", ticketID),
		zap.String("priority", string(priority)),
	)
}

// handleStaffJoin assigns the claiming staff member and subscribes them to the
// session group. The permission table has already established a staff role.
func (e *Engine) handleStaffJoin(ctx context.Context, conn Conn, raw json.RawMessage) {
	var payload model.StaffJoinPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		e.sendError(conn, model.ErrCodeValidation, "sessionId is required")
		return
	}

	sess, err := e.store.Get(ctx, payload.SessionID)
	if err != nil {
		e.upstreamError(conn, "staff_join_session", payload.SessionID, err)
		return
	}
	if sess == nil {
		e.sendError(conn, model.ErrCodeNotFound, "session not found")
		return
	}
	if sess.Status != model.StatusEscalated {
		e.sendError(conn, model.ErrCodeValidation, "session is not escalated")
		return
	}
	if sess.AssignedStaffID != "" && sess.AssignedStaffID != conn.UserID() {
		e.sendError(conn, model.ErrCodePermissionDenied, "session already claimed")
		return
	}

	if sess.AssignedStaffID == "" {
		sess, err = e.store.AssignStaff(ctx, sess.ID, conn.UserID())
		if err != nil {
			e.upstreamError(conn, "staff_join_session", payload.SessionID, err)
			return
		}
	}

	conn.BindSession(sess.ID)
	if err := e.gateway.JoinGroup(conn, SessionGroup(sess.ID)); err != nil {
		e.sendError(conn, model.ErrCodePermissionDenied, err.Error())
		return
	}

	e.gateway.SendTo(conn, model.EventSessionJoined, &model.SessionJoinedPayload{
		SessionID:   sess.ID,
		Messages:    sess.Messages,
		SessionType: sess.Type,
		Status:      sess.Status,
	})

	e.gateway.Broadcast(SessionGroup(sess.ID), model.EventStaffJoined, &model.StaffJoinedPayload{
		StaffName: conn.DisplayName(),
		Message:   fmt.Sprintf("%s has joined the session", conn.DisplayName()),
	})

	e.logger.Info("staff joined session",
		zap.String("session_id", sess.ID),
		zap.String("staff_id", conn.UserID()),
	)
}

// handleClose persists the terminal state, broadcasts closure, and tears down
// group routing. Staff roles may close any session; a user may close only
// their own.
func (e *Engine) handleClose(ctx context.Context, conn Conn, raw json.RawMessage) {
	var payload model.CloseSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.sendError(conn, model.ErrCodeValidation, "malformed payload")
		return
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		e.sendError(conn, model.ErrCodeValidation, "sessionId is required")
		return
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.upstreamError(conn, "close_session", sessionID, err)
		return
	}
	if sess == nil {
		e.sendError(conn, model.ErrCodeNotFound, "session not found")
		return
	}
	if sess.IsClosed() {
		e.sendError(conn, model.ErrCodeValidation, "session is already closed")
		return
	}

	if !conn.Role().IsStaff() && (conn.UserID() == "" || conn.UserID() != sess.UserID) {
		e.sendError(conn, model.ErrCodePermissionDenied, "not allowed to close this session")
		return
	}

	if err := e.store.Close(ctx, sess.ID, store.CloseRequest{
		ClosedBy: conn.UserID(),
		Rating:   payload.Rating,
		Feedback: payload.Feedback,
		EndedAt:  time.Now().UTC(),
	}); err != nil {
		e.upstreamError(conn, "close_session", sess.ID, err)
		return
	}

	group := SessionGroup(sess.ID)
	e.gateway.Broadcast(group, model.EventSessionClosed, &model.SessionClosedPayload{
		SessionID: sess.ID,
		Timestamp: time.Now().UTC(),
		Rating:    payload.Rating,
		Feedback:  payload.Feedback,
	})
	e.gateway.CloseGroup(group)

	e.logger.Info("session closed",
		zap.String("session_id", sess.ID),
		zap.String("closed_by", conn.UserID()),
	)
}

// HandleDisconnect tells the session group a participant dropped and releases
// the connection's group membership. Called by the gateway on socket close.
func (e *Engine) HandleDisconnect(conn Conn) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		return
	}
	group := SessionGroup(sessionID)
	e.gateway.LeaveGroup(conn, group)
	e.gateway.Broadcast(group, model.EventUserDisconnected, &model.UserDisconnectedPayload{
		UserID:    conn.UserID(),
		Timestamp: time.Now().UTC(),
	})
}

// respond gets the bot turn, falling back on any provider error so that
// responder degradation is telemetry, never a user-facing failure.
func (e *Engine) respond(ctx context.Context, req *responder.Request) *responder.Reply {
	reply, err := e.responder.Reply(ctx, req)
	if err != nil || reply == nil {
		e.logger.Warn("responder degraded, serving fallback",
			zap.String("session_id", req.SessionID),
			zap.String("provider", e.responder.Name()),
			zap.Error(err),
		)
		metrics.ResponderFallbacksTotal.Inc()
		return responder.Fallback()
	}
	return reply
}

// appendMessage persists one transcript turn. This is the must-succeed path:
// failures are surfaced to the sender and the turn is not broadcast.
func (e *Engine) appendMessage(ctx context.Context, conn Conn, sessionID string, msg model.Message) bool {
	err := e.store.AppendMessage(ctx, sessionID, msg)
	switch {
	case err == nil:
		metrics.MessagesTotal.WithLabelValues(string(msg.Sender)).Inc()
		return true
	case isNotFound(err):
		e.sendError(conn, model.ErrCodeNotFound, "session not found")
		return false
	default:
		e.upstreamError(conn, "append_message", sessionID, err)
		return false
	}
}

func (e *Engine) upstreamError(conn Conn, operation, sessionID string, err error) {
	e.logger.Error("session store unavailable",
		zap.String("operation", operation),
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
	e.sendError(conn, model.ErrCodeUpstreamUnavailable, "temporary failure, please retry")
}

func (e *Engine) sendError(conn Conn, code, message string) {
	e.gateway.SendTo(conn, model.EventError, &model.ErrorPayload{Code: code, Message: message})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func botMetadata(reply *responder.Reply, suggested bool, reason string) map[string]any {
	md := make(map[string]any, len(reply.Metadata)+4)
	for k, v := range reply.Metadata {
		md[k] = v
	}
	md["confidence"] = reply.Confidence
	md["intent"] = reply.Intent
	if suggested {
		md["escalation_suggested"] = true
		md["escalation_reason"] = reason
	}
	return md
}
