package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/auth"
	"github.com/antoniostano/callvoice/internal/directory"
	"github.com/antoniostano/callvoice/internal/protocol"
	"github.com/antoniostano/callvoice/internal/session"
)

const wsReadTimeout = 120 * time.Second

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "call_id"))
	ctx := r.Context()

	call, creds, err := s.controller.Prepare(ctx, callID)
	if err != nil {
		s.rejectSession(w, callID, err)
		return
	}
	if !auth.ClaimsFromContext(ctx).CanAccessTenant(call.TenantID) {
		respondError(w, http.StatusNotFound, "session_not_found", "call not found: "+callID)
		return
	}

	tr := newWSTransport(s.cfg.DeliverChunkBytes, s.cfg.DeliverTimeout)
	sess, err := s.controller.Open(ctx, call, creds, tr)
	if err != nil {
		s.rejectSession(w, callID, err)
		return
	}
	registry := s.controller.Registry()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		registry.Detach(sess, session.ErrTransportDisconnected)
		return
	}
	if !tr.attach(conn) {
		return
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = s.controller.Serve(sess)
	}()

	cause := s.readFrames(ctx, conn, sess, tr)
	registry.Detach(sess, cause)
	<-served
}

// readFrames pumps inbound binary frames into the session queue and handles
// text control messages until the connection or the session ends. ctx is the
// request context; hangup must outlive the session it tears down.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, sess *session.CallSession, tr *wsTransport) error {
	logger := s.logger.With(zap.String("call_id", sess.ID()))

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && sess.Context().Err() == nil {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return session.ErrTransportDisconnected
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			if _, err := sess.Enqueue(data); err != nil {
				if errors.Is(err, session.ErrQueueOverflow) {
					logger.Warn("inbound queue overflow, disconnecting")
				}
				return err
			}
		case websocket.TextMessage:
			parsed, err := protocol.ParseControlMessage(data)
			if err != nil {
				_ = tr.sendEvent(protocol.ServerEvent{
					Type:   protocol.TypeEvent,
					CallID: sess.ID(),
					Code:   "invalid_control_message",
					Detail: err.Error(),
				})
				continue
			}
			switch m := parsed.(type) {
			case protocol.DTMFMessage:
				if err := s.controller.OnDtmfReceived(ctx, sess.ID(), m.Digit); err != nil {
					logger.Warn("dtmf rejected", zap.String("digit", m.Digit), zap.Error(err))
				}
			case protocol.HangupMessage:
				status, ok := directory.ParseEndStatus(m.Status)
				if !ok {
					status = directory.StatusCompleted
				}
				if err := s.controller.OnCallEnded(ctx, sess.ID(), status); err != nil {
					logger.Warn("hangup failed", zap.Error(err))
				}
				return session.ErrCallEnded
			}
		}
	}
}

func (s *Server) rejectSession(w http.ResponseWriter, callID string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		respondError(w, http.StatusConflict, "duplicate_session", err.Error())
	case errors.Is(err, session.ErrCapacity):
		respondError(w, http.StatusServiceUnavailable, "capacity_reached", err.Error())
	default:
		s.logger.Error("session establishment failed", zap.String("call_id", callID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", "session establishment failed")
	}
}
