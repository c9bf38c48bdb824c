package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"gwi.com/recall-chat/internal/core"
	"gwi.com/recall-chat/internal/logger"
)

// session is one websocket connection. A single writer goroutine owns all writes;
// turns run in their own goroutines and hand results to it through send.
type session struct {
	server *Server
	conn   *websocket.Conn
	userID string
	log    *logger.Logger

	send chan outbound
	done chan struct{}
}

func newSession(s *Server, conn *websocket.Conn, userID string) *session {
	return &session{
		server: s,
		conn:   conn,
		userID: userID,
		log:    s.log.With("user_id", userID),
		send:   make(chan outbound, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *session) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()
	s.readPump()
	close(s.done)
	<-writerDone
	s.conn.Close()
	s.log.Info("Websocket disconnected")
}

func (s *session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Websocket read failed", "error", err)
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *session) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.push(EventTurnError, TurnErrorPayload{Error: "malformed event"})
		return
	}
	switch env.Event {
	case EventSubmitTurn:
		var p SubmitTurnPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.push(EventTurnError, TurnErrorPayload{Error: "malformed submit-turn payload"})
			return
		}
		s.server.inflight.Add(1)
		go func() {
			defer s.server.inflight.Done()
			s.handleTurn(p)
		}()
	default:
		s.push(EventTurnError, TurnErrorPayload{Error: "unknown event " + env.Event})
	}
}

// handleTurn runs to completion even if the client disconnects, so a started turn is
// not cut off halfway; the reply is then dropped.
func (s *session) handleTurn(p SubmitTurnPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), s.server.turnTimeout)
	defer cancel()

	result, err := s.server.turns.SubmitTurn(ctx, s.userID, p.Chat, p.Message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("Turn timed out", "chat_id", p.Chat, "stage", core.StageOf(err))
		}
		s.push(EventTurnError, TurnErrorPayload{Error: core.Describe(err), Chat: p.Chat})
		return
	}
	s.push(EventTurnResult, TurnResultPayload{Content: result.Content, Chat: result.ChatID})
}

func (s *session) push(event string, data any) {
	select {
	case s.send <- outbound{Event: event, Data: data}:
	case <-s.done:
		s.log.Debug("Dropping event for closed connection", "event", event)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Warn("Websocket write failed", "event", msg.Event, "error", err)
				// Unblock the reader so the session shuts down.
				s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
