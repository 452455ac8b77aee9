// README: One WebSocket session: read/write pumps and the inbound dispatch hook.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"medilink/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// MessageHandler processes one inbound frame. Implemented by the transport
// layer, which dispatches to the module services.
type MessageHandler interface {
	HandleMessage(ctx context.Context, s *Session, data []byte)
}

type Session struct {
	hub       *Hub
	channel   string
	principal auth.Principal
	conn      *websocket.Conn
	send      chan []byte
	handler   MessageHandler
}

// Attach registers a session for the principal's channel. The caller must
// follow with Run to start the pumps.
func (h *Hub) Attach(conn *websocket.Conn, p auth.Principal, handler MessageHandler) *Session {
	s := &Session{
		hub:       h,
		channel:   p.Channel(),
		principal: p,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		handler:   handler,
	}
	h.register(s)
	return s
}

func (s *Session) Principal() auth.Principal { return s.principal }

// Send queues one event for this session only; drops when the buffer is
// full, like any other publish.
func (s *Session) Send(event string, payload any) {
	data, err := json.Marshal(frame{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("ws: marshal %s event: %v", event, err)
		return
	}
	select {
	case s.send <- data:
	default:
		log.Printf("ws: buffer full on %s, dropping %s", s.channel, event)
	}
}

func (s *Session) SendError(msg string) {
	s.Send("error", map[string]string{"message": msg})
}

// Run starts the write pump and blocks on the read pump until the
// connection closes, then unregisters the session.
func (s *Session) Run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read on %s: %v", s.channel, err)
			}
			return
		}
		if s.handler != nil {
			s.handler.HandleMessage(ctx, s, message)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
