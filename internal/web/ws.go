package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsMessage is what the page receives on every state change.
type wsMessage struct {
	Type      string         `json:"type"`
	Data      *session.State `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// handleWebSocket pushes the visitor's state whenever it changes, so a page
// showing the loading overlay reloads once the result is in.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	logger := s.logger.With(zap.String("session_id", id))

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	updates, release := s.sessions.Hub().Subscribe(id)
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read", zap.Error(err))
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			if msg.Type == "ping" {
				conn.send(wsMessage{Type: "pong", Timestamp: time.Now().Unix()})
			}
		}
	}()

	// the page may have been rendered before a background request finished
	if st, err := s.sessions.Get(r.Context(), id); err == nil {
		if err := conn.send(wsMessage{Type: "state", Data: &st, Timestamp: time.Now().Unix()}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.send(wsMessage{Type: "state", Data: &st, Timestamp: time.Now().Unix()}); err != nil {
				logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-done:
			return
		case <-s.baseCtx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// wsConn serialises writes; the read goroutine answers pings too.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.PingMessage, nil)
}
