// internal/server/stream.go
package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"microloan-client/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts clients that send no Origin (non-browser tools) and
// pages served from this host. Any other page could read the signed-in
// profile.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// sessionStream pushes every session snapshot to a websocket in state
// order. A subscriber that falls behind loses the oldest queued states; the
// latest one is always delivered.
func (s *Server) sessionStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	q := newSnapshotQueue(streamBacklog)
	unsubscribe := s.sessions.Subscribe(q.push)

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, q, closed)
	unsubscribe()
}

const streamBacklog = 16

type snapshotQueue struct {
	mu    sync.Mutex
	items []models.Session
	limit int
	ready chan struct{}
}

func newSnapshotQueue(limit int) *snapshotQueue {
	return &snapshotQueue{limit: limit, ready: make(chan struct{}, 1)}
}

func (q *snapshotQueue) push(snap models.Session) {
	q.mu.Lock()
	q.items = append(q.items, snap)
	if over := len(q.items) - q.limit; over > 0 {
		q.items = append([]models.Session(nil), q.items[over:]...)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *snapshotQueue) take() []models.Session {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// readPump only keeps the read deadline fresh and notices the close.
func (s *Server) readPump(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("session stream closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, q *snapshotQueue, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case <-q.ready:
			for _, snap := range q.take() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
