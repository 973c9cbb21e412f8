package proxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cloudvault/internal/events"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins
	},
}

// wsConn serializes writes to one websocket; the hub writer, the keepalive
// loop and the initial snapshot all share it.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// Close ends the session from the server side. The client reconnects and
// gets a new snapshot.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// handleLive streams task events for one user: a snapshot on connect, then
// live events interleaved with keepalive pings until the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("user_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "user_id", owner, "error", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	// The snapshot goes through the hub queue so no event published while it
	// is built can be lost or overtake it.
	s.Hub.SubscribeWith(owner, ws, func() events.Event {
		return events.Snapshot(s.Scheduler.List(owner))
	})
	defer s.Hub.Unsubscribe(owner, ws)
	s.log.Debug("live channel connected", "user_id", owner)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.Send(events.Ping()); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	// Client messages are ignored; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("live channel read error", "user_id", owner, "error", err)
			}
			return
		}
	}
}
