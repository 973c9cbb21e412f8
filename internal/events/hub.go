package events

import (
	"log/slog"
	"sync"
)

const sendBuffer = 256

// Conn is a live observer connection. Send may block; the hub calls it from
// a per-connection writer goroutine, never from Publish. Close is called when
// the hub gives up on the connection, so the observer reconnects and starts
// again from a fresh snapshot.
type Conn interface {
	Send(ev Event) error
	Close() error
}

type subscriber struct {
	conn Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Hub keeps the set of live connections per owner. A connection whose write
// fails, or whose buffer is full, is dropped and closed.
type Hub struct {
	mu     sync.RWMutex
	owners map[string]map[Conn]*subscriber
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		owners: make(map[string]map[Conn]*subscriber),
		logger: logger,
	}
}

// Subscribe registers conn under owner. Subscribing the same conn twice is a no-op.
func (h *Hub) Subscribe(owner string, conn Conn) {
	h.SubscribeWith(owner, conn, nil)
}

// SubscribeWith registers conn and, when first is non-nil, queues the event it
// builds ahead of anything published later. first runs under the hub lock, so
// a concurrent Publish is either reflected in it or delivered after it.
func (h *Hub) SubscribeWith(owner string, conn Conn, first func() Event) {
	h.mu.Lock()
	conns := h.owners[owner]
	if conns == nil {
		conns = make(map[Conn]*subscriber)
		h.owners[owner] = conns
	}
	if _, exists := conns[conn]; exists {
		h.mu.Unlock()
		return
	}
	sub := &subscriber{
		conn: conn,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}
	if first != nil {
		sub.send <- first()
	}
	conns[conn] = sub
	h.mu.Unlock()

	go h.writeLoop(owner, sub)
}

// Unsubscribe removes conn, pruning the owner entry when it becomes empty.
func (h *Hub) Unsubscribe(owner string, conn Conn) {
	h.remove(owner, conn, nil)
}

// remove deletes conn under owner. A non-nil want restricts removal to that
// exact subscriber so a stale writer cannot drop a newer registration; it also
// marks a removal the hub decided on, which closes the connection.
func (h *Hub) remove(owner string, conn Conn, want *subscriber) {
	h.mu.Lock()
	conns := h.owners[owner]
	sub, ok := conns[conn]
	if ok && (want == nil || sub == want) {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.owners, owner)
		}
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		sub.stop()
		if want != nil {
			go sub.conn.Close()
		}
	}
}

// Publish queues ev for every connection of owner. It never blocks and never
// fails; with no connections the event is dropped.
func (h *Hub) Publish(owner string, ev Event) {
	h.mu.RLock()
	conns := h.owners[owner]
	subs := make([]*subscriber, 0, len(conns))
	for _, sub := range conns {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- ev:
		case <-sub.done:
		default:
			h.logger.Debug("dropping slow observer", "owner", owner)
			h.remove(owner, sub.conn, sub)
		}
	}
}

// Count returns the number of live connections for owner.
func (h *Hub) Count(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[owner])
}

// Close drops and closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	owners := h.owners
	h.owners = make(map[string]map[Conn]*subscriber)
	h.mu.Unlock()

	for _, conns := range owners {
		for _, sub := range conns {
			sub.stop()
			sub.conn.Close()
		}
	}
}

func (h *Hub) writeLoop(owner string, sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.send:
			if err := sub.conn.Send(ev); err != nil {
				h.logger.Debug("pruning dead observer", "owner", owner, "error", err)
				h.remove(owner, sub.conn, sub)
				return
			}
		}
	}
}
