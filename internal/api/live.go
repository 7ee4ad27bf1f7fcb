package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/orchestrator"
)

const (
	liveSendBuffer   = 4
	liveWriteTimeout = 5 * time.Second
	livePongWait     = 60 * time.Second
	livePingPeriod   = livePongWait * 9 / 10
)

// LiveFeeder produces live snapshots.
type LiveFeeder interface {
	LiveFeed() orchestrator.LiveSnapshot
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

// liveHub pushes a LiveFeed snapshot to every websocket client each
// interval. A client that falls behind is dropped.
type liveHub struct {
	feed     LiveFeeder
	interval time.Duration
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func newLiveHub(feed LiveFeeder, interval time.Duration, log *zap.Logger) *liveHub {
	return &liveHub{
		feed:     feed,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log.Named("live"),
		clients: make(map[*liveClient]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (h *liveHub) start() {
	h.startOnce.Do(func() { go h.loop() })
}

// stop ends the broadcast loop and disconnects every client.
func (h *liveHub) stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		started := true
		h.startOnce.Do(func() { started = false })
		if started {
			<-h.doneCh
		}

		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
	})
}

// count returns the number of connected clients.
func (h *liveHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *liveHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}

	h.mu.Lock()
	select {
	case <-h.stopCh:
		h.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("live client connected", zap.String("remote", conn.RemoteAddr().String()))

	// first frame right away rather than one interval later
	if data, err := h.snapshot(); err == nil {
		h.offer(c, data)
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages and notices disconnects.
func (h *liveHub) readPump(c *liveClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *liveHub) writePump(c *liveClient) {
	ping := time.NewTicker(livePingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("live write failed", zap.Error(err))
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *liveHub) remove(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// offer queues data for c, dropping the client if its buffer is full.
func (h *liveHub) offer(c *liveClient, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Debug("live client too slow, dropping", zap.String("remote", c.conn.RemoteAddr().String()))
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *liveHub) snapshot() ([]byte, error) {
	data, err := json.Marshal(h.feed.LiveFeed())
	if err != nil {
		h.log.Error("encode live snapshot failed", zap.Error(err))
	}
	return data, err
}

func (h *liveHub) loop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.broadcast()
		case <-h.stopCh:
			return
		}
	}
}

func (h *liveHub) broadcast() {
	h.mu.Lock()
	clients := make([]*liveClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if len(clients) == 0 {
		return
	}
	data, err := h.snapshot()
	if err != nil {
		return
	}
	for _, c := range clients {
		h.offer(c, data)
	}
}
