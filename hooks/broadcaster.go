package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Broadcaster pushes commit events to websocket subscribers as JSON text
// frames. A subscriber whose queue is full is disconnected rather than
// allowed to slow down commits.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	queueSize   int
	closed      bool
	logger      *zap.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// NewBroadcaster creates a broadcaster with a per-subscriber queue of
// queueSize events
func NewBroadcaster(queueSize int, logger *zap.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broadcaster{
		subscribers: make(map[*subscriber]struct{}),
		queueSize:   queueSize,
		logger:      logger,
	}
}

// PreCommit implements Notifier
func (b *Broadcaster) PreCommit(ctx context.Context, ev Event) {
	b.Publish(ev)
}

// PostCommit implements Notifier
func (b *Broadcaster) PostCommit(ctx context.Context, ev Event) {
	b.Publish(ev)
}

// Publish queues ev for every connected subscriber without blocking
func (b *Broadcaster) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode hook event", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.send <- payload:
		default:
			b.logger.Warn("Dropping slow event subscriber")
			b.removeLocked(sub)
		}
	}
}

// Subscribers returns the number of connected subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client goes away
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, b.queueSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	b.subscribers[sub] = struct{}{}
	metrics.EventSubscribers.Inc()
	b.mu.Unlock()

	go b.readLoop(sub)
	b.writeLoop(sub)
}

// readLoop discards client frames and notices disconnects
func (b *Broadcaster) readLoop(sub *subscriber) {
	defer b.remove(sub)

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				b.remove(sub)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.remove(sub)
				return
			}
		}
	}
}

func (b *Broadcaster) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Broadcaster) removeLocked(sub *subscriber) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	metrics.EventSubscribers.Dec()
	sub.close()
}

// Close disconnects every subscriber and refuses new ones
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sub := range b.subscribers {
		b.removeLocked(sub)
	}
	return nil
}
