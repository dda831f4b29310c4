package transport

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"driftpursuit/client/internal/logging"
)

// WebSocketTransport is the default client-dial implementation of Transport,
// grounded on the teacher's server-side websocket accept loop
// (main.go:serveWS) but reversed to dial out instead of upgrading an inbound
// HTTP request.
type WebSocketTransport struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	connectionID int
	events       chan Event
	done         chan struct{}
	pingInterval time.Duration
	log          *logging.Logger
}

// NewWebSocketTransport constructs an idle transport; Connect must be called
// before Send/NextEvent produce anything.
func NewWebSocketTransport(pingInterval time.Duration, log *logging.Logger) *WebSocketTransport {
	if pingInterval <= 0 {
		pingInterval = 10 * time.Second
	}
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &WebSocketTransport{pingInterval: pingInterval, log: log}
}

// Connect dials host:port over ws:// and starts the background read/ping
// loops. It returns -1 on any dial failure (§6).
func (t *WebSocketTransport) Connect(host string, port int) (int, error) {
	resolvedHost, resolvedPort, err := ResolveHostPort(fmt.Sprintf("%s:%d", host, port), port)
	if err != nil {
		return -1, err
	}
	target := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", resolvedHost, resolvedPort), Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		t.log.Warn("websocket dial failed", logging.String("target", target.String()), logging.Error(err))
		return -1, err
	}

	t.mu.Lock()
	t.connectionID++
	id := t.connectionID
	t.conn = conn
	t.events = make(chan Event, 256)
	t.done = make(chan struct{})
	events := t.events
	done := t.done
	t.mu.Unlock()

	events <- Event{Type: EventConnect, ConnectionID: id}
	go t.readLoop(id, conn, events, done)
	go t.pingLoop(id, conn, done)
	return id, nil
}

func (t *WebSocketTransport) readLoop(id int, conn *websocket.Conn, events chan Event, done chan struct{}) {
	defer func() {
		//1.- Queue the Disconnect event whenever the buffer has room; only
		// give it up when the buffer is full and the connection was closed locally.
		disconnect := Event{Type: EventDisconnect, ConnectionID: id}
		select {
		case events <- disconnect:
			return
		default:
		}
		select {
		case events <- disconnect:
		case <-done:
		}
	}()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.log.Warn("websocket read error", logging.Int("connection_id", id), logging.Error(err))
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case events <- Event{Type: EventData, ConnectionID: id, Data: data}:
		case <-done:
			return
		}
	}
}

func (t *WebSocketTransport) pingLoop(id int, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				t.log.Warn("websocket ping failed", logging.Int("connection_id", id), logging.Error(err))
				return
			}
		}
	}
}

// Disconnect tells the transport to close connectionID; it is synchronous
// and idempotent (§5). The Disconnect event itself arrives later via
// NextEvent once the read loop observes the closed connection.
func (t *WebSocketTransport) Disconnect(connectionID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || connectionID != t.connectionID {
		return
	}
	if t.done != nil {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
	_ = t.conn.Close()
}

// Update is a no-op: I/O progresses on the background read/ping goroutines,
// matching the teacher's reader/writer-goroutine-per-connection shape.
func (t *WebSocketTransport) Update() {}

// NextEvent drains one queued event without blocking.
func (t *WebSocketTransport) NextEvent() (Event, bool) {
	t.mu.Lock()
	events := t.events
	t.mu.Unlock()
	if events == nil {
		return Event{}, false
	}
	select {
	case evt := <-events:
		return evt, true
	default:
		return Event{}, false
	}
}

// Send writes one outbound binary package to connectionID.
func (t *WebSocketTransport) Send(connectionID int, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	id := t.connectionID
	t.mu.Unlock()
	if conn == nil || connectionID != id {
		return fmt.Errorf("transport: no active connection %d", connectionID)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}
