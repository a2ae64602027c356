// Package bus broadcasts bridge events to WebSocket subscribers.
//
// The bus plays the role a host automation bus would: every event the
// differ produces is pushed as a JSON frame to all connected clients, plus
// a poll_complete frame after each successful cycle so dashboards can track
// liveness. Clients that fall behind are dropped rather than allowed to
// block the broadcast path.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/marco308/ticktick-bridge/internal/snapshot"
)

// FrameType identifies a broadcast frame. Event frames reuse the event type
// names directly.
type FrameType string

// FrameTypePollComplete announces a finished poll cycle.
const FrameTypePollComplete FrameType = "poll_complete"

// Frame is the wire format pushed to subscribers.
type Frame struct {
	Type      FrameType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PollCompleteData is the payload of a poll_complete frame.
type PollCompleteData struct {
	Projects int           `json:"projects"`
	Tasks    int           `json:"tasks"`
	Events   int           `json:"events"`
	Duration time.Duration `json:"duration"`
}

// Sink receives diff events. The Broadcaster implements it; so does the
// event journal.
type Sink interface {
	Publish(ev snapshot.Event)
}

// Multi fans one event out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Publish(ev snapshot.Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// Broadcaster manages WebSocket subscribers and fans frames out to them.
// Mount Handler on an HTTP server and call Run to start the broadcast loop.
type Broadcaster struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewBroadcaster creates a broadcaster. A nil logger falls back to stderr.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.New(os.Stderr, "[bus] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Broadcaster{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Frame, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Run starts the broadcast loop and blocks until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.wg.Add(1)
	go b.broadcastLoop()

	<-ctx.Done()
	return b.Stop()
}

// Stop closes all client connections and stops the broadcast loop.
func (b *Broadcaster) Stop() error {
	b.cancel()

	b.clientsMu.Lock()
	for conn := range b.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(b.clients, conn)
	}
	b.clientsMu.Unlock()

	b.wg.Wait()
	return nil
}

// Publish implements Sink: the event becomes a frame typed by its event
// type.
func (b *Broadcaster) Publish(ev snapshot.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	b.send(Frame{Type: FrameType(ev.Type), Data: data})
}

// PollComplete broadcasts a cycle-complete frame.
func (b *Broadcaster) PollComplete(stats PollCompleteData) {
	data, err := json.Marshal(stats)
	if err != nil {
		b.logger.Printf("Failed to marshal poll stats: %v", err)
		return
	}
	b.send(Frame{Type: FrameTypePollComplete, Data: data})
}

func (b *Broadcaster) send(frame Frame) {
	select {
	case b.broadcast <- frame:
	case <-b.ctx.Done():
	default:
		b.logger.Println("Warning: broadcast channel full, dropping frame")
	}
}

func (b *Broadcaster) broadcastLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case frame := <-b.broadcast:
			if frame.Timestamp.IsZero() {
				frame.Timestamp = time.Now()
			}

			data, err := json.Marshal(frame)
			if err != nil {
				b.logger.Printf("Failed to marshal frame: %v", err)
				continue
			}

			b.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(b.clients))
			for conn := range b.clients {
				conns = append(conns, conn)
			}
			b.clientsMu.RUnlock()

			// Writes happen outside the lock so one slow client cannot
			// stall registration.
			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, data)
				cancel()

				if err != nil {
					b.logger.Printf("Failed to send to client: %v", err)
					b.removeClient(conn)
				}
			}
		}
	}
}

// Handler upgrades HTTP connections to WebSocket subscriptions.
func (b *Broadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			b.logger.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		b.clientsMu.Lock()
		b.clients[conn] = true
		count := len(b.clients)
		b.clientsMu.Unlock()

		b.logger.Printf("Client connected (total: %d)", count)

		go b.readLoop(conn)
	}
}

// readLoop drains client messages to detect disconnects; inbound payloads
// are ignored.
func (b *Broadcaster) readLoop(conn *websocket.Conn) {
	defer b.removeClient(conn)

	for {
		if _, _, err := conn.Read(b.ctx); err != nil {
			return
		}
	}
}

func (b *Broadcaster) removeClient(conn *websocket.Conn) {
	b.clientsMu.Lock()
	if _, ok := b.clients[conn]; ok {
		delete(b.clients, conn)
		b.logger.Printf("Client disconnected (total: %d)", len(b.clients))
	}
	b.clientsMu.Unlock()
	_ = conn.CloseNow()
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}
