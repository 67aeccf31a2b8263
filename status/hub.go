package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON frame sent to dashboard clients.
type Message struct {
	Type    string         `json:"type"` // status|action|trading|heartbeat
	Time    time.Time      `json:"time"`
	State   string         `json:"state,omitempty"`
	Text    string         `json:"message,omitempty"`
	Action  string         `json:"action,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Hub fans status reports out to websocket clients on /ws. Each client has
// its own send queue and writer, so a slow client only loses its own
// frames. Frames are dropped when a queue is full.
type Hub struct {
	clients   map[*hubClient]bool
	broadcast chan []byte
	lock      sync.Mutex
	now       func() time.Time
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

const (
	clientQueue  = 16
	writeTimeout = 5 * time.Second
)

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*hubClient]bool),
		broadcast: make(chan []byte, 64),
		now:       time.Now,
	}
}

// Run hands queued frames to every client until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-h.broadcast:
			h.lock.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Debug("client queue full, frame dropped")
				}
			}
			h.lock.Unlock()
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade")
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, clientQueue)}
	h.lock.Lock()
	h.clients[c] = true
	h.lock.Unlock()

	go h.write(c)
	// drain reads so close frames are noticed
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.remove(c)
				return
			}
		}
	}()
}

func (h *Hub) write(c *hubClient) {
	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.remove(c)
			return
		}
	}
}

// Handler serves the hub on /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	return mux
}

func (h *Hub) send(m Message) {
	m.Time = h.now()
	b, err := json.Marshal(m)
	if err != nil {
		log.WithError(err).WithField("type", m.Type).Warn("encode hub message")
		return
	}
	select {
	case h.broadcast <- b:
	default:
		log.WithField("type", m.Type).Debug("hub queue full, frame dropped")
	}
}

func (h *Hub) Status(_ context.Context, state, msg string) {
	h.send(Message{Type: "status", State: state, Text: msg})
}

func (h *Hub) Action(_ context.Context, action string, details map[string]any) {
	h.send(Message{Type: "action", Action: action, Details: details})
}

func (h *Hub) Trading(_ context.Context, u TradingUpdate) {
	h.send(Message{Type: "trading", Details: u.Fields()})
}

func (h *Hub) Heartbeat(context.Context) {
	h.send(Message{Type: "heartbeat"})
}
