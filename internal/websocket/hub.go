package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
)

const (
	EventFriendRequest  = "friend_request"
	EventFriendAccepted = "friend_accepted"
	EventStatsUpdated   = "stats_updated"
)

// Event is a notification pushed to every connection of one user.
type Event struct {
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"-"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks live connections per user and routes events to them.
type Hub struct {
	clients map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event

	// done is closed when Run returns.
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.Default()
	}
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		done:       make(chan struct{}),
		log:        logger.Default().WithComponent("websocket"),
		metrics:    m,
	}
}

// Run processes registrations and events until ctx is cancelled, then
// closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			h.metrics.IncWSConnections()

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Register adds a client. It reports false once the hub has stopped, in
// which case the caller owns the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. After the hub has stopped it is a no-op since
// closeAll already released every client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) deliver(event *Event) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients[event.UserID] {
		select {
		case client.send <- event:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn(context.Background(), "dropping slow websocket client", map[string]interface{}{
			"user_id": client.userID.String(),
		})
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
	h.metrics.DecWSConnections()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.clients {
		for client := range clients {
			close(client.send)
			h.metrics.DecWSConnections()
		}
		delete(h.clients, userID)
	}
}

// Notify queues an event for userID. Events for users without a live
// connection are discarded by the hub; a full queue drops the event.
func (h *Hub) Notify(userID uuid.UUID, eventType string, payload any) {
	event := &Event{
		Type:      eventType,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn(context.Background(), "websocket event queue full", map[string]interface{}{
			"type":    eventType,
			"user_id": userID.String(),
		})
	}
}

// ClientCount returns the number of connections for a user.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TotalClients returns the number of connections across all users.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
