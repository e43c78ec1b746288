package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"qms/queue-service/internal/metrics"

	"github.com/google/uuid"
)

// Subscription scopes a client to a tenant and optionally one branch or one
// ticket. Empty fields match everything.
type Subscription struct {
	TenantID string
	BranchID string
	TicketID string
}

// Change is what subscribers receive for every committed ticket mutation.
// Delivery is at least once and may be reordered, so clients re-read the
// ticket when they need its authoritative state.
type Change struct {
	Seq          int64     `json:"seq"`
	Type         string    `json:"type"`
	TenantID     string    `json:"tenant_id"`
	BranchID     string    `json:"branch_id"`
	ServiceID    string    `json:"service_id"`
	TicketID     string    `json:"ticket_id"`
	TicketNumber string    `json:"ticket_number"`
	Status       string    `json:"status"`
	ChangedAt    time.Time `json:"changed_at"`
}

type client struct {
	id   string
	send chan Change
	sub  Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	buffer  int
	metrics *metrics.Metrics
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	TenantID string `json:"tenant_id"`
	BranchID string `json:"branch_id"`
	TicketID string `json:"ticket_id"`
	Token    string `json:"token"`
}

func New(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{clients: make(map[string]*client), buffer: buffer, metrics: m}
}

// Subscribe registers a client until ctx ends; the channel is closed after
// the client is removed.
func (h *Hub) Subscribe(ctx context.Context, sub Subscription) <-chan Change {
	c := &client{id: uuid.NewString(), send: make(chan Change, h.buffer), sub: sub}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unregister(c)
	}()
	return c.send
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
}

// Publish hands the change to every matching client without blocking. A
// client whose buffer is full misses the change.
func (h *Hub) Publish(change Change) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if !match(c.sub, change) {
			continue
		}
		select {
		case c.send <- change:
			delivered++
		default:
			h.metrics.Dropped()
			log.Printf("drop change for client %s ticket=%s", c.id, change.TicketID)
		}
	}
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func match(sub Subscription, change Change) bool {
	if sub.TenantID != "" && change.TenantID != sub.TenantID {
		return false
	}
	if sub.BranchID != "" && change.BranchID != sub.BranchID {
		return false
	}
	if sub.TicketID != "" && change.TicketID != sub.TicketID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
