// Package feed fans committed changes out to connected terminals so they can
// re-read the collections that moved.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	ProductChanged      EventType = "product.changed"
	ProductDeleted      EventType = "product.deleted"
	OrderChanged        EventType = "order.changed"
	OrderRemoved        EventType = "order.removed"
	PaymentChanged      EventType = "payment.changed"
	NotificationCreated EventType = "notification.created"
	NotificationsRead   EventType = "notification.read"
)

type Event struct {
	Type     EventType `json:"type"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"at"`
	Origin   string    `json:"origin,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Hub is an in-process broadcaster. A subscriber that falls behind loses
// events rather than stalling the writer that published them.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[int]chan Event), logger: logger}
}

func (h *Hub) Publish(_ context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("feed subscriber lagging, event dropped", zap.Int("subscriber", id), zap.String("type", string(event.Type)))
		}
	}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release it; the channel is closed afterwards.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
