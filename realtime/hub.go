package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"twinlink/logger"
	"twinlink/metrics"
)

const defaultBuffer = 32

// Subscriber receives the events of one user topic until it is closed.
type Subscriber struct {
	ID     string
	UserID string
	C      chan Event
}

// Hub is the in-process fan-out. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscriber]struct{}
	buffer  int
	log     *logger.Logger
	metrics *metrics.Manager
}

func NewHub(log *logger.Logger, m *metrics.Manager) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Subscriber]struct{}),
		buffer:  defaultBuffer,
		log:     log.With("component", "Hub"),
		metrics: m,
	}
}

// Subscribe registers a subscriber on the user's topic. The returned func
// unsubscribes and closes C; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (*Subscriber, func()) {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		UserID: userID,
		C:      make(chan Event, h.buffer),
	}
	topic := UserTopic(userID)

	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("subscriber added", "subscriberID", sub.ID, "topic", topic)

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[topic]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, topic)
				}
			}
			close(sub.C)
			h.mu.Unlock()
			h.log.Debug("subscriber removed", "subscriberID", sub.ID, "topic", topic)
		})
	}
}

// Publish delivers ev to every subscriber of its topic.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Deliver(ev)
	return nil
}

// Deliver is the non-blocking fan-out used by Publish and the redis forwarder.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.metrics.RecordEvent(string(ev.Type))
	for sub := range h.subs[ev.Topic()] {
		select {
		case sub.C <- ev:
		default:
			h.metrics.RecordEventDropped()
			h.log.Warn("subscriber buffer full, dropping event", "subscriberID", sub.ID, "type", ev.Type)
		}
	}
}

// Subscribers reports how many subscribers a user currently has.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[UserTopic(userID)])
}
