package events

import (
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// LifecycleSubjects matches every session lifecycle subject, e.g.
// session.started. It does not match session.outbox.failed.
const LifecycleSubjects = "session.*"

const streamBuffer = 32

// Hub fans lifecycle events out to live dashboard connections. A slow
// listener loses events rather than holding up the others.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan []byte
	nextID    uint64
	sub       *nats.Subscription
}

func NewHub() *Hub {
	return &Hub{listeners: map[uint64]chan []byte{}}
}

// Attach feeds the hub from NATS lifecycle subjects.
func (h *Hub) Attach(conn *nats.Conn) error {
	sub, err := conn.Subscribe(LifecycleSubjects, func(msg *nats.Msg) {
		h.Broadcast(msg.Data)
	})
	if err != nil {
		return err
	}
	h.sub = sub
	slog.Info("Session stream listening", slog.String("subject", LifecycleSubjects))
	return nil
}

func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.listeners {
		select {
		case ch <- data:
		default:
			slog.Debug("Dropping event for slow stream listener", slog.Uint64("listener", id))
		}
	}
}

// Listen registers a listener. The returned func unregisters it and closes
// the channel.
func (h *Hub) Listen() (<-chan []byte, func()) {
	ch := make(chan []byte, streamBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) Close() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Unsubscribe()
}
