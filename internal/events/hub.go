// Package events fans run events out to per-session subscribers.
//
// Every live subscriber receives a complete, ordered copy of each session's
// events. Publish waits for a slow subscriber instead of dropping, so a
// subscriber must keep reading or unsubscribe; the publisher's context bounds
// that wait. Subscribers that attach late miss earlier events; there is no
// replay.
package events

import (
	"context"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

type subscriber struct {
	ch     chan models.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) deliver(ctx context.Context, ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Hub manages event subscribers for sessions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	bufferSize  int
}

// NewHub creates a hub. A non-positive buffer uses DefaultBufferSize.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a listener for a session. The channel is closed by
// the returned cancel func or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, sessionKey string) (<-chan models.Event, func()) {
	sub := &subscriber{
		ch:   make(chan models.Event, h.bufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	listeners := h.subscribers[sessionKey]
	if listeners == nil {
		listeners = make(map[*subscriber]struct{})
		h.subscribers[sessionKey] = listeners
	}
	listeners[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if listeners := h.subscribers[sessionKey]; listeners != nil {
				delete(listeners, sub)
				if len(listeners) == 0 {
					delete(h.subscribers, sessionKey)
				}
			}
			h.mu.Unlock()
			sub.close()
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-sub.done:
			}
		}()
	}
	return sub.ch, cancel
}

// Publish delivers ev to every current subscriber of the session and
// returns once each has buffered it or gone away. When ctx ends first the
// remaining deliveries are abandoned and ctx.Err() is returned.
func (h *Hub) Publish(ctx context.Context, sessionKey string, ev models.Event) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.RLock()
	listeners := h.subscribers[sessionKey]
	subs := make([]*subscriber, 0, len(listeners))
	for s := range listeners {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(ctx, ev) {
			return ctx.Err()
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers for a session.
func (h *Hub) SubscriberCount(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionKey])
}
