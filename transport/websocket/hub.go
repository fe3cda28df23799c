package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// DefaultSendBuffer is the number of outbound messages queued per subscriber
// before it is considered too slow and dropped.
const DefaultSendBuffer = 256

// Message is the outbound envelope sent to subscribers.
type Message struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscriber is one connection's outbound queue. The hub only ever writes to
// send; closing it tells the write pump to hang up.
type Subscriber struct {
	ID   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewSubscriber creates a subscriber with a queue of size buffer.
func NewSubscriber(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Subscriber{ID: id, send: make(chan []byte, buffer)}
}

// Send returns the channel the write pump drains.
func (s *Subscriber) Send() <-chan []byte {
	return s.send
}

// enqueue reports false when the queue is full or already closed.
func (s *Subscriber) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the queue once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Hub maintains the set of subscribers per session and fans messages out to
// them. Publish never blocks on a slow subscriber.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Subscriber

	sendBuffer int
	logger     *zap.Logger
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets the per-subscriber queue size.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sessions:   make(map[string]map[string]*Subscriber),
		sendBuffer: DefaultSendBuffer,
		logger:     logger.Named("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewSubscriber creates a subscriber sized to the hub's send buffer.
func (h *Hub) NewSubscriber(id string) *Subscriber {
	return NewSubscriber(id, h.sendBuffer)
}

// Subscribe adds sub to the topic of sessionID. A previous subscriber with the
// same id is replaced and closed.
func (h *Hub) Subscribe(sessionID string, sub *Subscriber) {
	h.mu.Lock()
	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.sessions[sessionID] = subs
	}
	prev := subs[sub.ID]
	subs[sub.ID] = sub
	total := len(subs)
	h.mu.Unlock()

	if prev != nil && prev != sub {
		prev.Close()
	}

	h.logger.Debug("subscriber registered",
		zap.String("session_id", sessionID),
		zap.String("connection_id", sub.ID),
		zap.Int("subscribers", total))
}

// Unsubscribe removes connID from the topic of sessionID. The subscriber's
// queue is left open; the owner decides when to close it.
func (h *Hub) Unsubscribe(sessionID, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(sessionID, connID, nil)
}

// SubscriberCount returns the number of subscribers of sessionID.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SessionCount returns the number of topics with at least one subscriber.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish sends event to every current subscriber of sessionID exactly once
// and returns how many accepted it. Subscribers whose queue is full are
// closed and removed; they must rejoin to resynchronize.
func (h *Hub) Publish(sessionID, event string, data interface{}) int {
	payload, err := json.Marshal(Message{Event: event, SessionID: sessionID, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal message",
			zap.String("session_id", sessionID),
			zap.String("event", event),
			zap.Error(err))
		return 0
	}

	var overflowed []*Subscriber
	delivered := 0

	h.mu.RLock()
	for _, sub := range h.sessions[sessionID] {
		if sub.enqueue(payload) {
			delivered++
		} else {
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	if len(overflowed) > 0 {
		h.mu.Lock()
		for _, sub := range overflowed {
			h.removeLocked(sessionID, sub.ID, sub)
		}
		h.mu.Unlock()

		for _, sub := range overflowed {
			sub.Close()
			h.logger.Warn("dropping slow subscriber",
				zap.String("session_id", sessionID),
				zap.String("connection_id", sub.ID))
		}
	}

	return delivered
}

// SendTo delivers a message to a single subscriber without touching any
// topic. Used for replies scoped to one connection.
func (h *Hub) SendTo(sub *Subscriber, sessionID, event string, data interface{}) bool {
	payload, err := json.Marshal(Message{Event: event, SessionID: sessionID, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("event", event), zap.Error(err))
		return false
	}
	return sub.enqueue(payload)
}

// removeLocked deletes connID from sessionID. When only is non-nil the entry
// is removed only if it is still that subscriber.
func (h *Hub) removeLocked(sessionID, connID string, only *Subscriber) bool {
	subs, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	cur, ok := subs[connID]
	if !ok || (only != nil && cur != only) {
		return false
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}

	h.logger.Debug("subscriber unregistered",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connID),
		zap.Int("remaining", len(subs)))
	return true
}
