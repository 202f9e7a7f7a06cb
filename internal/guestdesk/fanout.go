package guestdesk

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// LiveEvent is one dashboard update pushed to every connected viewer.
type LiveEvent struct {
	Type      string  `json:"type"`
	AppealID  int64   `json:"appeal_id,omitempty"`
	AppealIDs []int64 `json:"appeal_ids,omitempty"`
	Status    Status  `json:"status,omitempty"`
	Sender    string  `json:"sender,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func StatusUpdateEvent(appealID int64, status Status) LiveEvent {
	return LiveEvent{
		Type:      "status_update",
		AppealID:  appealID,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func NewMessageEvent(appealID int64, sender, message string) LiveEvent {
	return LiveEvent{
		Type:      "new_message",
		AppealID:  appealID,
		Sender:    sender,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func BulkUpdateEvent(appealIDs []int64, status Status) LiveEvent {
	return LiveEvent{
		Type:      "bulk_update",
		AppealIDs: appealIDs,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// FanoutConn is one live viewer. WriteEvent delivers a single encoded
// event; an error means the connection is dead.
type FanoutConn interface {
	WriteEvent(ctx context.Context, payload []byte) error
	Close() error
}

// Hub fans staff-action events out to connected dashboard viewers.
// Delivery is best effort: no buffering, no replay, and a connection
// that fails a write is dropped without disturbing the others.
type Hub struct {
	logger Logger

	mu    sync.Mutex
	conns map[FanoutConn]struct{}
}

func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{logger: logger, conns: map[FanoutConn]struct{}{}}
}

func (h *Hub) Register(conn FanoutConn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Printf("live feed: viewer connected (%d active)", total)
}

func (h *Hub) Unregister(conn FanoutConn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	total := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.logger.Printf("live feed: viewer disconnected (%d active)", total)
	}
}

// Broadcast sends the event to every registered connection. Connections
// whose write fails are unregistered and closed; the event itself is
// never retried.
func (h *Hub) Broadcast(ctx context.Context, event LiveEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("live feed: encode %s event: %v", event.Type, err)
		return
	}

	h.mu.Lock()
	targets := make([]FanoutConn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	var dead []FanoutConn
	for _, conn := range targets {
		if err := conn.WriteEvent(ctx, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		h.Unregister(conn)
		_ = conn.Close()
	}
}

// ActiveConns reports the current viewer count.
func (h *Hub) ActiveConns() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
