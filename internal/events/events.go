// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package events fans library events out to SSE clients and the desktop UI.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	BookImported   Type = "book_imported"
	BookDeleted    Type = "book_deleted"
	ImportFailed   Type = "import_failed"
	IndexStarted   Type = "index_started"
	IndexProgress  Type = "index_progress"
	IndexCompleted Type = "index_completed"
	IndexFailed    Type = "index_failed"
	OllamaStatus   Type = "ollama_status"
)

// Event is the payload sent to subscribers.
type Event struct {
	Type   Type           `json:"type"`
	BookID string         `json:"book_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Time   time.Time      `json:"time"`
}

// Hub broadcasts events to every subscriber.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Event]bool
	closed  bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]bool)}
}

// Subscribe listens for events. The channel is buffered; events are dropped
// for subscribers that fall behind.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, 100)
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = true
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Publish sends e to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
			// slow client
		}
	}
}

// Emit is shorthand for publishing a typed event about a book.
func (h *Hub) Emit(t Type, bookID string, data map[string]any) {
	h.Publish(Event{Type: t, BookID: bookID, Data: data})
}

// Subscribers reports how many listeners are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
	}
	h.clients = make(map[chan Event]bool)
	h.closed = true
}
