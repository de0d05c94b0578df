// Package events streams batch progress to browsers over server-sent events.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
)

const (
	channelBuffer = 64
	heartbeat     = 30 * time.Second
)

// message is one SSE frame
type message struct {
	event string
	data  string
}

// client represents a single SSE connection
type client struct {
	ch chan message
}

// Broadcaster fans batch events out to every connected client
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]struct{}),
	}
}

func (b *Broadcaster) register() *client {
	c := &client{ch: make(chan message, channelBuffer)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

func (b *Broadcaster) unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.ch)
	}
	b.mu.Unlock()
}

// Broadcast sends a named event to all clients. Slow clients miss frames
// instead of blocking the run.
func (b *Broadcaster) Broadcast(event, data string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		select {
		case c.ch <- message{event: event, data: data}:
		default:
		}
	}
}

// Observe is a batch.Observer
func (b *Broadcaster) Observe(e batch.Event) {
	var payload any
	switch e.Kind {
	case batch.EventItem:
		payload = e.Item
	case batch.EventState:
		payload = e.State
	case batch.EventDone:
		payload = e.Summary
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Unable to encode batch event", "kind", e.Kind, "err", err)
		return
	}
	b.Broadcast(string(e.Kind), string(data))
}

// ClientCount returns the number of connected clients
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP streams events until the request is cancelled
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.register()
	defer b.unregister(c)

	// flush headers so clients see the stream open before the first event
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-c.ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, msg.data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
