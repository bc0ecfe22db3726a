// Package sse streams diagnostic reports to browser clients as Server-Sent
// Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.lsp.dev/protocol"
)

// Event types written to the stream.
const (
	EventDiagnostics = "diagnostics.published"
	EventSummary     = "summary.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DiagnosticsData is the payload of a diagnostics.published event.
type DiagnosticsData struct {
	URI         string                `json:"uri"`
	Version     uint32                `json:"version"`
	Count       int                   `json:"count"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics"`
}

// SummaryFunc returns the payload of a summary.updated event.
type SummaryFunc func() any

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the client set and the summary throttle state.
// Public methods talk to it over channels.
type Broker struct {
	summaryMin time.Duration
	summary    SummaryFunc

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	reportCh      chan *protocol.PublishDiagnosticsParams
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. summary.updated events are sent at most once
// per throttle interval; a nil summary disables them.
func NewBroker(throttle time.Duration, summary SummaryFunc) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		summaryMin:    throttle,
		summary:       summary,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		reportCh:      make(chan *protocol.PublishDiagnosticsParams, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastSummary time.Time
		trailing    *time.Timer
		trailingCh  <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendSummary := func() {
		lastSummary = time.Now()
		broadcast(Event{Type: EventSummary, Data: b.summary()})
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case report := <-b.reportCh:
			broadcast(Event{Type: EventDiagnostics, Data: DiagnosticsData{
				URI:         string(report.URI),
				Version:     report.Version,
				Count:       len(report.Diagnostics),
				Diagnostics: report.Diagnostics,
			}})

			if b.summary == nil || trailingCh != nil {
				continue
			}
			if wait := b.summaryMin - time.Since(lastSummary); wait > 0 {
				// Throttled: one trailing summary covers the burst.
				if trailing == nil {
					trailing = time.NewTimer(wait)
				} else {
					trailing.Reset(wait)
				}
				trailingCh = trailing.C
				continue
			}
			sendSummary()

		case <-trailingCh:
			trailingCh = nil
			sendSummary()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Broadcast sends an arbitrary event to all connected clients.
func (b *Broker) Broadcast(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Publish streams a diagnostic report followed by a throttled summary.
// It satisfies workspace.Publisher.
func (b *Broker) Publish(ctx context.Context, report *protocol.PublishDiagnosticsParams) error {
	if b.closed.Load() || report == nil {
		return nil
	}
	select {
	case b.reportCh <- report:
		return nil
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
