package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func report(path string, n int) *protocol.PublishDiagnosticsParams {
	p := &protocol.PublishDiagnosticsParams{URI: uri.File(path), Version: 3, Diagnostics: []protocol.Diagnostic{}}
	for i := 0; i < n; i++ {
		p.Diagnostics = append(p.Diagnostics, protocol.Diagnostic{Message: "broken", Code: "broken-note-link"})
	}
	return p
}

// drain collects the messages buffered for ch after a short pause.
func drain(ch chan []byte, wait time.Duration) []string {
	time.Sleep(wait)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestBroadcastDelivery(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Broadcast(Event{Type: "recheck.done", Data: map[string]int{"checked": 2}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: recheck.done") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"checked":2`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishReport(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	if err := b.Publish(context.Background(), report("/vault/a.md", 2)); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		s := string(msg)
		for _, want := range []string{
			"event: diagnostics.published",
			`"uri":"file:///vault/a.md"`,
			`"version":3`,
			`"count":2`,
			`"code":"broken-note-link"`,
		} {
			if !strings.Contains(s, want) {
				t.Errorf("missing %s in %q", want, s)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishReport_EmptyDiagnostics(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_ = b.Publish(context.Background(), report("/vault/a.md", 0))
	msgs := drain(ch, 50*time.Millisecond)
	if len(msgs) != 1 || !strings.Contains(msgs[0], `"diagnostics":[]`) {
		t.Errorf("messages = %q", msgs)
	}
}

func TestSummaryThrottle(t *testing.T) {
	calls := 0
	b := NewBroker(200*time.Millisecond, func() any {
		calls++
		return map[string]int{"diagnostics": calls}
	})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := context.Background()
	_ = b.Publish(ctx, report("/vault/a.md", 1))
	_ = b.Publish(ctx, report("/vault/b.md", 1))
	_ = b.Publish(ctx, report("/vault/c.md", 1))

	count := func(msgs []string) (reports, summaries int) {
		for _, m := range msgs {
			if strings.Contains(m, "event: summary.updated") {
				summaries++
			} else {
				reports++
			}
		}
		return
	}

	reports, summaries := count(drain(ch, 50*time.Millisecond))
	if reports != 3 {
		t.Errorf("report events = %d, want 3", reports)
	}
	if summaries != 1 {
		t.Errorf("summary events = %d, want 1 before the throttle expires", summaries)
	}

	// The burst is closed by one trailing summary.
	_, summaries = count(drain(ch, 300*time.Millisecond))
	if summaries != 1 {
		t.Errorf("trailing summary events = %d, want 1", summaries)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	_ = b.Publish(ctx, report("/vault/x.md", 1))
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: diagnostics.published") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64 messages; the rest are dropped without blocking.
	for i := 0; i < 70; i++ {
		_ = b.Publish(context.Background(), report("/vault/a.md", 1))
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.Broadcast(Event{Type: "x", Data: map[string]string{}})
	if err := b.Publish(context.Background(), report("/vault/x.md", 0)); err != nil {
		t.Errorf("Publish after close = %v", err)
	}
}
