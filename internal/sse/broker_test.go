package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/devpulse/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
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

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "change.recorded", Data: map[string]string{"project": "a"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: change.recorded") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"project":"a"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishChangeRecorded_SummaryThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First change per project triggers summary.updated.
	b.PublishChangeRecorded("shop", models.Change{ID: 1, Summary: "Added login"})
	// Second change immediately should NOT trigger another one.
	b.PublishChangeRecorded("shop", models.Change{ID: 2})
	// Other projects are throttled independently.
	b.PublishChangeRecorded("blog", models.Change{ID: 3})
	// Drops never touch the summary.
	b.PublishBatchDropped("shop", "model unavailable", 4)

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	counts := map[string]int{}
	var first string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if first == "" {
				first = s
			}
			for _, typ := range []string{EventChangeRecorded, EventSummaryUpdated, EventBatchDropped} {
				if strings.HasPrefix(s, "event: "+typ+"\n") {
					counts[typ]++
				}
			}
		default:
			break loop
		}
	}

	if counts[EventChangeRecorded] != 3 {
		t.Errorf("change events = %d, want 3", counts[EventChangeRecorded])
	}
	if counts[EventSummaryUpdated] != 2 {
		t.Errorf("summary events = %d, want 2 (one per project)", counts[EventSummaryUpdated])
	}
	if counts[EventBatchDropped] != 1 {
		t.Errorf("dropped events = %d, want 1", counts[EventBatchDropped])
	}
	if !strings.Contains(first, `"project":"shop"`) || !strings.Contains(first, `"summary":"Added login"`) {
		t.Errorf("unexpected payload %q", first)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
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

	b.Publish(Event{Type: "change.recorded", Data: map[string]string{"project": "x"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: change.recorded") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
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

	// Should be safe no-op after close.
	b.Publish(Event{Type: "change.recorded", Data: map[string]string{"project": "x"}})
	b.PublishBatchDropped("x", "stopped", 1)
}
