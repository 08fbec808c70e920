package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/projectcoral/coral/pkg/protocol"
)

func TestPublishPriorityOrder(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, ev protocol.Event) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	b.Subscribe(&protocol.MessageEvent{}, record("h1"), 10)
	b.Subscribe(&protocol.MessageEvent{}, record("h2"), 5)
	b.Subscribe(&protocol.MessageEvent{}, record("h3"), 5)

	b.Publish(context.Background(), &protocol.MessageEvent{Platform: "test"})

	want := []string{"h1", "h2", "h3"}
	if len(order) != len(want) {
		t.Fatalf("invoked %d handlers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestHandlerErrorDoesNotStopPropagation(t *testing.T) {
	b := New()

	var ran []string
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		ran = append(ran, "h1")
		return nil, nil
	}, 10)
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		ran = append(ran, "h2")
		return nil, errors.New("boom")
	}, 5)
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		ran = append(ran, "h3")
		return nil, nil
	}, 5)

	b.Publish(context.Background(), &protocol.MessageEvent{})

	if len(ran) != 3 {
		t.Fatalf("invoked %d handlers, want 3", len(ran))
	}
	if got := b.Metrics().Snapshot().TotalErrors; got != 1 {
		t.Errorf("TotalErrors = %d, want 1", got)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := New()

	var after bool
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		panic("handler exploded")
	}, 10)
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		after = true
		return nil, nil
	}, 5)

	b.Publish(context.Background(), &protocol.MessageEvent{})

	if !after {
		t.Error("handler after panicking handler did not run")
	}
	if got := b.Metrics().Snapshot().TotalErrors; got != 1 {
		t.Errorf("TotalErrors = %d, want 1", got)
	}
}

func TestMiddlewareAbortsPropagation(t *testing.T) {
	b := New()

	var invoked bool
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		invoked = true
		return nil, nil
	}, 5)
	b.Use(func(ctx context.Context, ev protocol.Event) protocol.Event {
		return nil
	})

	b.Publish(context.Background(), &protocol.MessageEvent{})

	if invoked {
		t.Error("handler ran despite middleware abort")
	}
}

func TestMiddlewareRewritesEvent(t *testing.T) {
	b := New()

	var seen string
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		seen = ev.(*protocol.MessageEvent).Platform
		return nil, nil
	}, 5)
	b.Use(func(ctx context.Context, ev protocol.Event) protocol.Event {
		me := *ev.(*protocol.MessageEvent)
		me.Platform = "rewritten"
		return &me
	})

	b.Publish(context.Background(), &protocol.MessageEvent{Platform: "original"})

	if seen != "rewritten" {
		t.Errorf("handler saw platform %q, want %q", seen, "rewritten")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	b.Publish(context.Background(), &protocol.GenericEvent{Name: "noop"})

	if got := b.PendingResults(); got != 0 {
		t.Errorf("PendingResults = %d, want 0", got)
	}
}

func TestResultRepublication(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Shutdown()

	received := make(chan *protocol.MessageRequest, 1)
	b.Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		received <- ev.(*protocol.MessageRequest)
		return nil, nil
	}, 5)
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		return ev.(*protocol.MessageEvent).ReplyText("pong"), nil
	}, 5)

	b.Publish(ctx, &protocol.MessageEvent{
		Platform: "test",
		SelfID:   "1",
		EventID:  "e1",
		User:     &protocol.UserInfo{Platform: "test", UserID: "42"},
	})

	select {
	case req := <-received:
		if got := req.Message.PlainText(); got != "pong" {
			t.Errorf("republished body = %q, want %q", got, "pong")
		}
		if req.EventID != "e1" {
			t.Errorf("republished event_id = %q, want %q", req.EventID, "e1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("result was not re-published")
	}
}

func TestLegacyStringCoercion(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Shutdown()

	received := make(chan *protocol.MessageRequest, 1)
	b.Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		received <- ev.(*protocol.MessageRequest)
		return nil, nil
	}, 5)
	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		return "legacy reply", nil
	}, 5)

	b.Publish(ctx, &protocol.MessageEvent{
		Platform: "test",
		SelfID:   "1",
		EventID:  "e2",
		User:     &protocol.UserInfo{Platform: "test", UserID: "42"},
		Group:    &protocol.GroupInfo{Platform: "test", GroupID: "7"},
	})

	select {
	case req := <-received:
		if got := req.Message.PlainText(); got != "legacy reply" {
			t.Errorf("coerced body = %q, want %q", got, "legacy reply")
		}
		if req.Platform != "test" || req.EventID != "e2" {
			t.Errorf("coerced context = %s/%s", req.Platform, req.EventID)
		}
		if req.Group == nil || req.Group.GroupID != "7" {
			t.Error("coerced request did not inherit group")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("legacy string was not coerced and re-published")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	var count int
	sub := b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		count++
		return nil, nil
	}, 5)

	b.Publish(context.Background(), &protocol.MessageEvent{})
	b.Unsubscribe(sub)
	b.Publish(context.Background(), &protocol.MessageEvent{})

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestQueueMetrics(t *testing.T) {
	b := New()

	b.Subscribe(&protocol.MessageEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		return &protocol.GenericEvent{Name: "follow-up"}, nil
	}, 5)

	// Worker not started: results pile up in the queue.
	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), &protocol.MessageEvent{})
	}

	snap := b.Metrics().Snapshot()
	if snap.MaxQueueSize != 3 {
		t.Errorf("MaxQueueSize = %d, want 3", snap.MaxQueueSize)
	}
	if snap.TotalEventsProcessed != 3 {
		t.Errorf("TotalEventsProcessed = %d, want 3", snap.TotalEventsProcessed)
	}
}
