package bus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/projectcoral/coral/pkg/protocol"
)

const (
	// resultBatchSize is how many queued results the worker drains per tick.
	resultBatchSize = 10
	// resultPollInterval is the worker's poll timeout.
	resultPollInterval = 100 * time.Millisecond
	// queueSoftLimit is the advisory cap on the result queue. Items over
	// the limit are still accepted; a warning is logged once per breach.
	queueSoftLimit = 1000
)

// Handler processes one published event. A non-nil result is enqueued on
// the result queue and re-published. A returned error is counted and
// logged but never stops propagation to later handlers.
type Handler func(ctx context.Context, ev protocol.Event) (any, error)

// Middleware inspects or rewrites an event before handler dispatch.
// Returning nil aborts propagation of the event.
type Middleware func(ctx context.Context, ev protocol.Event) protocol.Event

// Subscription identifies one registered handler for unsubscribe.
type Subscription struct {
	eventType reflect.Type
	priority  int
	seq       int64
	handler   Handler
}

// EventBus is a typed, prioritized pub/sub with a result queue that
// re-publishes non-nil handler return values.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[reflect.Type][]*Subscription
	middlewares []Middleware
	nextSeq     int64

	queueMu sync.Mutex
	queue   []queuedResult

	workerCancel context.CancelFunc
	workerDone   chan struct{}

	metrics Metrics
}

type queuedResult struct {
	value  any
	origin protocol.Event
}

// New creates an event bus. Call Start to run the result worker.
func New() *EventBus {
	return &EventBus{
		subscribers: make(map[reflect.Type][]*Subscription),
	}
}

// Subscribe registers a handler for the concrete type of prototype.
// Handlers for one type run in descending priority order; equal
// priorities run in registration order.
func (b *EventBus) Subscribe(prototype protocol.Event, handler Handler, priority int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	sub := &Subscription{
		eventType: reflect.TypeOf(prototype),
		priority:  priority,
		seq:       b.nextSeq,
		handler:   handler,
	}

	subs := append(b.subscribers[sub.eventType], sub)
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.subscribers[sub.eventType] = subs

	return sub
}

// Unsubscribe removes a previously registered handler.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Use appends a middleware to the chain. Middlewares run in
// registration order before any handler dispatch.
func (b *EventBus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

// Publish runs the middleware chain, then every subscribed handler for
// the event's concrete type in priority order. Handler errors and
// panics are counted and logged; they never stop propagation.
func (b *EventBus) Publish(ctx context.Context, ev protocol.Event) {
	if ev == nil {
		return
	}

	start := time.Now()
	eventType := reflect.TypeOf(ev)

	ctx, span := otel.Tracer("coral/bus").Start(ctx, "bus.publish")
	span.SetAttributes(attribute.String("event.type", eventType.String()))
	defer span.End()

	b.mu.RLock()
	middlewares := b.middlewares
	subs := make([]*Subscription, len(b.subscribers[eventType]))
	copy(subs, b.subscribers[eventType])
	b.mu.RUnlock()

	for _, mw := range middlewares {
		next, err := b.runMiddleware(ctx, mw, ev)
		if err != nil {
			b.metrics.recordError()
			slog.Error("middleware failed, dropping event", "event", eventType.String(), "error", err)
			return
		}
		if next == nil {
			slog.Debug("middleware aborted event", "event", eventType.String())
			return
		}
		ev = next
	}

	for _, sub := range subs {
		result, err := b.invoke(ctx, sub.handler, ev)
		if err != nil {
			b.metrics.recordError()
			slog.Error("handler failed", "event", eventType.String(), "error", err)
			continue
		}
		if result != nil {
			b.enqueueResult(result, ev)
		}
	}

	b.metrics.recordEvent(time.Since(start).Seconds())
}

// runMiddleware calls a middleware, translating a panic into an error.
func (b *EventBus) runMiddleware(ctx context.Context, mw Middleware, ev protocol.Event) (next protocol.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware panic: %v", r)
		}
	}()
	return mw(ctx, ev), nil
}

// invoke calls a handler, translating a panic into an error.
func (b *EventBus) invoke(ctx context.Context, h Handler, ev protocol.Event) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func (b *EventBus) enqueueResult(value any, origin protocol.Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, queuedResult{value: value, origin: origin})
	size := len(b.queue)
	b.queueMu.Unlock()

	b.metrics.recordQueueSize(size)
	if size > queueSoftLimit {
		slog.Warn("result queue over soft limit", "size", size, "limit", queueSoftLimit)
	}
}

// Start launches the result-queue worker. Idempotent per lifecycle:
// call Shutdown before starting again.
func (b *EventBus) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	b.workerCancel = cancel
	b.workerDone = make(chan struct{})
	go b.resultWorker(workerCtx)
	slog.Info("event bus started")
}

// Shutdown stops the result worker and waits for it to drain its
// current batch.
func (b *EventBus) Shutdown() {
	if b.workerCancel == nil {
		return
	}
	b.workerCancel()
	<-b.workerDone
	b.workerCancel = nil
	slog.Info("event bus stopped")
}

// resultWorker drains the result queue in batches and re-publishes
// each item. String results are legacy-coerced into MessageRequests.
func (b *EventBus) resultWorker(ctx context.Context) {
	defer close(b.workerDone)

	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainBatch(ctx)
		}
	}
}

func (b *EventBus) drainBatch(ctx context.Context) {
	b.queueMu.Lock()
	n := len(b.queue)
	if n > resultBatchSize {
		n = resultBatchSize
	}
	batch := make([]queuedResult, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	remaining := len(b.queue)
	b.queueMu.Unlock()

	b.metrics.recordQueueSize(remaining)

	for _, item := range batch {
		start := time.Now()
		switch v := item.value.(type) {
		case protocol.Event:
			b.Publish(ctx, v)
		case string:
			req := coerceLegacyString(v, item.origin)
			if req != nil {
				slog.Warn("handler returned a bare string, coercing to MessageRequest (deprecated)",
					"origin", reflect.TypeOf(item.origin).String())
				b.Publish(ctx, req)
			}
		default:
			slog.Warn("dropping non-event handler result", "type", fmt.Sprintf("%T", item.value))
		}
		b.metrics.recordResult(time.Since(start).Seconds())
	}
}

// coerceLegacyString wraps a bare string result in a MessageRequest
// inheriting platform, event, user and group from the originating event.
func coerceLegacyString(body string, origin protocol.Event) *protocol.MessageRequest {
	if origin == nil {
		return nil
	}
	return protocol.NewMessageRequest(origin).Text(body).Build()
}

// Metrics returns the bus metrics for read-only snapshots.
func (b *EventBus) Metrics() *Metrics { return &b.metrics }

// PendingResults reports the current result-queue depth.
func (b *EventBus) PendingResults() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}
