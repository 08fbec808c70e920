package adapter

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/pkg/protocol"
)

const (
	// outboundTimeout bounds one adapter outbound call.
	outboundTimeout = 30 * time.Second
	// outboundLimit caps concurrent outbound calls per manager.
	outboundLimit = 10
)

// Manager indexes adapters by protocol tag, routes outbound requests
// from the bus to them and keeps the directory of live bots.
type Manager struct {
	bus     *bus.EventBus
	timeout time.Duration
	sem     *semaphore.Weighted

	mu       sync.RWMutex
	adapters map[string]Adapter       // lowercase protocol -> adapter
	bots     map[string]*protocol.Bot // "<platform>/<selfID>" -> bot

	subs []*bus.Subscription
}

// NewManager creates an adapter manager wired to the bus.
func NewManager(b *bus.EventBus) *Manager {
	return &Manager{
		bus:      b,
		timeout:  outboundTimeout,
		sem:      semaphore.NewWeighted(outboundLimit),
		adapters: make(map[string]Adapter),
		bots:     make(map[string]*protocol.Bot),
	}
}

// SetTimeout overrides the outbound call deadline.
func (m *Manager) SetTimeout(d time.Duration) { m.timeout = d }

// Register indexes an adapter under its lowercase protocol tag.
func (m *Manager) Register(a Adapter) {
	key := strings.ToLower(a.Protocol())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[key]; ok {
		slog.Warn("adapter already registered, overwriting", "protocol", key)
	}
	m.adapters[key] = a
	slog.Info("adapter registered", "protocol", key)
}

// Get returns the adapter for a protocol tag, case-insensitive.
func (m *Manager) Get(protocolTag string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[strings.ToLower(protocolTag)]
	return a, ok
}

// Protocols returns the registered protocol tags, sorted.
func (m *Manager) Protocols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for key := range m.adapters {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Attach subscribes the manager to outbound requests on the bus.
// Responses are returned to the bus as results so interested handlers
// can observe them.
func (m *Manager) Attach() {
	m.subs = append(m.subs,
		m.bus.Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
			req := ev.(*protocol.MessageRequest)
			return m.dispatch(ctx, req.Platform, req.SelfID, func(ctx context.Context, a Adapter) (*protocol.BotResponse, error) {
				return a.HandleOutgoingMessage(ctx, req)
			}), nil
		}, 0),
		m.bus.Subscribe(&protocol.ActionRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
			req := ev.(*protocol.ActionRequest)
			return m.dispatch(ctx, req.Platform, req.SelfID, func(ctx context.Context, a Adapter) (*protocol.BotResponse, error) {
				return a.HandleOutgoingAction(ctx, req)
			}), nil
		}, 0),
	)
}

// Detach removes the bus subscriptions and clears the bot directory.
func (m *Manager) Detach() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
	m.subs = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots = make(map[string]*protocol.Bot)
}

// dispatch runs one outbound call under the timeout and the
// concurrency cap. Failures come back as failed responses, never as
// errors into the bus.
func (m *Manager) dispatch(ctx context.Context, platform, selfID string, call func(context.Context, Adapter) (*protocol.BotResponse, error)) *protocol.BotResponse {
	a, ok := m.Get(platform)
	if !ok {
		slog.Warn("no adapter for outbound request", "platform", platform)
		return protocol.Failed(platform, selfID, "no adapter for platform "+platform)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return protocol.Failed(platform, selfID, "outbound queue closed: "+err.Error())
	}
	defer m.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	callCtx, span := otel.Tracer("coral/adapter").Start(callCtx, "adapter.outbound")
	span.SetAttributes(attribute.String("platform", strings.ToLower(platform)))
	defer span.End()

	resp, err := call(callCtx, a)
	if err != nil {
		if callCtx.Err() != nil {
			slog.Error("adapter outbound call timed out", "platform", platform, "timeout", m.timeout)
			return protocol.Failed(platform, selfID, "outbound call timed out")
		}
		slog.Error("adapter outbound call failed", "platform", platform, "error", err)
		return protocol.Failed(platform, selfID, err.Error())
	}
	if resp == nil {
		resp = protocol.Failed(platform, selfID, "adapter returned no response")
	}
	return resp
}

// CreateBot registers a bot for a freshly connected driver and returns
// it. Fetchable afterwards by platform and self ID.
func (m *Manager) CreateBot(platform, selfID string, a Adapter, cfg map[string]any) *protocol.Bot {
	bot := protocol.NewBot(platform, selfID, a, cfg)
	key := botKey(platform, selfID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[key] = bot
	slog.Info("bot connected", "platform", platform, "self_id", selfID)
	return bot
}

// RemoveBot drops a bot on driver disconnect.
func (m *Manager) RemoveBot(platform, selfID string) {
	key := botKey(platform, selfID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[key]; ok {
		delete(m.bots, key)
		slog.Info("bot disconnected", "platform", platform, "self_id", selfID)
	}
}

// Bot fetches a live bot by platform and self ID.
func (m *Manager) Bot(platform, selfID string) (*protocol.Bot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bot, ok := m.bots[botKey(platform, selfID)]
	return bot, ok
}

// BotsByPlatform lists the live bots of one platform.
func (m *Manager) BotsByPlatform(platform string) []*protocol.Bot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := strings.ToLower(platform) + "/"
	var out []*protocol.Bot
	for key, bot := range m.bots {
		if strings.HasPrefix(key, prefix) {
			out = append(out, bot)
		}
	}
	return out
}

func botKey(platform, selfID string) string {
	return strings.ToLower(platform) + "/" + selfID
}
