// Package registry is the authoritative index of the names plugins
// expose: commands, named functions, and event subscriptions. Command
// dispatch is permission-gated and repeated handler failures trigger
// auto-disable.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/crashlog"
	"github.com/projectcoral/coral/pkg/protocol"
)

// DefaultCrashThreshold is how many crashes in the same (kind, name)
// unregister the entry.
const DefaultCrashThreshold = 3

// CommandHandler handles one command invocation. It may return a
// protocol event, a bare string (wrapped into a MessageRequest), or nil.
type CommandHandler func(ctx context.Context, ev *protocol.CommandEvent) (any, error)

// FunctionHandler is a named function invocable by other plugins.
type FunctionHandler func(ctx context.Context, args ...any) (any, error)

// EventHandler handles a named GenericEvent.
type EventHandler func(ctx context.Context, ev *protocol.GenericEvent) (any, error)

// PermChecker gates command dispatch. Implemented by perms.System.
type PermChecker interface {
	Check(perms []string, userID, groupID string) bool
}

type commandEntry struct {
	description string
	handler     CommandHandler
	permissions []string // any-of; empty means unrestricted
	owner       string   // owning plugin, "" for built-ins
}

type functionEntry struct {
	handler FunctionHandler
	owner   string
}

type eventEntry struct {
	sub   *bus.Subscription
	owner string
}

type crashKey struct {
	kind string
	name string
}

// Registry indexes commands, functions and event subscriptions.
type Registry struct {
	mu        sync.RWMutex
	bus       *bus.EventBus
	perms     PermChecker
	crashes   *crashlog.Store // optional persistent report writer
	commands  map[string]*commandEntry
	functions map[string]*functionEntry
	events    map[string]map[string]*eventEntry // event name -> listener name

	crashMu     sync.Mutex
	crashCounts map[crashKey]int
	threshold   int

	noCommandMsg string
}

// New creates a registry bound to the bus and permission checker.
// crashes may be nil when persistent crash reports are disabled.
func New(b *bus.EventBus, checker PermChecker, crashes *crashlog.Store) *Registry {
	return &Registry{
		bus:          b,
		perms:        checker,
		crashes:      crashes,
		commands:     make(map[string]*commandEntry),
		functions:    make(map[string]*functionEntry),
		events:       make(map[string]map[string]*eventEntry),
		crashCounts:  make(map[crashKey]int),
		threshold:    DefaultCrashThreshold,
		noCommandMsg: "No command found",
	}
}

// SetNoCommandMessage overrides the unknown-command reply body.
func (r *Registry) SetNoCommandMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg != "" {
		r.noCommandMsg = msg
	}
}

// SetCrashThreshold overrides the auto-disable crash count.
func (r *Registry) SetCrashThreshold(n int) {
	r.crashMu.Lock()
	defer r.crashMu.Unlock()
	if n > 0 {
		r.threshold = n
	}
}

// RegisterCommand indexes a command. permissions are any-of; an empty
// list means unrestricted. A duplicate name overwrites with a warning.
func (r *Registry) RegisterCommand(name, description string, handler CommandHandler, permissions ...string) {
	r.RegisterCommandOwned("", name, description, handler, permissions...)
}

// RegisterCommandOwned is RegisterCommand with an owning plugin for
// purge-on-unload.
func (r *Registry) RegisterCommandOwned(owner, name, description string, handler CommandHandler, permissions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		slog.Warn("command already registered, overwriting", "command", name)
	}
	r.commands[name] = &commandEntry{
		description: description,
		handler:     handler,
		permissions: permissions,
		owner:       owner,
	}
}

// UnregisterCommand removes a command.
func (r *Registry) UnregisterCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// RegisterFunction indexes a named function. Duplicates are an error.
func (r *Registry) RegisterFunction(name string, handler FunctionHandler) error {
	return r.RegisterFunctionOwned("", name, handler)
}

// RegisterFunctionOwned is RegisterFunction with an owning plugin.
func (r *Registry) RegisterFunctionOwned(owner, name string, handler FunctionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.functions[name]; ok {
		return fmt.Errorf("function %s already registered", name)
	}
	r.functions[name] = &functionEntry{handler: handler, owner: owner}
	return nil
}

// UnregisterFunction removes a named function.
func (r *Registry) UnregisterFunction(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.functions, name)
}

// RegisterEvent subscribes handler to GenericEvents whose name matches
// eventName. The (eventName, listenerName) pair must be unique.
func (r *Registry) RegisterEvent(eventName, listenerName string, handler EventHandler, priority int) error {
	return r.RegisterEventOwned("", eventName, listenerName, handler, priority)
}

// RegisterEventOwned is RegisterEvent with an owning plugin.
func (r *Registry) RegisterEventOwned(owner, eventName, listenerName string, handler EventHandler, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners := r.events[eventName]
	if listeners == nil {
		listeners = make(map[string]*eventEntry)
		r.events[eventName] = listeners
	}
	if _, ok := listeners[listenerName]; ok {
		return fmt.Errorf("listener %s already registered for event %s", listenerName, eventName)
	}

	// The wrapper filters by name and feeds crashes into the ledger.
	sub := r.bus.Subscribe(&protocol.GenericEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		ge, ok := ev.(*protocol.GenericEvent)
		if !ok || ge.Name != eventName {
			return nil, nil
		}
		result, err := handler(ctx, ge)
		if err != nil {
			r.crashRecord(ctx, "event", listenerName, err)
			return nil, err
		}
		return result, nil
	}, priority)

	listeners[listenerName] = &eventEntry{sub: sub, owner: owner}
	return nil
}

// UnregisterEvent removes a listener and its bus subscription.
func (r *Registry) UnregisterEvent(eventName, listenerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterEventLocked(eventName, listenerName)
}

func (r *Registry) unregisterEventLocked(eventName, listenerName string) {
	listeners := r.events[eventName]
	entry, ok := listeners[listenerName]
	if !ok {
		return
	}
	r.bus.Unsubscribe(entry.sub)
	delete(listeners, listenerName)
	if len(listeners) == 0 {
		delete(r.events, eventName)
	}
}

// HasEventListeners reports whether anything listens for eventName.
func (r *Registry) HasEventListeners(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events[eventName]) > 0
}

// Commands returns command names with their descriptions.
func (r *Registry) Commands() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.commands))
	for name, e := range r.commands {
		out[name] = e.description
	}
	return out
}

// CommandNames returns the sorted command names.
func (r *Registry) CommandNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteCommand dispatches a CommandEvent: permission check, handler
// invocation, result wrapping. Failures never escape as errors; the
// returned event is always safe to publish.
func (r *Registry) ExecuteCommand(ctx context.Context, ev *protocol.CommandEvent) protocol.Event {
	r.mu.RLock()
	entry, ok := r.commands[ev.Command]
	noCommandMsg := r.noCommandMsg
	r.mu.RUnlock()

	if !ok {
		return protocol.NewMessageRequest(ev).Text(noCommandMsg).Build()
	}

	if len(entry.permissions) > 0 && r.perms != nil {
		userID := ""
		if ev.User != nil {
			userID = ev.User.UserID
		}
		if !r.perms.Check(entry.permissions, userID, ev.GroupID()) {
			return protocol.NewMessageRequest(ev).Text("Permission denied").Build()
		}
	}

	result, err := r.invokeCommand(ctx, entry.handler, ev)
	if err != nil {
		r.crashRecord(ctx, "command", ev.Command, err)
		return protocol.NewMessageRequest(ev).
			Text(fmt.Sprintf("Error executing command: %v", err)).
			Build()
	}

	switch v := result.(type) {
	case nil:
		return nil
	case protocol.Event:
		return v
	case string:
		return protocol.NewMessageRequest(ev).Text(v).Build()
	default:
		slog.Warn("command returned unsupported type, dropping", "command", ev.Command, "type", fmt.Sprintf("%T", v))
		return nil
	}
}

func (r *Registry) invokeCommand(ctx context.Context, h CommandHandler, ev *protocol.CommandEvent) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, ev)
}

// ExecuteFunction invokes a named function. Errors are crash-recorded
// and reported as a nil result.
func (r *Registry) ExecuteFunction(ctx context.Context, name string, args ...any) any {
	r.mu.RLock()
	entry, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("function not registered", "function", name)
		return nil
	}

	result, err := r.invokeFunction(ctx, entry.handler, args...)
	if err != nil {
		r.crashRecord(ctx, "function", name, err)
		return nil
	}
	return result
}

func (r *Registry) invokeFunction(ctx context.Context, h FunctionHandler, args ...any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h(ctx, args...)
}

// ExecuteEvent publishes a named GenericEvent on the bus.
func (r *Registry) ExecuteEvent(ctx context.Context, name, platform string, data map[string]any) {
	r.bus.Publish(ctx, &protocol.GenericEvent{
		Platform: platform,
		SelfID:   "Coral",
		Name:     name,
		Data:     data,
	})
}

// PurgeOwner removes every command, function and event listener that a
// plugin registered. Called by the plugin manager on unload.
func (r *Registry) PurgeOwner(owner string) {
	if owner == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.commands {
		if e.owner == owner {
			delete(r.commands, name)
		}
	}
	for name, e := range r.functions {
		if e.owner == owner {
			delete(r.functions, name)
		}
	}
	for eventName, listeners := range r.events {
		for listenerName, e := range listeners {
			if e.owner == owner {
				r.bus.Unsubscribe(e.sub)
				delete(listeners, listenerName)
			}
		}
		if len(listeners) == 0 {
			delete(r.events, eventName)
		}
	}
}

// crashRecord counts a handler failure and unregisters the entry once
// the threshold is reached. Reports are also written to the persistent
// crash log when one is configured.
func (r *Registry) crashRecord(ctx context.Context, kind, name string, cause error) {
	slog.Error("handler crashed", "kind", kind, "name", name, "error", cause)

	if r.crashes != nil {
		if err := r.crashes.Record(ctx, kind, name, cause.Error()); err != nil {
			slog.Error("failed to persist crash report", "error", err)
		}
	}

	r.crashMu.Lock()
	key := crashKey{kind: kind, name: name}
	r.crashCounts[key]++
	count := r.crashCounts[key]
	threshold := r.threshold
	r.crashMu.Unlock()

	if count < threshold {
		return
	}

	slog.Warn("auto-disabling after repeated crashes", "kind", kind, "name", name, "crashes", count)
	switch kind {
	case "command":
		r.UnregisterCommand(name)
	case "function":
		r.UnregisterFunction(name)
	case "event":
		r.unregisterListenerEverywhere(name)
	}
}

func (r *Registry) unregisterListenerEverywhere(listenerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eventName, listeners := range r.events {
		if _, ok := listeners[listenerName]; ok {
			r.unregisterEventLocked(eventName, listenerName)
		}
	}
}

// CrashCount reports the recorded crashes for (kind, name).
func (r *Registry) CrashCount(kind, name string) int {
	r.crashMu.Lock()
	defer r.crashMu.Unlock()
	return r.crashCounts[crashKey{kind: kind, name: name}]
}
