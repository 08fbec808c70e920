package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/internal/registry"
)

// Plugin is the code side of a plugin. Implementations are compiled in
// and register a factory under their manifest name; the manager pairs
// them with the on-disk manifest at load time.
type Plugin interface {
	// Load wires the plugin into the framework. Registrations made
	// through the API are owned by the plugin and removed on unload.
	Load(ctx context.Context, api *API) error
	// Unload releases anything Load acquired beyond API registrations.
	Unload(ctx context.Context) error
}

// Factory constructs a fresh plugin instance per load.
type Factory func() Plugin

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory binds a plugin name to its constructor. Typically
// called from an init function in the plugin's package. Registering the
// same name twice panics: that is a build mistake, not a runtime
// condition.
func RegisterFactory(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, ok := factories[name]; ok {
		panic(fmt.Sprintf("plugin factory %q registered twice", name))
	}
	factories[name] = f
}

func lookupFactory(name string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// FactoryNames returns the registered factory names, sorted.
func FactoryNames() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// API is the surface a plugin sees at load time. Registration helpers
// record the plugin as owner so everything can be purged on unload.
type API struct {
	PluginName string
	Bus        *bus.EventBus
	Registry   *registry.Registry
	Perms      *perms.System
	Config     map[string]any
}

// RegisterCommand registers a chat command owned by this plugin.
func (a *API) RegisterCommand(name, description string, handler registry.CommandHandler, permissions ...string) {
	a.Registry.RegisterCommandOwned(a.PluginName, name, description, handler, permissions...)
}

// RegisterFunction registers a callable function owned by this plugin.
func (a *API) RegisterFunction(name string, handler registry.FunctionHandler) error {
	return a.Registry.RegisterFunctionOwned(a.PluginName, name, handler)
}

// RegisterEvent subscribes a named listener owned by this plugin.
func (a *API) RegisterEvent(eventName, listenerName string, handler registry.EventHandler, priority int) error {
	return a.Registry.RegisterEventOwned(a.PluginName, eventName, listenerName, handler, priority)
}

// RegisterPerm declares a permission node for this plugin.
func (a *API) RegisterPerm(perm, description string) {
	a.Perms.RegisterPerm(perm, description)
}

// CallFunction invokes a function registered by any plugin.
func (a *API) CallFunction(ctx context.Context, name string, args ...any) any {
	return a.Registry.ExecuteFunction(ctx, name, args...)
}
