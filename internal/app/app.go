// Package app assembles the framework: config, bus, permissions,
// registry, plugins, adapters and drivers, in that order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/projectcoral/coral/internal/adapter"
	consoleadapter "github.com/projectcoral/coral/internal/adapter/console"
	"github.com/projectcoral/coral/internal/adapter/onebot"
	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/config"
	"github.com/projectcoral/coral/internal/crashlog"
	"github.com/projectcoral/coral/internal/driver"
	consoledriver "github.com/projectcoral/coral/internal/driver/console"
	"github.com/projectcoral/coral/internal/driver/reversews"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/internal/plugin"
	"github.com/projectcoral/coral/internal/registry"
	"github.com/projectcoral/coral/internal/telemetry"
	"github.com/projectcoral/coral/pkg/protocol"
)

// defaultCrashDB is where handler crash reports persist unless the
// config names another path.
const defaultCrashDB = "./coral_crashes.db"

// App owns every long-lived singleton for one process.
type App struct {
	cfgPath string
	cfg     *config.Config

	bus      *bus.EventBus
	perms    *perms.System
	crashes  *crashlog.Store
	registry *registry.Registry
	plugins  *plugin.Manager
	adapters *adapter.Manager
	drivers  *driver.Manager

	telemetryShutdown func(context.Context) error

	stopOnce sync.Once
	stopCh   chan struct{}

	// EnableConsole turns the stdin driver on. Off in tests and
	// non-interactive deployments.
	EnableConsole bool
}

// New builds the application from the config at cfgPath.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &App{
		cfgPath:       cfgPath,
		cfg:           cfg,
		stopCh:        make(chan struct{}),
		EnableConsole: true,
	}, nil
}

// Config exposes the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Bus exposes the event bus, mainly for tests.
func (a *App) Bus() *bus.EventBus { return a.bus }

// Registry exposes the handler registry, mainly for tests.
func (a *App) Registry() *registry.Registry { return a.registry }

// Plugins exposes the plugin manager.
func (a *App) Plugins() *plugin.Manager { return a.plugins }

// Bootstrap constructs and starts every subsystem. On error the caller
// should exit with code 1.
func (a *App) Bootstrap(ctx context.Context) error {
	start := time.Now()

	shutdown, err := telemetry.Setup(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.telemetryShutdown = shutdown

	a.bus = bus.New()

	a.perms, err = perms.New(a.cfg.PermFile)
	if err != nil {
		return fmt.Errorf("permission system: %w", err)
	}

	crashPath := defaultCrashDB
	if v, ok := a.cfg.Get("crashlog_file"); ok {
		if s, ok := v.(string); ok && s != "" {
			crashPath = s
		}
	}
	a.crashes, err = crashlog.Open(crashPath)
	if err != nil {
		slog.Warn("crash report store unavailable, continuing without persistence", "error", err)
		a.crashes = nil
	}

	a.registry = registry.New(a.bus, a.perms, a.crashes)

	a.adapters = adapter.NewManager(a.bus)
	a.adapters.Register(onebot.New(a.cfg.Section("onebotv11_adapter")))
	a.adapters.Register(consoleadapter.New(a.cfg.SelfID, nil))
	a.adapters.Attach()

	a.drivers = driver.NewManager(a.adapters)
	a.drivers.Register(onebot.ProtocolName, func(ad adapter.Adapter) driver.Driver {
		return reversews.New(a.cfg.WebSocketPort, a.cfg.SelfID, ad, a.adapters, a.bus)
	})
	if a.EnableConsole {
		a.drivers.Register(consoleadapter.ProtocolName, func(ad adapter.Adapter) driver.Driver {
			return consoledriver.New(a.cfg.SelfID, "> ", nil, nil, ad, a.adapters, a.bus)
		})
	}

	a.plugins = plugin.NewManager(a.cfg.PluginDir, a.bus, a.registry, a.perms, a.cfg.Section("plugins"))
	a.registerBuiltins()
	if err := a.plugins.LoadAll(ctx); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	if err := a.plugins.Watch(ctx); err != nil {
		slog.Warn("plugin directory watcher unavailable", "error", err)
	}

	a.bus.Start(ctx)
	a.drivers.StartAll(ctx)

	a.bus.Publish(ctx, &protocol.GenericEvent{
		Platform: "coral",
		SelfID:   "Coral",
		Name:     protocol.EventInitialized,
		Data:     map[string]any{"timestamp": protocol.Now()},
	})

	took := time.Since(start)
	if last := a.cfg.LastInitTime; last > 0 {
		slog.Info("coral initialized",
			"version", protocol.Version,
			"took", took,
			"last_boot", time.Unix(int64(last), 0).Format(time.RFC3339))
	} else {
		slog.Info("coral initialized", "version", protocol.Version, "took", took)
	}

	a.cfg.StampInit()
	if err := config.Save(a.cfgPath, a.cfg); err != nil {
		slog.Warn("failed to persist config stamps", "error", err)
	}
	return nil
}

// Run bootstraps and blocks until ctx is done or Stop is called, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Bootstrap(runCtx); err != nil {
		return err
	}

	select {
	case <-runCtx.Done():
	case <-a.stopCh:
	}

	a.shutdown(cancel)
	return nil
}

// Stop requests a graceful shutdown. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *App) shutdown(cancel context.CancelFunc) {
	slog.Info("coral shutting down")
	ctx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	a.bus.Publish(ctx, &protocol.GenericEvent{
		Platform: "coral",
		SelfID:   "Coral",
		Name:     protocol.EventShutdown,
		Data:     map[string]any{"timestamp": protocol.Now()},
	})

	a.plugins.UnloadAll(ctx)
	cancel()
	a.drivers.StopAll(ctx)
	a.adapters.Detach()
	a.bus.Shutdown()

	if a.crashes != nil {
		if err := a.crashes.Close(); err != nil {
			slog.Warn("crash store close failed", "error", err)
		}
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}
	slog.Info("coral stopped")
}
