// Package driver hosts the transport tier. A Driver owns one transport
// (a listening socket, stdin) and hands raw payloads to the adapter
// sharing its protocol tag.
package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/projectcoral/coral/internal/adapter"
)

// reconnectDelay is the pause before a crashed driver is restarted.
const reconnectDelay = 3 * time.Second

// Driver owns a transport connection for one protocol.
type Driver interface {
	// Name identifies the driver instance in logs.
	Name() string
	// Protocol is the tag matching this driver to its adapter.
	Protocol() string
	// Start runs the transport until ctx is done or the transport
	// fails. A non-nil error triggers a supervised restart.
	Start(ctx context.Context) error
	// Stop tears the transport down.
	Stop(ctx context.Context) error
}

// Builder constructs a driver once its adapter is resolved.
type Builder func(a adapter.Adapter) Driver

// Manager binds drivers to adapters by protocol tag and supervises
// their lifecycles.
type Manager struct {
	adapters *adapter.Manager

	mu      sync.Mutex
	drivers []Driver
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a driver manager resolving adapters from am.
func NewManager(am *adapter.Manager) *Manager {
	return &Manager{adapters: am}
}

// Register resolves the adapter for protocolTag and builds the driver
// against it. A driver whose protocol has no adapter is skipped with a
// warning.
func (m *Manager) Register(protocolTag string, build Builder) {
	a, ok := m.adapters.Get(protocolTag)
	if !ok {
		slog.Warn("no adapter for driver, skipping", "protocol", protocolTag)
		return
	}
	d := build(a)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = append(m.drivers, d)
	slog.Info("driver registered", "driver", d.Name(), "protocol", d.Protocol())
}

// Drivers returns the registered drivers.
func (m *Manager) Drivers() []Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Driver(nil), m.drivers...)
}

// StartAll launches every driver under supervision: a driver returning
// an error is restarted after a short delay until ctx is done.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, d := range m.drivers {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				err := d.Start(runCtx)
				if runCtx.Err() != nil {
					return
				}
				if err != nil {
					slog.Error("driver stopped, restarting", "driver", d.Name(), "error", err, "delay", reconnectDelay)
				} else {
					slog.Warn("driver exited, restarting", "driver", d.Name(), "delay", reconnectDelay)
				}
				select {
				case <-runCtx.Done():
					return
				case <-time.After(reconnectDelay):
				}
			}
		}()
	}
}

// StopAll cancels supervision, stops every driver and waits for the
// run loops to finish.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	drivers := append([]Driver(nil), m.drivers...)
	m.mu.Unlock()

	for _, d := range drivers {
		if err := d.Stop(ctx); err != nil {
			slog.Warn("driver stop failed", "driver", d.Name(), "error", err)
		}
	}
	m.wg.Wait()
}
