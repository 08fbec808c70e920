// Package echo is a small built-in plugin: it registers the echo
// command and greets the framework on startup. It doubles as the
// reference for writing compiled-in plugins.
package echo

import (
	"context"
	"log/slog"
	"strings"

	"github.com/projectcoral/coral/internal/plugin"
	"github.com/projectcoral/coral/pkg/protocol"
)

func init() {
	plugin.RegisterFactory("echo", func() plugin.Plugin { return &Echo{} })
}

// Echo repeats command arguments back to the sender.
type Echo struct{}

// Load registers the echo command and an init listener.
func (e *Echo) Load(ctx context.Context, api *plugin.API) error {
	api.RegisterCommand("echo", "repeat the arguments back", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 {
			return "Usage: echo <text>", nil
		}
		return strings.Join(ev.Args, " "), nil
	})

	return api.RegisterEvent(protocol.EventInitialized, "echo_greeter", func(ctx context.Context, ev *protocol.GenericEvent) (any, error) {
		slog.Info("echo plugin ready")
		return nil, nil
	}, 5)
}

// Unload has nothing to release; registrations are purged by owner.
func (e *Echo) Unload(ctx context.Context) error { return nil }
