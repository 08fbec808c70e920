package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/internal/plugin"
	"github.com/projectcoral/coral/pkg/protocol"
)

// StopPerm gates the stop command for non-console users.
const StopPerm = "coral.stop"

// ChatCommandPerm gates command invocation from chat messages. Console
// input is not affected.
const ChatCommandPerm = "chat_command.execute"

// registerBuiltins installs the framework's own commands and the
// chat-command bridge.
func (a *App) registerBuiltins() {
	a.perms.RegisterPerm(StopPerm, "shut the framework down")
	a.perms.RegisterPerm(ChatCommandPerm, "invoke commands from chat messages")
	a.perms.RegisterPerm(perms.ManagePerm, "manage permission grants")
	a.perms.RegisterPerm(plugin.ManagePerm, "manage plugins")

	a.registry.RegisterCommand("stop", "shut Coral down", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		a.Stop()
		return "Shutting down", nil
	}, StopPerm)

	a.registry.RegisterCommand("help", "list available commands", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return a.helpText(), nil
	})

	a.registry.RegisterCommand("perms", "manage permission grants", perms.Command(a.perms), perms.ManagePerm)
	a.registry.RegisterCommand("plugins", "manage plugins", plugin.Command(a.plugins), plugin.ManagePerm)

	a.registry.RegisterCommand("bus", "show event bus statistics", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 || ev.Args[0] != "stats" {
			return "Usage: bus stats", nil
		}
		return busStats(a.bus.Metrics().Snapshot()), nil
	})

	a.bus.Subscribe(&protocol.MessageEvent{}, a.chatCommandBridge, 1)

	// Drivers publish CommandEvents straight onto the bus (console
	// input, wire-parsed commands); dispatch them through the registry
	// so replies re-enter the bus and reach the adapters.
	a.bus.Subscribe(&protocol.CommandEvent{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		result := a.registry.ExecuteCommand(ctx, ev.(*protocol.CommandEvent))
		if result == nil {
			return nil, nil
		}
		return result, nil
	}, 0)
}

func busStats(s bus.MetricsSnapshot) string {
	var b strings.Builder
	b.WriteString("Event bus:\n")
	fmt.Fprintf(&b, "  events processed:  %d\n", s.TotalEventsProcessed)
	fmt.Fprintf(&b, "  results processed: %d\n", s.TotalResultsProcessed)
	fmt.Fprintf(&b, "  errors:            %d\n", s.TotalErrors)
	fmt.Fprintf(&b, "  avg event time:    %.4fs\n", s.AvgEventProcessingTime)
	fmt.Fprintf(&b, "  avg result time:   %.4fs\n", s.AvgResultProcessingTime)
	fmt.Fprintf(&b, "  queue:             %d (max %d)", s.CurrentQueueSize, s.MaxQueueSize)
	return b.String()
}

func (a *App) helpText() string {
	commands := a.registry.Commands()
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range names {
		if desc := commands[name]; desc != "" {
			fmt.Fprintf(&b, "  %s - %s\n", name, desc)
		} else {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// chatCommandBridge turns prefixed chat messages into command
// invocations. Subscribed at priority 1 so ordinary message handlers
// see the event first.
func (a *App) chatCommandBridge(ctx context.Context, ev protocol.Event) (any, error) {
	msg, ok := ev.(*protocol.MessageEvent)
	if !ok {
		return nil, nil
	}
	prefix := a.cfg.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}

	text := msg.Message.PlainText()
	if !strings.HasPrefix(text, prefix) {
		return nil, nil
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return nil, nil
	}

	userID := ""
	if msg.User != nil {
		userID = msg.User.UserID
	}
	groupID := ""
	if msg.Group != nil {
		groupID = msg.Group.GroupID
	}
	if !a.perms.CheckOne(ChatCommandPerm, userID, groupID) {
		slog.Debug("chat command refused", "user", userID, "command", fields[0])
		return protocol.NewMessageRequest(msg).Text("Permission denied").Build(), nil
	}

	cmd := &protocol.CommandEvent{
		Platform:   msg.Platform,
		SelfID:     msg.SelfID,
		EventID:    msg.EventID,
		Command:    fields[0],
		Args:       fields[1:],
		RawMessage: msg.Message,
		User:       msg.User,
		Group:      msg.Group,
		Time:       msg.Time,
	}
	return a.registry.ExecuteCommand(ctx, cmd), nil
}
