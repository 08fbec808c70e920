package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/projectcoral/coral/internal/registry"
	"github.com/projectcoral/coral/pkg/protocol"
)

// ManagePerm gates the plugins command.
const ManagePerm = "plugin_manager.manage"

const pluginsUsage = `Usage:
  plugins list
  plugins load <name>
  plugins unload <name>
  plugins enable <name>
  plugins disable <name>
  plugins stats <name>`

// Command returns the handler for the "plugins" chat command.
func Command(m *Manager) registry.CommandHandler {
	return func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 {
			return pluginsUsage, nil
		}

		switch ev.Args[0] {
		case "list":
			return listPlugins(m), nil
		case "load", "unload", "enable", "disable", "stats":
			if len(ev.Args) < 2 {
				return pluginsUsage, nil
			}
			name := ev.Args[1]
			switch ev.Args[0] {
			case "load":
				if err := m.Load(ctx, name); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Plugin %s loaded", name), nil
			case "unload":
				if err := m.Unload(ctx, name); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Plugin %s unloaded", name), nil
			case "enable":
				if err := m.Enable(ctx, name); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Plugin %s enabled, load it with: plugins load %s", name, name), nil
			case "disable":
				if err := m.Disable(ctx, name); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Plugin %s disabled", name), nil
			default:
				return pluginStats(m, name)
			}
		default:
			return pluginsUsage, nil
		}
	}
}

func listPlugins(m *Manager) string {
	entries := m.Entries()
	if len(entries) == 0 {
		return "No plugins discovered"
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var b strings.Builder
	b.WriteString("Plugins:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s %s [%s]", e.Name, e.Meta.Version, e.State)
		if e.ErrorMessage != "" {
			fmt.Fprintf(&b, " - %s", e.ErrorMessage)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func pluginStats(m *Manager, name string) (any, error) {
	e, ok := m.Entry(name)
	if !ok {
		return nil, fmt.Errorf("plugin %s is not known", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s by %s\n", e.Name, e.Meta.Version, e.Meta.Author)
	if e.Meta.Description != "" {
		fmt.Fprintf(&b, "%s\n", e.Meta.Description)
	}
	fmt.Fprintf(&b, "State: %s\n", e.State)
	fmt.Fprintf(&b, "Loads: %d, unloads: %d, errors: %d\n",
		e.Metrics.LoadCount, e.Metrics.UnloadCount, e.Metrics.TotalErrors)
	if e.Metrics.LoadTime > 0 {
		fmt.Fprintf(&b, "Last load took %s\n", e.Metrics.LoadTime)
	}
	if e.Metrics.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", e.Metrics.LastError)
	}
	if len(e.Meta.Dependencies) > 0 {
		fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(e.Meta.Dependencies, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
