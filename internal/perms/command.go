package perms

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/projectcoral/coral/pkg/protocol"
)

// ManagePerm gates the perms command. Console always passes.
const ManagePerm = "perm_system.manage"

const permsUsage = "Usage: perms <show|list|add|remove|grant|revoke> [args]\n" +
	"  show                      list registered permissions\n" +
	"  list                      dump user and group grants\n" +
	"  add <perm> <user> [group]  grant perm to user (group defaults to ALL)\n" +
	"  remove <perm> <user> [group]\n" +
	"  grant <perm> <user>       shorthand for add <perm> <user> ALL\n" +
	"  revoke <perm> <user>      shorthand for remove <perm> <user> ALL"

// Command returns the handler for the built-in perms command.
func Command(sys *System) func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
	return func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		if len(ev.Args) == 0 {
			return permsUsage, nil
		}

		sub := ev.Args[0]
		rest := ev.Args[1:]

		switch sub {
		case "show":
			return showPerms(sys), nil
		case "list":
			return listGrants(sys), nil
		case "add", "grant":
			if len(rest) < 2 {
				return permsUsage, nil
			}
			group := AllGroups
			if sub == "add" && len(rest) >= 3 {
				group = rest[2]
			}
			if err := sys.AddUserPerm(rest[0], rest[1], group); err != nil {
				return fmt.Sprintf("Failed to add permission: %v", err), nil
			}
			return fmt.Sprintf("Granted %s to user %s (group %s)", rest[0], rest[1], group), nil
		case "remove", "revoke":
			if len(rest) < 2 {
				return permsUsage, nil
			}
			group := AllGroups
			if sub == "remove" && len(rest) >= 3 {
				group = rest[2]
			}
			if err := sys.RemoveUserPerm(rest[0], rest[1], group); err != nil {
				return fmt.Sprintf("Failed to remove permission: %v", err), nil
			}
			return fmt.Sprintf("Revoked %s from user %s (group %s)", rest[0], rest[1], group), nil
		default:
			return permsUsage, nil
		}
	}
}

func showPerms(sys *System) string {
	registered := sys.RegisteredPerms()
	if len(registered) == 0 {
		return "No permissions registered."
	}

	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Registered permissions:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s - %s\n", name, registered[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

func listGrants(sys *System) string {
	users := sys.AllUserGrants()
	groups := sys.AllGroupGrants()
	if len(users) == 0 && len(groups) == 0 {
		return "No grants recorded."
	}

	var b strings.Builder
	if len(users) > 0 {
		b.WriteString("User grants:\n")
		uids := make([]string, 0, len(users))
		for uid := range users {
			uids = append(uids, uid)
		}
		sort.Strings(uids)
		for _, uid := range uids {
			for _, g := range users[uid] {
				fmt.Fprintf(&b, "  %s: %s (group %s)\n", uid, g.Perm, g.Group)
			}
		}
	}
	if len(groups) > 0 {
		b.WriteString("Group grants:\n")
		gids := make([]string, 0, len(groups))
		for gid := range groups {
			gids = append(gids, gid)
		}
		sort.Strings(gids)
		for _, gid := range gids {
			fmt.Fprintf(&b, "  %s: %s\n", gid, strings.Join(groups[gid], ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
