package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/pkg/protocol"
)

func newTestRegistry(t *testing.T) (*Registry, *bus.EventBus, *perms.System) {
	t.Helper()
	b := bus.New()
	sys, err := perms.New(filepath.Join(t.TempDir(), "test.perms"))
	if err != nil {
		t.Fatalf("perms.New: %v", err)
	}
	return New(b, sys, nil), b, sys
}

func cmdEvent(command string, args ...string) *protocol.CommandEvent {
	return &protocol.CommandEvent{
		Platform: "test",
		SelfID:   "1",
		EventID:  "e1",
		Command:  command,
		Args:     args,
		User:     &protocol.UserInfo{Platform: "test", UserID: "42"},
		Group:    &protocol.GroupInfo{Platform: "test", GroupID: "7"},
	}
}

func requestBody(t *testing.T, ev protocol.Event) string {
	t.Helper()
	req, ok := ev.(*protocol.MessageRequest)
	if !ok {
		t.Fatalf("result is %T, want *protocol.MessageRequest", ev)
	}
	return req.Message.PlainText()
}

func TestExecuteUnknownCommand(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	out := r.ExecuteCommand(context.Background(), cmdEvent("missing"))
	if got := requestBody(t, out); got != "No command found" {
		t.Errorf("body = %q, want %q", got, "No command found")
	}
}

func TestExecuteCommandStringResult(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.RegisterCommand("ping", "replies pong", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "pong", nil
	})

	out := r.ExecuteCommand(context.Background(), cmdEvent("ping"))
	req := out.(*protocol.MessageRequest)
	if got := req.Message.PlainText(); got != "pong" {
		t.Errorf("body = %q, want %q", got, "pong")
	}
	if req.Platform != "test" || req.EventID != "e1" {
		t.Errorf("reply context = %s/%s", req.Platform, req.EventID)
	}
	if req.Group == nil || req.Group.GroupID != "7" {
		t.Error("reply did not inherit group")
	}
}

func TestExecuteCommandEventResultPassthrough(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	want := &protocol.MessageRequest{Platform: "test", Message: protocol.TextChain("direct")}
	r.RegisterCommand("direct", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return want, nil
	})

	out := r.ExecuteCommand(context.Background(), cmdEvent("direct"))
	if out != protocol.Event(want) {
		t.Error("typed result was not passed through unchanged")
	}
}

func TestCommandPermissionGate(t *testing.T) {
	r, _, sys := newTestRegistry(t)
	sys.RegisterPerm("p.ping", "")
	sys.AddUserPerm("p.ping", "42", "7")

	r.RegisterCommand("ping", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "pong", nil
	}, "p.ping")

	// Granted in group 7.
	out := r.ExecuteCommand(context.Background(), cmdEvent("ping"))
	if got := requestBody(t, out); got != "pong" {
		t.Errorf("granted call body = %q, want %q", got, "pong")
	}

	// Denied in group 8.
	ev := cmdEvent("ping")
	ev.Group = &protocol.GroupInfo{Platform: "test", GroupID: "8"}
	out = r.ExecuteCommand(context.Background(), ev)
	if got := requestBody(t, out); got != "Permission denied" {
		t.Errorf("denied call body = %q, want %q", got, "Permission denied")
	}
}

func TestCommandAnyOfPermissions(t *testing.T) {
	r, _, sys := newTestRegistry(t)
	sys.RegisterPerm("p.a", "")
	sys.RegisterPerm("p.b", "")
	sys.AddUserPerm("p.b", "42", "ALL")

	r.RegisterCommand("multi", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "ok", nil
	}, "p.a", "p.b")

	out := r.ExecuteCommand(context.Background(), cmdEvent("multi"))
	if got := requestBody(t, out); got != "ok" {
		t.Errorf("any-of call body = %q, want %q", got, "ok")
	}
}

func TestConsoleBypassesPermissions(t *testing.T) {
	r, _, sys := newTestRegistry(t)
	sys.RegisterPerm("p.locked", "")

	r.RegisterCommand("locked", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "opened", nil
	}, "p.locked")

	ev := cmdEvent("locked")
	ev.User = &protocol.UserInfo{Platform: "console", UserID: protocol.ConsoleUser}
	out := r.ExecuteCommand(context.Background(), ev)
	if got := requestBody(t, out); got != "opened" {
		t.Errorf("console call body = %q, want %q", got, "opened")
	}
}

func TestCommandCrashReply(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.RegisterCommand("bad", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return nil, errors.New("kaboom")
	})

	out := r.ExecuteCommand(context.Background(), cmdEvent("bad"))
	if got := requestBody(t, out); got != "Error executing command: kaboom" {
		t.Errorf("crash body = %q", got)
	}
	if got := r.CrashCount("command", "bad"); got != 1 {
		t.Errorf("CrashCount = %d, want 1", got)
	}
}

func TestAutoDisableAfterThreeCrashes(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.RegisterCommand("flaky", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		panic("always")
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r.ExecuteCommand(ctx, cmdEvent("flaky"))
	}

	out := r.ExecuteCommand(ctx, cmdEvent("flaky"))
	if got := requestBody(t, out); got != "No command found" {
		t.Errorf("fourth call body = %q, want %q", got, "No command found")
	}
}

func TestRegisterCommandOverwrites(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.RegisterCommand("dup", "first", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "first", nil
	})
	r.RegisterCommand("dup", "second", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "second", nil
	})

	out := r.ExecuteCommand(context.Background(), cmdEvent("dup"))
	if got := requestBody(t, out); got != "second" {
		t.Errorf("body = %q, want last registered handler", got)
	}
}

func TestRegisterFunctionDuplicateErrors(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	fn := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	if err := r.RegisterFunction("f", fn); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterFunction("f", fn); err == nil {
		t.Error("duplicate function registration should error")
	}
}

func TestExecuteFunctionCapturesError(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.RegisterFunction("boom", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("nope")
	})

	if out := r.ExecuteFunction(context.Background(), "boom"); out != nil {
		t.Errorf("result = %v, want nil", out)
	}
	if got := r.CrashCount("function", "boom"); got != 1 {
		t.Errorf("CrashCount = %d, want 1", got)
	}
}

func TestEventNameFilter(t *testing.T) {
	r, b, _ := newTestRegistry(t)

	var got []string
	err := r.RegisterEvent("coral_initialized", "recorder", func(ctx context.Context, ev *protocol.GenericEvent) (any, error) {
		got = append(got, ev.Name)
		return nil, nil
	}, 5)
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	ctx := context.Background()
	b.Publish(ctx, &protocol.GenericEvent{Name: "coral_initialized"})
	b.Publish(ctx, &protocol.GenericEvent{Name: "other_event"})

	if len(got) != 1 || got[0] != "coral_initialized" {
		t.Errorf("listener saw %v, want only coral_initialized", got)
	}
}

func TestRegisterEventDuplicateErrors(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	h := func(ctx context.Context, ev *protocol.GenericEvent) (any, error) { return nil, nil }

	if err := r.RegisterEvent("e", "l", h, 5); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.RegisterEvent("e", "l", h, 5); err == nil {
		t.Error("duplicate (event, listener) registration should error")
	}
}

func TestPurgeOwner(t *testing.T) {
	r, b, _ := newTestRegistry(t)

	r.RegisterCommandOwned("plug", "pc", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "x", nil
	})
	r.RegisterFunctionOwned("plug", "pf", func(ctx context.Context, args ...any) (any, error) {
		return nil, nil
	})
	var eventRuns int
	r.RegisterEventOwned("plug", "pe", "pl", func(ctx context.Context, ev *protocol.GenericEvent) (any, error) {
		eventRuns++
		return nil, nil
	}, 5)
	r.RegisterCommand("keep", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
		return "kept", nil
	})

	r.PurgeOwner("plug")

	ctx := context.Background()
	if got := requestBody(t, r.ExecuteCommand(ctx, cmdEvent("pc"))); got != "No command found" {
		t.Errorf("purged command still dispatches: %q", got)
	}
	if r.ExecuteFunction(ctx, "pf") != nil {
		t.Error("purged function still invocable")
	}
	b.Publish(ctx, &protocol.GenericEvent{Name: "pe"})
	if eventRuns != 0 {
		t.Error("purged event listener still subscribed")
	}
	if got := requestBody(t, r.ExecuteCommand(ctx, cmdEvent("keep"))); got != "kept" {
		t.Errorf("unowned command was purged: %q", got)
	}
}
