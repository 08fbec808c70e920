package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectcoral/coral/pkg/protocol"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
		websocket_port: 0,
		plugin_dir: %q,
		perm_file: %q,
		crashlog_file: %q,
	}`, filepath.Join(dir, "plugins"), filepath.Join(dir, "coral.perms"), filepath.Join(dir, "crashes.db"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.EnableConsole = false
	return a
}

func startApp(t *testing.T, a *App) {
	t.Helper()
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- a.Run(ctx) }()

	// LastInitTime is stamped at the very end of Bootstrap.
	deadline := time.Now().Add(5 * time.Second)
	for a.Config().LastInitTime == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("app did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		a.Stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Stop")
		}
		cancel()
	})
}

func TestBootstrapRegistersBuiltins(t *testing.T) {
	a := newTestApp(t)
	startApp(t, a)

	commands := a.Registry().Commands()
	for _, name := range []string{"stop", "help", "perms", "plugins", "bus"} {
		if _, ok := commands[name]; !ok {
			t.Errorf("builtin command %q missing", name)
		}
	}
}

func TestBootstrapStampsConfig(t *testing.T) {
	a := newTestApp(t)
	startApp(t, a)

	if a.Config().LastInitTime == 0 {
		t.Error("LastInitTime not stamped")
	}
	if a.Config().CoralVersion != protocol.Version {
		t.Errorf("CoralVersion = %q", a.Config().CoralVersion)
	}
}

func TestChatCommandBridge(t *testing.T) {
	a := newTestApp(t)
	startApp(t, a)

	replies := make(chan *protocol.MessageRequest, 1)
	a.Bus().Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		replies <- ev.(*protocol.MessageRequest)
		return nil, nil
	}, 5)

	a.Bus().Publish(context.Background(), &protocol.MessageEvent{
		Platform: "test",
		SelfID:   "1",
		EventID:  "m1",
		Message:  protocol.TextChain("!help"),
		User:     &protocol.UserInfo{Platform: "test", UserID: protocol.ConsoleUser},
	})

	select {
	case reply := <-replies:
		body := reply.Message.PlainText()
		if body == "" || reply.Platform != "test" {
			t.Errorf("reply = %q on %s", body, reply.Platform)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from chat command bridge")
	}
}

func TestUnprefixedMessagesIgnored(t *testing.T) {
	a := newTestApp(t)
	startApp(t, a)

	replies := make(chan *protocol.MessageRequest, 1)
	a.Bus().Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		replies <- ev.(*protocol.MessageRequest)
		return nil, nil
	}, 5)

	a.Bus().Publish(context.Background(), &protocol.MessageEvent{
		Platform: "test",
		SelfID:   "1",
		Message:  protocol.TextChain("just chatting"),
		User:     &protocol.UserInfo{Platform: "test", UserID: "42"},
	})

	select {
	case reply := <-replies:
		t.Errorf("unexpected reply %q", reply.Message.PlainText())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStopCommandStopsApp(t *testing.T) {
	a := newTestApp(t)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Config().LastInitTime == 0 {
		if time.Now().After(deadline) {
			t.Fatal("app did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Published exactly as the console driver does: the bus, not the
	// registry, must carry the command to its handler.
	a.Bus().Publish(context.Background(), &protocol.CommandEvent{
		Platform: "Console",
		SelfID:   "1",
		Command:  "stop",
		User:     &protocol.UserInfo{Platform: "Console", UserID: protocol.ConsoleUser},
	})

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop command did not stop the app")
	}
}

func TestCommandEventRepliesReachBus(t *testing.T) {
	a := newTestApp(t)
	startApp(t, a)

	replies := make(chan *protocol.MessageRequest, 1)
	a.Bus().Subscribe(&protocol.MessageRequest{}, func(ctx context.Context, ev protocol.Event) (any, error) {
		replies <- ev.(*protocol.MessageRequest)
		return nil, nil
	}, 5)

	a.Bus().Publish(context.Background(), &protocol.CommandEvent{
		Platform: "Console",
		SelfID:   "1",
		EventID:  "c1",
		Command:  "help",
		User:     &protocol.UserInfo{Platform: "Console", UserID: protocol.ConsoleUser},
	})

	select {
	case reply := <-replies:
		if body := reply.Message.PlainText(); body == "" {
			t.Error("empty reply to help command")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command reply never re-entered the bus")
	}
}
