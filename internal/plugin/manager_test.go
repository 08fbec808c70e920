package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/projectcoral/coral/internal/bus"
	"github.com/projectcoral/coral/internal/perms"
	"github.com/projectcoral/coral/internal/registry"
	"github.com/projectcoral/coral/pkg/protocol"
)

type testPlugin struct {
	name   string
	loadFn func(ctx context.Context, api *API) error
	rec    *loadRecorder
}

func (p *testPlugin) Load(ctx context.Context, api *API) error {
	if p.rec != nil {
		p.rec.record(p.name)
	}
	if p.loadFn != nil {
		return p.loadFn(ctx, api)
	}
	return nil
}

func (p *testPlugin) Unload(ctx context.Context) error { return nil }

type loadRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *loadRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *loadRecorder) index(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.order {
		if n == name {
			return i
		}
	}
	return -1
}

// Factory names are process-global, so each test uses its own prefix.
func registerTestPlugin(name string, rec *loadRecorder, loadFn func(ctx context.Context, api *API) error) {
	RegisterFactory(name, func() Plugin {
		return &testPlugin{name: name, loadFn: loadFn, rec: rec}
	})
}

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	b := bus.New()
	sys, err := perms.New(filepath.Join(t.TempDir(), "test.perms"))
	if err != nil {
		t.Fatalf("perms.New: %v", err)
	}
	r := registry.New(b, sys, nil)
	return NewManager(root, b, r, sys, nil)
}

func pluginManifest(name string, deps ...string) string {
	body := fmt.Sprintf("{name: %q", name)
	if len(deps) > 0 {
		body += ", dependencies: ["
		for i, d := range deps {
			if i > 0 {
				body += ", "
			}
			body += fmt.Sprintf("%q", d)
		}
		body += "]"
	}
	return body + "}"
}

func TestLoadAllRespectsDependencyOrder(t *testing.T) {
	root := t.TempDir()
	rec := &loadRecorder{}
	writeManifest(t, root, "mgr_base", pluginManifest("mgr_base"))
	writeManifest(t, root, "mgr_mid", pluginManifest("mgr_mid", "mgr_base"))
	writeManifest(t, root, "mgr_top", pluginManifest("mgr_top", "mgr_mid"))
	registerTestPlugin("mgr_base", rec, nil)
	registerTestPlugin("mgr_mid", rec, nil)
	registerTestPlugin("mgr_top", rec, nil)

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if got := m.LoadedCount(); got != 3 {
		t.Fatalf("LoadedCount = %d, want 3", got)
	}
	if rec.index("mgr_base") > rec.index("mgr_mid") || rec.index("mgr_mid") > rec.index("mgr_top") {
		t.Errorf("load order = %v, want base before mid before top", rec.order)
	}
}

func TestLoadAllPoisonsDependents(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "poison_a", pluginManifest("poison_a"))
	writeManifest(t, root, "poison_b", pluginManifest("poison_b", "poison_a"))
	writeManifest(t, root, "poison_c", pluginManifest("poison_c", "poison_b"))
	registerTestPlugin("poison_a", nil, func(ctx context.Context, api *API) error {
		return errors.New("broken on purpose")
	})
	registerTestPlugin("poison_b", nil, nil)
	registerTestPlugin("poison_c", nil, nil)

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	a, _ := m.Entry("poison_a")
	if a.State != StateError || a.LoadStatus != LoadFailed {
		t.Errorf("poison_a state = %s/%s, want error/failed", a.State, a.LoadStatus)
	}
	for _, name := range []string{"poison_b", "poison_c"} {
		e, _ := m.Entry(name)
		if e.LoadStatus != LoadDependencyFailed {
			t.Errorf("%s status = %s, want dependency_failed", name, e.LoadStatus)
		}
	}
}

func TestLoadAllSkipsCycle(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "cyc_a", pluginManifest("cyc_a", "cyc_b"))
	writeManifest(t, root, "cyc_b", pluginManifest("cyc_b", "cyc_a"))
	writeManifest(t, root, "cyc_free", pluginManifest("cyc_free"))
	registerTestPlugin("cyc_a", nil, nil)
	registerTestPlugin("cyc_b", nil, nil)
	registerTestPlugin("cyc_free", nil, nil)

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if got := m.LoadedCount(); got != 1 {
		t.Errorf("LoadedCount = %d, want only the acyclic plugin", got)
	}
	for _, name := range []string{"cyc_a", "cyc_b"} {
		e, _ := m.Entry(name)
		if e.State != StateError {
			t.Errorf("%s state = %s, want error", name, e.State)
		}
	}
}

func TestLoadAllIncompatiblePlugin(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "stale", `{name: "stale", compatibility: 200101}`)
	registerTestPlugin("stale", nil, nil)

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	e, _ := m.Entry("stale")
	if e.State != StateError {
		t.Errorf("state = %s, want error", e.State)
	}
}

func TestLoadAllMissingFactory(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "ghost", pluginManifest("ghost"))

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	e, _ := m.Entry("ghost")
	if e.State != StateError || e.ErrorMessage != "no factory registered" {
		t.Errorf("entry = %s/%q, want error with no factory registered", e.State, e.ErrorMessage)
	}
}

func TestLoadPanicIsContained(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "volatile", pluginManifest("volatile"))
	writeManifest(t, root, "calm", pluginManifest("calm"))
	registerTestPlugin("volatile", nil, func(ctx context.Context, api *API) error {
		panic("load explodes")
	})
	registerTestPlugin("calm", nil, nil)

	m := newTestManager(t, root)
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	v, _ := m.Entry("volatile")
	if v.State != StateError {
		t.Errorf("volatile state = %s, want error", v.State)
	}
	c, _ := m.Entry("calm")
	if !c.IsLoaded() {
		t.Error("calm should have loaded despite sibling panic")
	}
}

func TestUnloadRefusedWhileDepended(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "lib", pluginManifest("lib"))
	writeManifest(t, root, "app", pluginManifest("app", "lib"))
	registerTestPlugin("lib", nil, nil)
	registerTestPlugin("app", nil, nil)

	m := newTestManager(t, root)
	ctx := context.Background()
	if err := m.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := m.Unload(ctx, "lib"); err == nil {
		t.Fatal("unloading a depended-on plugin should fail")
	}
	if err := m.Unload(ctx, "app"); err != nil {
		t.Fatalf("Unload app: %v", err)
	}
	if err := m.Unload(ctx, "lib"); err != nil {
		t.Fatalf("Unload lib after dependent removed: %v", err)
	}
}

func TestUnloadPurgesRegistrations(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "echoish", pluginManifest("echoish"))
	registerTestPlugin("echoish", nil, func(ctx context.Context, api *API) error {
		api.RegisterCommand("echoish_cmd", "", func(ctx context.Context, ev *protocol.CommandEvent) (any, error) {
			return "hello", nil
		})
		return nil
	})

	m := newTestManager(t, root)
	ctx := context.Background()
	if err := m.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if _, ok := m.registry.Commands()["echoish_cmd"]; !ok {
		t.Fatal("command not registered at load")
	}
	if err := m.Unload(ctx, "echoish"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := m.registry.Commands()["echoish_cmd"]; ok {
		t.Error("command survived unload")
	}
}

func TestDisableRenamesAndEnableRestores(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "toggle", pluginManifest("toggle"))
	registerTestPlugin("toggle", nil, nil)

	m := newTestManager(t, root)
	ctx := context.Background()
	if err := m.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := m.Disable(ctx, "toggle"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "toggle"+DisabledSuffix)); err != nil {
		t.Errorf("disabled directory missing: %v", err)
	}
	e, _ := m.Entry("toggle")
	if e.IsLoaded() {
		t.Error("plugin still loaded after disable")
	}
	if err := m.Disable(ctx, "toggle"); err == nil {
		t.Error("second disable should fail")
	}

	if err := m.Enable(ctx, "toggle"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "toggle")); err != nil {
		t.Errorf("enabled directory missing: %v", err)
	}
	if err := m.Enable(ctx, "toggle"); err == nil {
		t.Error("second enable should fail")
	}

	if err := m.Load(ctx, "toggle"); err != nil {
		t.Fatalf("Load after enable: %v", err)
	}
}

func TestLoadSinglePluginTwice(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "once", pluginManifest("once"))
	registerTestPlugin("once", nil, nil)

	m := newTestManager(t, root)
	ctx := context.Background()
	if err := m.Load(ctx, "once"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Load(ctx, "once"); err == nil {
		t.Error("second load should fail while loaded")
	}
}
