package plugin

import (
	"sync"
	"time"
)

// State is the lifecycle state of a plugin.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateError    State = "error"
	StateDisabled State = "disabled"
	// StateEnabled is a transitional marker set right after re-enable,
	// before the next load.
	StateEnabled State = "enabled"
)

// LoadStatus is the outcome of the most recent load attempt.
type LoadStatus string

const (
	LoadSuccess          LoadStatus = "success"
	LoadFailed           LoadStatus = "failed"
	LoadSkipped          LoadStatus = "skipped"
	LoadDependencyFailed LoadStatus = "dependency_failed"
)

// Metrics tracks per-plugin load statistics.
type Metrics struct {
	LoadTime    time.Duration
	LoadCount   int
	UnloadCount int
	TotalErrors int
	LastError   string
	LastLoaded  time.Time
}

// Entry is the registry record for one discovered plugin.
type Entry struct {
	Name            string
	Meta            *Meta
	State           State
	Metrics         Metrics
	LoadStatus      LoadStatus
	ErrorMessage    string
	DependenciesMet bool
	LoadedAt        time.Time

	instance Plugin
}

// IsLoaded reports whether the plugin is currently loaded.
func (e *Entry) IsLoaded() bool { return e.State == StateLoaded }

// IsDisabled reports whether the plugin is disabled on disk or marked so.
func (e *Entry) IsDisabled() bool {
	return e.State == StateDisabled || (e.Meta != nil && e.Meta.Disabled)
}

// entryTable tracks all discovered plugins.
type entryTable struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newEntryTable() *entryTable {
	return &entryTable{entries: make(map[string]*Entry)}
}

func (t *entryTable) register(name string, meta *Meta) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		e.Meta = meta
		return e
	}
	e := &Entry{Name: name, Meta: meta, State: StateUnloaded}
	if meta.Disabled {
		e.State = StateDisabled
	}
	t.entries[name] = e
	return e
}

func (t *entryTable) get(name string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e, ok
}

func (t *entryTable) all() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

func (t *entryTable) remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, name)
}

func (t *entryTable) markLoaded(name string, took time.Duration, instance Plugin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return
	}
	e.State = StateLoaded
	e.LoadStatus = LoadSuccess
	e.ErrorMessage = ""
	e.LoadedAt = time.Now()
	e.Metrics.LoadTime = took
	e.Metrics.LoadCount++
	e.Metrics.LastLoaded = e.LoadedAt
	e.instance = instance
}

func (t *entryTable) markUnloaded(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return
	}
	e.State = StateUnloaded
	e.LoadStatus = ""
	e.LoadedAt = time.Time{}
	e.Metrics.UnloadCount++
	e.instance = nil
}

func (t *entryTable) markError(name, message string, status LoadStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return
	}
	e.State = StateError
	e.LoadStatus = status
	e.ErrorMessage = message
	e.Metrics.TotalErrors++
	e.Metrics.LastError = message
	e.instance = nil
}
