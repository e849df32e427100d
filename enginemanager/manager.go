package enginemanager

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/decisions/rules"
)

// Source records where a managed engine's configuration came from
type Source string

const (
	SourceStore Source = "store"
	SourceFile  Source = "file"
)

// ManagedEngine wraps a compiled rules.DecisionEngine with its decision set
type ManagedEngine struct {
	DecisionSet *rules.DecisionSet
	Engine      *rules.DecisionEngine
	Source      Source
	Path        string // config file for SourceFile
	LoadedAt    time.Time
}

// Manager serves one DecisionEngine per decision set name. Engines are built
// before they replace the previous one, so readers never see a half-built engine.
type Manager struct {
	store   rules.DecisionSetStore
	cache   rules.DecisionSetCache
	engines map[string]*ManagedEngine
	opts    []rules.Option
	logger  *slog.Logger
	mu      sync.RWMutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithEngineOptions passes options to every engine the manager builds
func WithEngineOptions(opts ...rules.Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithCache fronts ListActive with a cache. Mutations through the manager invalidate it.
func WithCache(c rules.DecisionSetCache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// NewManager creates a manager backed by store
func NewManager(store rules.DecisionSetStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		engines: make(map[string]*ManagedEngine),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAll builds engines for every active decision set in the store. A name
// already served from a config file keeps its file-sourced engine.
func (m *Manager) LoadAll() error {
	sets, err := m.listActive()
	if err != nil {
		return err
	}

	loaded := make(map[string]*ManagedEngine, len(sets))
	for _, ds := range sets {
		me, err := m.build(ds, SourceStore, "")
		if err != nil {
			return fmt.Errorf("failed to initialize decision set %s: %w", ds.Name, err)
		}
		loaded[ds.Name] = me
	}

	m.mu.Lock()
	for name, me := range m.engines {
		if me.Source == SourceStore {
			delete(m.engines, name)
		}
	}
	for name, me := range loaded {
		if existing, ok := m.engines[name]; ok && existing.Source == SourceFile {
			m.logger.Warn("stored decision set shadowed by config file", "name", name, "path", existing.Path)
			delete(loaded, name)
			continue
		}
		m.engines[name] = me
	}
	m.mu.Unlock()

	m.logger.Info("decision sets loaded", "count", len(loaded))
	return nil
}

// Refresh drops the cached list and reloads from the store, picking up
// changes made by other replicas
func (m *Manager) Refresh() error {
	m.invalidate()
	return m.LoadAll()
}

func (m *Manager) listActive() ([]*rules.DecisionSet, error) {
	if m.cache != nil {
		if sets := m.cache.Get(); sets != nil {
			return sets, nil
		}
	}

	sets, err := m.store.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decision sets: %w", err)
	}
	if m.cache != nil {
		m.cache.Set(sets)
	}
	return sets, nil
}

// Create validates and persists a new decision set, then serves it if active
func (m *Manager) Create(ds *rules.DecisionSet) error {
	if err := ValidateDecisionSet(ds); err != nil {
		return err
	}

	me, err := m.build(ds, SourceStore, "")
	if err != nil {
		return err
	}

	if err := m.store.Add(ds); err != nil {
		return err
	}
	m.invalidate()

	if ds.Active {
		m.swap(ds.Name, me)
	}
	m.logger.Info("decision set created", "name", ds.Name, "rules", len(ds.Rules), "active", ds.Active)
	return nil
}

// Update replaces a decision set. The new engine is compiled first and then
// swapped in atomically; a deactivated set stops being served.
func (m *Manager) Update(ds *rules.DecisionSet) error {
	if err := ValidateDecisionSet(ds); err != nil {
		return err
	}

	me, err := m.build(ds, SourceStore, "")
	if err != nil {
		return err
	}

	if err := m.store.Update(ds); err != nil {
		return err
	}
	m.invalidate()

	if ds.Active {
		m.swap(ds.Name, me)
	} else {
		m.remove(ds.Name)
	}
	m.logger.Info("decision set updated", "name", ds.Name, "rules", len(ds.Rules), "active", ds.Active)
	return nil
}

// Delete removes a decision set from the store and stops serving it
func (m *Manager) Delete(name string) error {
	if err := m.store.Delete(name); err != nil {
		return err
	}
	m.invalidate()
	m.remove(name)
	m.logger.Info("decision set deleted", "name", name)
	return nil
}

// Put serves a decision set without persisting it
func (m *Manager) Put(ds *rules.DecisionSet, path string) error {
	if err := ValidateDecisionSet(ds); err != nil {
		return err
	}
	me, err := m.build(ds, SourceFile, path)
	if err != nil {
		return err
	}
	m.swap(ds.Name, me)
	return nil
}

// Remove stops serving a decision set. The store is not touched.
func (m *Manager) Remove(name string) bool {
	return m.remove(name)
}

// GetEngine retrieves the engine serving name
func (m *Manager) GetEngine(name string) (*rules.DecisionEngine, error) {
	me, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return me.Engine, nil
}

// Get retrieves the managed engine serving name
func (m *Manager) Get(name string) (*ManagedEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	me, exists := m.engines[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", rules.ErrDecisionSetNotFound, name)
	}
	return me, nil
}

// List returns the names of all served decision sets, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LoadDir serves every configuration file in dir, named by file stem. A file
// that fails to load is logged and its previous engine, if any, stays in
// service. File-sourced engines whose file is gone are removed.
func (m *Manager) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read config directory: %w", err)
	}

	seen := make(map[string]bool)
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsConfigFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := NameFromPath(path)
		seen[name] = true

		if err := m.LoadFile(path); err != nil {
			m.logger.Error("failed to load decision set", "path", path, "error", err)
			continue
		}
		loaded++
	}

	m.mu.Lock()
	for name, me := range m.engines {
		if me.Source == SourceFile && filepath.Dir(me.Path) == filepath.Clean(dir) && !seen[name] {
			delete(m.engines, name)
			m.logger.Info("decision set removed", "name", name, "path", me.Path)
		}
	}
	m.mu.Unlock()

	return loaded, nil
}

// LoadFile serves the configuration at path under its file stem
func (m *Manager) LoadFile(path string) error {
	cfg, err := rules.LoadConfig(path)
	if err != nil {
		return err
	}

	dialect, err := rules.ParseDialect(cfg.Dialect)
	if err != nil {
		return &rules.ConfigError{Path: path, Err: err}
	}
	defs, err := rules.RulesFromPairs(cfg.RuleConfig.Rules)
	if err != nil {
		return err
	}

	now := time.Now()
	ds := &rules.DecisionSet{
		Name:          NameFromPath(path),
		Key:           cfg.Key,
		DefaultAction: cfg.RuleConfig.DefaultAction,
		Dialect:       dialect,
		Rules:         defs,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.Put(ds, path); err != nil {
		return err
	}

	m.logger.Info("decision set loaded", "name", ds.Name, "path", path, "rules", len(defs))
	return nil
}

// IsConfigFile reports whether name has a configuration file extension
func IsConfigFile(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// NameFromPath derives a decision set name from a config file path
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (m *Manager) build(ds *rules.DecisionSet, source Source, path string) (*ManagedEngine, error) {
	opts := append([]rules.Option{
		rules.WithLogger(m.logger.With("decision_set", ds.Name)),
	}, m.opts...)

	engine, err := ds.Engine(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return &ManagedEngine{
		DecisionSet: ds,
		Engine:      engine,
		Source:      source,
		Path:        path,
		LoadedAt:    time.Now(),
	}, nil
}

func (m *Manager) swap(name string, me *ManagedEngine) {
	m.mu.Lock()
	m.engines[name] = me
	m.mu.Unlock()
}

func (m *Manager) remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[name]; !exists {
		return false
	}
	delete(m.engines, name)
	return true
}

func (m *Manager) invalidate() {
	if m.cache != nil {
		m.cache.Invalidate()
	}
}
