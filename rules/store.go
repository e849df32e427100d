package rules

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DecisionSetStore manages decision set persistence and retrieval
type DecisionSetStore interface {
	// Add a new decision set
	Add(ds *DecisionSet) error

	// Get a decision set by name
	Get(name string) (*DecisionSet, error)

	// List all active decision sets
	ListActive() ([]*DecisionSet, error)

	// Update an existing decision set
	Update(ds *DecisionSet) error

	// Delete a decision set
	Delete(name string) error
}

// InMemoryDecisionSetStore implements DecisionSetStore using an in-memory map.
// Thread-safe.
type InMemoryDecisionSetStore struct {
	sets map[string]*DecisionSet
	mu   sync.RWMutex
}

// NewInMemoryDecisionSetStore creates a new in-memory store
func NewInMemoryDecisionSetStore() *InMemoryDecisionSetStore {
	return &InMemoryDecisionSetStore{
		sets: make(map[string]*DecisionSet),
	}
}

// Add adds a new decision set, assigning an ID if it has none, and stamps CreatedAt/UpdatedAt
func (s *InMemoryDecisionSetStore) Add(ds *DecisionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sets[ds.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDecisionSetExists, ds.Name)
	}

	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.Dialect == "" {
		ds.Dialect = DialectCEL
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	s.sets[ds.Name] = cloneDecisionSet(ds)
	return nil
}

// Get retrieves a decision set by name
func (s *InMemoryDecisionSetStore) Get(name string) (*DecisionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, exists := s.sets[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDecisionSetNotFound, name)
	}
	return cloneDecisionSet(ds), nil
}

// ListActive returns all active decision sets ordered by name
func (s *InMemoryDecisionSetStore) ListActive() ([]*DecisionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*DecisionSet
	for _, ds := range s.sets {
		if ds.Active {
			active = append(active, cloneDecisionSet(ds))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active, nil
}

// Update replaces an existing decision set, preserving CreatedAt
func (s *InMemoryDecisionSetStore) Update(ds *DecisionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sets[ds.Name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrDecisionSetNotFound, ds.Name)
	}

	ds.ID = existing.ID
	ds.CreatedAt = existing.CreatedAt
	ds.UpdatedAt = time.Now()
	s.sets[ds.Name] = cloneDecisionSet(ds)
	return nil
}

// Delete removes a decision set
func (s *InMemoryDecisionSetStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sets[name]; !exists {
		return fmt.Errorf("%w: %s", ErrDecisionSetNotFound, name)
	}

	delete(s.sets, name)
	return nil
}

func cloneDecisionSet(ds *DecisionSet) *DecisionSet {
	c := *ds
	c.Rules = slices.Clone(ds.Rules)
	return &c
}
