package store

import (
	"sort"
	"sync"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
)

// Store is a registry of instantiated modules: a name-keyed map of
// registered instances plus a single unnamed active slot.
//
// The lock guards only the map and slot. It is never held while
// calling into an instance, so host functions that re-enter the
// store during a guest call cannot deadlock.
type Store struct {
	mu     sync.RWMutex
	named  map[string]*instance.Module
	active *instance.Module
}

// New creates an empty store.
func New() *Store {
	return &Store{named: make(map[string]*instance.Module)}
}

// RegisterNamed registers inst under name. Registration is atomic:
// a duplicate name fails and leaves the store unchanged.
func (s *Store) RegisterNamed(name string, inst *instance.Module) error {
	if name == "" {
		return errs.InvalidInput(errs.PhaseStore, "registration name must not be empty")
	}
	if inst == nil {
		return errs.InvalidInput(errs.PhaseStore, "cannot register a nil instance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.named[name]; exists {
		return errs.NameCollision(name)
	}
	s.named[name] = inst
	return nil
}

// CheckName reports whether name could be registered right now.
// Callers doing expensive work before RegisterNamed can fail early
// with the same error.
func (s *Store) CheckName(name string) error {
	if name == "" {
		return errs.InvalidInput(errs.PhaseStore, "registration name must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.named[name]; exists {
		return errs.NameCollision(name)
	}
	return nil
}

// LookupNamed returns the instance registered under name.
func (s *Store) LookupNamed(name string) (*instance.Module, error) {
	s.mu.RLock()
	inst, ok := s.named[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound(errs.PhaseStore, "module", name)
	}
	return inst, nil
}

// SetActive replaces the active slot. The evicted instance stays
// alive for callers still holding references to it.
func (s *Store) SetActive(inst *instance.Module) {
	s.mu.Lock()
	s.active = inst
	s.mu.Unlock()
}

// Active returns the instance in the active slot.
func (s *Store) Active() (*instance.Module, error) {
	s.mu.RLock()
	inst := s.active
	s.mu.RUnlock()
	if inst == nil {
		return nil, errs.NotFound(errs.PhaseStore, "active module", "(none set)")
	}
	return inst, nil
}

// Names returns the registered names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.named))
	for name := range s.named {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered instances. The active slot is
// not counted unless it is also registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.named)
}
