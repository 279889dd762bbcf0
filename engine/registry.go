package engine

import (
	"fmt"
	"sort"
	"sync"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/definition"
)

// Registry holds validated process definitions keyed by (key, version).
// Definitions are immutable after registration and safe for unbounded
// concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string][]*definition.ProcessDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string][]*definition.ProcessDefinition)}
}

// Register validates and stores a definition. A (key, version) pair may
// only be registered once.
func (r *Registry) Register(def *definition.ProcessDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byKey[def.Key] {
		if existing.Version == def.Version {
			return fmt.Errorf("engine: definition %q version %d already registered", def.Key, def.Version)
		}
	}
	defs := append(r.byKey[def.Key], def)
	sort.Slice(defs, func(i, k int) bool { return defs[i].Version < defs[k].Version })
	r.byKey[def.Key] = defs
	return nil
}

// Get returns the definition for a key. Version zero (or negative)
// resolves to the latest registered version.
func (r *Registry) Get(key string, version int) (*definition.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := r.byKey[key]
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: %q", fleans.ErrDefinitionNotFound, key)
	}
	if version <= 0 {
		return defs[len(defs)-1], nil
	}
	for _, def := range defs {
		if def.Version == version {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %q version %d", fleans.ErrDefinitionNotFound, key, version)
}
