// Package registry implements the process-wide Job Definition Registry
// (spec §4.1): a read-after-init mapping from job-type name to
// models.JobDefinition, lazily constructed with double-checked locking to
// match the teacher's GetLogger/InitLogger singleton idiom.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/irjudson/lumina/internal/interfaces"
	joberrors "github.com/irjudson/lumina/internal/jobs/errors"
	"github.com/irjudson/lumina/internal/models"
)

// Registry is a process-wide mapping from job-type name to JobDefinition.
// Safe for concurrent use; intended to be populated once at startup and read
// many times afterward.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]models.JobDefinition
}

// New creates an empty Registry. Most callers should use Default() instead.
func New() *Registry {
	return &Registry{defs: make(map[string]models.JobDefinition)}
}

// Register adds a definition under its own Name(). Returns ErrDuplicateName
// if the name is already present.
func (r *Registry) Register(def models.JobDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := def.Name()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("%w: %q", joberrors.ErrDuplicateName, name)
	}
	r.defs[name] = def
	return nil
}

// Get returns the definition registered under name, if any.
func (r *Registry) Get(name string) (models.JobDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return def, ok
}

// ListNames returns all registered job-type names, sorted for deterministic
// output (logging, CLI listing).
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ interfaces.JobDefinitionRegistry = (*Registry)(nil)

var (
	defaultOnce     sync.Once
	defaultInstance *Registry
)

// Default returns the process-wide singleton Registry, constructing it on
// first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultInstance = New()
	})
	return defaultInstance
}
