// Package modules defines the statically compiled registry of expressive-
// motion producers. Each module (lip-sync visemes, gaze tracking, emotion,
// prosody) is registered under an identifier at build time and resolved to a
// start/stop capability pair — there is no runtime plugin loading.
//
// Producers only ever schedule and remove snippets through the engine
// registry; they never touch blending internals.
package modules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/snippetstore"
)

// ErrNotRegistered is returned by [Registry.Create] when no factory has been
// registered under the requested module ID.
var ErrNotRegistered = errors.New("modules: module not registered")

// Deps holds the shared dependencies handed to every module factory.
type Deps struct {
	// Sched is the frame scheduler. Modules schedule through
	// Sched.Registry() and may subscribe to lifecycle events.
	Sched *engine.Scheduler

	// Library is the snippet definition store (viseme shapes, expression
	// libraries). May be an empty in-memory store.
	Library snippetstore.Store
}

// Module is one startable producer.
type Module interface {
	// ID returns the module's registry identifier.
	ID() string

	// Start activates the module. ctx cancellation must release any
	// background work the module started.
	Start(ctx context.Context) error

	// Stop deactivates the module and removes any snippets it owns.
	Stop() error
}

// Factory builds a module instance from the shared dependencies.
type Factory func(Deps) (Module, error)

// Registry maps module IDs to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a module factory under id. Subsequent calls with the same id
// overwrite the previous registration.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Create instantiates the module registered under id.
func (r *Registry) Create(id string, deps Deps) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	m, err := factory(deps)
	if err != nil {
		return nil, fmt.Errorf("modules: create %q: %w", id, err)
	}
	return m, nil
}

// IDs returns the registered module identifiers, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
