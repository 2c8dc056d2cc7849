// Package hooks defines DataHooks, the data-source collaborator that
// supplies text chunks to the extractor. The core makes no assumption
// about a hook's backing store; this package only fixes the interface
// and a named-factory registry, keyed by name, so a deployment's config
// picks which implementation to load without the core importing it
// directly.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

// DataHooks supplies the text the extractor builds a graph from.
type DataHooks interface {
	// FullData returns every chunk for a full rebuild.
	FullData(ctx context.Context) ([]string, error)

	// IncrementalData returns only chunks added or changed since
	// sinceVersion. What "since" means is left to the implementation.
	IncrementalData(ctx context.Context, sinceVersion string) ([]string, error)
}

// Factory builds a DataHooks from the hooks.full/hooks.incremental config
// arguments.
type Factory func(full, incremental string) (DataHooks, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a named DataHooks factory, called from each
// implementation's init(). Panics on duplicate registration, matching
// the fail-fast idiom database/sql's driver registry uses.
func Register(module string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[module]; exists {
		panic(fmt.Sprintf("hooks: module %q already registered", module))
	}
	registry[module] = factory
}

// New builds the DataHooks named by the hooks.module config option.
func New(module, full, incremental string) (DataHooks, error) {
	registryMu.Lock()
	factory, ok := registry[module]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("hooks: unknown module %q", module)
	}
	return factory(full, incremental)
}
