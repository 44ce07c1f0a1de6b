// Package functions provides the pluggable function-library registry used
// by the expression evaluator. Libraries are registered under a namespace
// ("time", "filter", ...) and expose pure, deterministic functions; anything
// stream-producing belongs in an attribute provider instead (package pip).
//
// The registry is passed into the engine at construction rather than held as
// process-wide state, so independent engine instances can carry independent
// registries.
package functions

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aspen-pdp/aspen/value"
)

// Function is a pure policy function. It must be deterministic and must not
// retain its arguments.
type Function func(args ...value.Val) (value.Val, error)

// Registry maps fully qualified names ("library.function") to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Function)}
}

// DefaultRegistry returns a registry with the standard, time, and filter
// libraries registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-in libraries cannot collide.
	_ = r.RegisterLibrary("standard", StandardLibrary())
	_ = r.RegisterLibrary("time", TimeLibrary())
	_ = r.RegisterLibrary("filter", FilterLibrary())
	return r
}

// Register adds one function under a fully qualified dotted name.
func (r *Registry) Register(name string, fn Function) error {
	if !strings.Contains(name, ".") {
		return fmt.Errorf("functions: %q is not a qualified name (want \"library.function\")", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("functions: %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// RegisterLibrary adds every function of a library under its namespace.
func (r *Registry) RegisterLibrary(namespace string, fns map[string]Function) error {
	for name, fn := range fns {
		if err := r.Register(namespace+"."+name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Call invokes a function by fully qualified name.
func (r *Registry) Call(name string, args ...value.Val) (value.Val, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return value.Null(), fmt.Errorf("functions: unknown function %q", name)
	}
	return fn(args...)
}

// Has reports whether a fully qualified name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// LibraryFunctions returns the bare names of all functions registered under
// a namespace, sorted. Used to expand wildcard imports.
func (r *Registry) LibraryFunctions(namespace string) []string {
	prefix := namespace + "."
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.funcs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, strings.TrimPrefix(name, prefix))
		}
	}
	sort.Strings(names)
	return names
}
