package loader

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/chenyanchen/batchkit"
)

type registered interface {
	Spec() Spec
}

// Registry stores loaders by resource path.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[string]registered),
	}
}

// Register builds a Loader for spec and stores it under spec.Path.
func Register[V any](r *Registry, spec Spec, def Definition[V], opts ...Option) (*Loader[V], error) {
	if r == nil {
		return nil, fmt.Errorf("register loader: registry is nil")
	}
	l, err := New(spec, def, opts...)
	if err != nil {
		return nil, fmt.Errorf("register loader: %w", err)
	}

	key := spec.Path.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loaders[key]; exists {
		return nil, DuplicateLoaderError{Path: spec.Path}
	}
	r.loaders[key] = l
	return l, nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func MustRegister[V any](r *Registry, spec Spec, def Definition[V], opts ...Option) *Loader[V] {
	l, err := Register(r, spec, def, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// LoadAs loads items with the loader registered under path.
func LoadAs[V any](ctx context.Context, r *Registry, path batchkit.ResourcePath, items []batchkit.Record) ([]batchkit.Result[V], error) {
	l, ok := r.get(path)
	if !ok {
		return nil, LoaderNotFoundError{Path: path}
	}
	typed, ok := l.(*Loader[V])
	if !ok {
		return nil, TypeMismatchError{
			Path:     path,
			Expected: reflect.TypeOf((*Loader[V])(nil)).String(),
			Actual:   fmt.Sprintf("%T", l),
		}
	}
	return typed.Load(ctx, items)
}

// Specs returns the specs of all registered loaders, ordered by path.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	specs := make([]Spec, 0, len(r.loaders))
	for _, l := range r.loaders {
		specs = append(specs, l.Spec())
	}
	r.mu.RUnlock()

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Path.String() < specs[j].Path.String()
	})
	return specs
}

func (r *Registry) get(path batchkit.ResourcePath) (registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[path.String()]
	return l, ok
}
