package source

import (
	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

// Registry maps provider kinds to adapters.
type Registry struct {
	adapters map[model.ProviderKind]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.ProviderKind]Adapter)}
}

// Register binds a to every kind in kinds.
func (r *Registry) Register(a Adapter, kinds ...model.ProviderKind) {
	for _, k := range kinds {
		r.adapters[k] = a
	}
}

// For returns the adapter for kind.
func (r *Registry) For(kind model.ProviderKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, apperr.New(apperr.UnknownProvider, "no adapter registered for %q", kind)
	}
	return a, nil
}
