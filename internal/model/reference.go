package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Reference points at an arbitrary host entity by kind and id.
type Reference struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Validate checks that both halves of the reference are set.
func (r Reference) Validate() error {
	if r.Kind == "" || r.ID == "" {
		return ErrInvalidReference
	}

	return nil
}

// String renders r as kind:id.
func (r Reference) String() string {
	return r.Kind + ":" + r.ID
}

// Referencer is implemented by host entities that can be recipients of, or linked to, a send.
type Referencer interface {
	Ref() Reference
}

// ResolverFunc loads the entity behind a reference of one kind.
type ResolverFunc func(ctx context.Context, id string) (any, error)

// KindRegistry maps reference kinds to the resolvers that load them.
type KindRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]ResolverFunc
}

// NewKindRegistry creates an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{resolvers: make(map[string]ResolverFunc)}
}

// Register adds or replaces the resolver for kind.
func (r *KindRegistry) Register(kind string, resolver ResolverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolvers[kind] = resolver
}

// Known reports whether kind has a resolver.
func (r *KindRegistry) Known(kind string) bool {
	if r == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.resolvers[kind]

	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *KindRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.resolvers))
	for kind := range r.resolvers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return kinds
}

// Resolve loads the entity a reference points at.
func (r *KindRegistry) Resolve(ctx context.Context, ref Reference) (any, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	resolver, ok := r.resolvers[ref.Kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, ref.Kind)
	}

	return resolver(ctx, ref.ID)
}
