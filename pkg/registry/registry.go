// Package registry is the name service nodes use to find and address each other.
package registry

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("registry: name not bound")
	ErrAlreadyBound = errors.New("registry: name already bound")
)

// Registry binds node names to endpoints. Names are unique.
type Registry interface {
	// Bind fails with ErrAlreadyBound if name is taken.
	Bind(ctx context.Context, name, endpoint string) error
	Unbind(ctx context.Context, name string) error
	// Lookup fails with ErrNotFound if name is not bound.
	Lookup(ctx context.Context, name string) (string, error)
	// List returns every bound name in lexical order.
	List(ctx context.Context) ([]string, error)
}

// ChangeKind says whether a Change binds or unbinds a name.
type ChangeKind uint8

const (
	Bound ChangeKind = iota
	Unbound
)

func (k ChangeKind) String() string {
	if k == Unbound {
		return "unbound"
	}
	return "bound"
}

// Change is one registry update delivered by a Watcher.
type Change struct {
	Kind     ChangeKind
	Name     string
	Endpoint string
}

// Watcher is implemented by registries that can push updates. Watch first
// calls fn with a Bound change for every name bound when it starts, then for
// every later change in order, and blocks until ctx is done. No change falls
// between the replay and the live updates.
type Watcher interface {
	Watch(ctx context.Context, fn func(Change)) error
}
