package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Registry for simulations and tests.
type Memory struct {
	mu       sync.RWMutex
	bindings map[string]string
	watchers map[int]chan Change
	nextW    int
}

func NewMemory() *Memory {
	return &Memory{
		bindings: make(map[string]string),
		watchers: make(map[int]chan Change),
	}
}

func (m *Memory) Bind(_ context.Context, name, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[name]; ok {
		return fmt.Errorf("bind %q: %w", name, ErrAlreadyBound)
	}
	m.bindings[name] = endpoint
	m.notifyLocked(Change{Kind: Bound, Name: name, Endpoint: endpoint})
	return nil
}

func (m *Memory) Unbind(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[name]; !ok {
		return fmt.Errorf("unbind %q: %w", name, ErrNotFound)
	}
	delete(m.bindings, name)
	m.notifyLocked(Change{Kind: Unbound, Name: name})
	return nil
}

func (m *Memory) Lookup(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.bindings[name]
	if !ok {
		return "", fmt.Errorf("lookup %q: %w", name, ErrNotFound)
	}
	return ep, nil
}

func (m *Memory) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.bindings))
	for n := range m.bindings {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (m *Memory) Watch(ctx context.Context, fn func(Change)) error {
	ch := make(chan Change, 64)
	m.mu.Lock()
	id := m.nextW
	m.nextW++
	m.watchers[id] = ch
	current := make([]Change, 0, len(m.bindings))
	for name, ep := range m.bindings {
		current = append(current, Change{Kind: Bound, Name: name, Endpoint: ep})
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}()

	slices.SortFunc(current, func(a, b Change) int { return strings.Compare(a.Name, b.Name) })
	for _, c := range current {
		fn(c)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ch:
			fn(c)
		}
	}
}

func (m *Memory) notifyLocked(c Change) {
	for _, ch := range m.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
