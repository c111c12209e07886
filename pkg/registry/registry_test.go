package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseRegistry checks the behaviour every Registry implementation shares.
func exerciseRegistry(t *testing.T, r Registry) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, "b", "http://b:8080"))
	require.NoError(t, r.Bind(ctx, "a", "http://a:8080"))

	err := r.Bind(ctx, "a", "http://elsewhere:8080")
	if !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("Bind(a) twice = %v, want ErrAlreadyBound", err)
	}

	ep, err := r.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "http://a:8080", ep, "second bind must not overwrite")

	names, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, r.Unbind(ctx, "a"))
	if _, err := r.Lookup(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(a) after unbind = %v, want ErrNotFound", err)
	}
	names, err = r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)

	// the name is free again
	require.NoError(t, r.Bind(ctx, "a", "http://a2:8080"))
	require.NoError(t, r.Unbind(ctx, "a"))
	require.NoError(t, r.Unbind(ctx, "b"))
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemory())
}

func TestMemoryUnbindUnknown(t *testing.T) {
	err := NewMemory().Unbind(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWatch(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Change, 4)
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, func(c Change) { got <- c }) }()

	// wait for the watcher to be registered
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.watchers) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Bind(ctx, "a", "ep-a"))
	require.NoError(t, m.Unbind(ctx, "a"))

	assert.Equal(t, Change{Kind: Bound, Name: "a", Endpoint: "ep-a"}, <-got)
	assert.Equal(t, Change{Kind: Unbound, Name: "a"}, <-got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryWatchReplaysCurrentBindings(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Bind(ctx, "b", "ep-b"))
	require.NoError(t, m.Bind(ctx, "a", "ep-a"))

	got := make(chan Change, 4)
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, func(c Change) { got <- c }) }()

	assert.Equal(t, Change{Kind: Bound, Name: "a", Endpoint: "ep-a"}, <-got)
	assert.Equal(t, Change{Kind: Bound, Name: "b", Endpoint: "ep-b"}, <-got)

	require.NoError(t, m.Unbind(ctx, "a"))
	assert.Equal(t, Change{Kind: Unbound, Name: "a"}, <-got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
