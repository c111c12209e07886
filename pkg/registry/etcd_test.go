//go:build integration

package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: GEOPOST_TEST_ETCD=http://127.0.0.1:2379 go test -tags integration ./pkg/registry
func newTestEtcd(t *testing.T) *Etcd {
	t.Helper()
	endpoints := os.Getenv("GEOPOST_TEST_ETCD")
	if endpoints == "" {
		t.Skip("GEOPOST_TEST_ETCD not set")
	}
	cli, err := NewClient(strings.Split(endpoints, ","), 3*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	prefix := fmt.Sprintf("/geopost-test/%d/", time.Now().UnixNano())
	e := NewEtcd(cli, prefix, 5*time.Second, nil)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEtcdRegistry(t *testing.T) {
	exerciseRegistry(t, newTestEtcd(t))
}

func TestEtcdWatch(t *testing.T) {
	e := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan Change, 4)
	go func() { _ = e.Watch(ctx, func(c Change) { got <- c }) }()
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, e.Bind(ctx, "w", "ep-w"))
	require.NoError(t, e.Unbind(ctx, "w"))

	assert.Equal(t, Change{Kind: Bound, Name: "w", Endpoint: "ep-w"}, <-got)
	assert.Equal(t, Unbound, (<-got).Kind)
}

func TestEtcdWatchReplaysCurrentBindings(t *testing.T) {
	e := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Bind(ctx, "early", "ep-early"))

	got := make(chan Change, 4)
	go func() { _ = e.Watch(ctx, func(c Change) { got <- c }) }()
	assert.Equal(t, Change{Kind: Bound, Name: "early", Endpoint: "ep-early"}, <-got)

	require.NoError(t, e.Bind(ctx, "late", "ep-late"))
	assert.Equal(t, Change{Kind: Bound, Name: "late", Endpoint: "ep-late"}, <-got)
}
