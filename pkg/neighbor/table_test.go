package neighbor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/geopost/pkg/geo"
)

// world resolves ids from a fixed map; ids missing from it are unreachable.
type world map[string]geo.Point

func (w world) resolve(_ context.Context, id string) (geo.Point, error) {
	p, ok := w[id]
	if !ok {
		return geo.Point{}, errors.New("unreachable")
	}
	return p, nil
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestRefreshKeepsNearestK(t *testing.T) {
	w := world{
		"self": {0, 0},
		"a":    {1, 0},
		"b":    {2, 0},
		"c":    {3, 0},
		"d":    {4, 0},
		"e":    {0.5, 0},
	}
	tb := New("self", w["self"], 3)

	tb.Refresh(context.Background(), []string{"self", "d", "c", "b", "a", "e"}, w.resolve)

	if got := tb.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	if diff := cmp.Diff([]string{"e", "a", "b"}, ids(tb.Entries())); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, tb.Contains("self"), "owner must never be cached")
}

func TestRefreshSkipsUnreachable(t *testing.T) {
	w := world{"a": {1, 1}}
	tb := New("self", geo.Point{}, 3)

	added, _ := tb.Refresh(context.Background(), []string{"a", "ghost"}, w.resolve)

	assert.Equal(t, []string{"a"}, added)
	assert.False(t, tb.Contains("ghost"))
}

func TestRefreshDoesNotRevalidateKnown(t *testing.T) {
	tb := New("self", geo.Point{}, 3)
	tb.Offer("a", geo.Point{X: 1})

	calls := 0
	resolve := func(context.Context, string) (geo.Point, error) {
		calls++
		return geo.Point{}, errors.New("down")
	}
	tb.Refresh(context.Background(), []string{"a"}, resolve)

	assert.Zero(t, calls, "cached entries are not resolved again")
	assert.True(t, tb.Contains("a"), "stale entry stays until evicted")
}

func TestRefreshNoImprovementIsIdempotent(t *testing.T) {
	w := world{"a": {1, 0}, "b": {2, 0}, "c": {3, 0}, "far": {3, 0}, "farther": {9, 9}}
	tb := New("self", geo.Point{}, 3)
	tb.Refresh(context.Background(), []string{"a", "b", "c"}, w.resolve)
	before := tb.Entries()

	added, replaced := tb.Refresh(context.Background(), []string{"far", "farther"}, w.resolve)

	assert.Empty(t, added)
	assert.Empty(t, replaced)
	if diff := cmp.Diff(before, tb.Entries()); diff != "" {
		t.Fatalf("table changed without improvement (-before +after):\n%s", diff)
	}
}

func TestOfferReplacesFarthest(t *testing.T) {
	tb := New("self", geo.Point{}, 2)
	ok, ev := tb.Offer("a", geo.Point{X: 1})
	require.True(t, ok)
	require.Empty(t, ev)
	tb.Offer("b", geo.Point{X: 5})

	ok, ev = tb.Offer("c", geo.Point{X: 2})

	assert.True(t, ok)
	assert.Equal(t, "b", ev)
	assert.Equal(t, []string{"a", "c"}, ids(tb.Entries()))

	ok, _ = tb.Offer("self", geo.Point{})
	assert.False(t, ok)
	ok, _ = tb.Offer("a", geo.Point{X: 100})
	assert.False(t, ok, "duplicate id is ignored")
}

func TestEvict(t *testing.T) {
	tb := New("self", geo.Point{}, 3)
	tb.Offer("a", geo.Point{X: 1})
	assert.True(t, tb.Evict("a"))
	assert.False(t, tb.Evict("a"))
	assert.Zero(t, tb.Len())
}

func TestNearestGreedy(t *testing.T) {
	// A at (0,0) knows B at (10,0); destination (10,0) must go to B.
	tb := New("A", geo.Point{}, 3)
	tb.Offer("B", geo.Point{X: 10})

	assert.Equal(t, "B", tb.Nearest(geo.Point{X: 10}).ID)
}

func TestNearestPrefersOwnerOnTie(t *testing.T) {
	tb := New("A", geo.Point{}, 3)
	tb.Offer("B", geo.Point{X: 10})

	// equidistant from A and B
	assert.Equal(t, "A", tb.Nearest(geo.Point{X: 5}).ID)
	// empty table: owner is the only candidate
	assert.Equal(t, "X", New("X", geo.Point{X: 3}, 3).Nearest(geo.Point{X: 99}).ID)
}

func TestConcurrentRefreshBounded(t *testing.T) {
	w := world{}
	var known []string
	for i := range 50 {
		id := fmt.Sprintf("n%02d", i)
		w[id] = geo.Point{X: float64(i + 1)}
		known = append(known, id)
	}
	tb := New("self", geo.Point{}, 3)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 20 {
				tb.Refresh(context.Background(), known, w.resolve)
				if (g+i)%5 == 0 {
					tb.Evict(fmt.Sprintf("n%02d", i%3))
				}
				if n := tb.Len(); n > 3 {
					t.Errorf("Len = %d exceeds capacity", n)
				}
			}
		}(g)
	}
	wg.Wait()

	tb.Refresh(context.Background(), known, w.resolve)
	assert.Equal(t, []string{"n00", "n01", "n02"}, ids(tb.Entries()))
}
