package geo

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b Point
		want float64
	}{
		{Point{0, 0}, Point{10, 0}, 10},
		{Point{0, 0}, Point{3, 4}, 5},
		{Point{-1, -1}, Point{-1, -1}, 0},
	}
	for _, c := range cases {
		if got := Distance(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("Distance(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
		if Distance(c.a, c.b) != Distance(c.b, c.a) {
			t.Fatalf("Distance not symmetric for %v, %v", c.a, c.b)
		}
	}
}

func TestPointString(t *testing.T) {
	assert.Equal(t, "(9,0)", Point{9, 0}.String())
	assert.Equal(t, "(1.5,-2)", Point{1.5, -2}.String())
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint("9", "-0.5")
	require.NoError(t, err)
	assert.Equal(t, Point{9, -0.5}, p)

	_, err = ParsePoint("nine", "0")
	require.ErrorContains(t, err, "<X>")
	_, err = ParsePoint("0", "NaN")
	require.ErrorContains(t, err, "<Y>")

	p, err = ParsePair("(10, 2)")
	require.NoError(t, err)
	assert.Equal(t, Point{10, 2}, p)
	_, err = ParsePair("10")
	require.Error(t, err)
}

func TestNewPacketIDsDistinct(t *testing.T) {
	const G, N = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{}, G*N)
		wg   sync.WaitGroup
	)
	for range G {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range N {
				p := NewPacket(Point{1, 2})
				mu.Lock()
				seen[p.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != G*N {
		t.Fatalf("minted %d distinct ids, want %d", len(seen), G*N)
	}
}

func TestNextIDMonotonic(t *testing.T) {
	a := nextID(5)
	b := nextID(5)
	c := nextID(1)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}
