// Package neighbor keeps a node's bounded cache of its nearest known peers.
package neighbor

import (
	"context"
	"sort"
	"sync"

	"github.com/ryandielhenn/geopost/pkg/geo"
)

// DefaultCapacity is K, the number of neighbors a node remembers.
const DefaultCapacity = 3

// Entry describes one neighbor as seen from the owning node.
type Entry struct {
	ID       string    `json:"id"`
	Location geo.Point `json:"location"`
	// Distance is the cached distance from the owner to Location
	Distance float64 `json:"distance"`
}

// Resolver fetches a candidate's location, usually with a remote call.
type Resolver func(ctx context.Context, id string) (geo.Point, error)

// Table maps neighbor id to Entry. It never holds more than its capacity and
// never holds the owner. It is safe for concurrent use; every mutation is
// serialized by the table's lock.
type Table struct {
	mu       sync.RWMutex
	owner    string
	at       geo.Point
	capacity int
	entries  map[string]Entry
}

func New(owner string, at geo.Point, capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		owner:    owner,
		at:       at,
		capacity: capacity,
		entries:  make(map[string]Entry, capacity),
	}
}

// Refresh considers every id in known that is neither the owner nor already
// cached, resolving its location and offering it to the table. Candidates that
// fail to resolve are skipped for this pass. Existing entries are not
// revalidated. It returns the ids that were inserted and the ids that pushed
// an older entry out.
func (t *Table) Refresh(ctx context.Context, known []string, resolve Resolver) (added, replaced []string) {
	for _, id := range known {
		if ctx.Err() != nil {
			return added, replaced
		}
		if id == t.owner || t.Contains(id) {
			continue
		}
		loc, err := resolve(ctx, id)
		if err != nil {
			continue
		}
		switch ok, evicted := t.Offer(id, loc); {
		case ok && evicted != "":
			added = append(added, id)
			replaced = append(replaced, evicted)
		case ok:
			added = append(added, id)
		}
	}
	return added, replaced
}

// Offer inserts id at loc if the table has room, or if the table is full and
// id is strictly closer to the owner than the farthest entry, which is then
// evicted and returned.
func (t *Table) Offer(id string, loc geo.Point) (inserted bool, evicted string) {
	if id == t.owner {
		return false, ""
	}
	e := Entry{ID: id, Location: loc, Distance: geo.Distance(t.at, loc)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return false, ""
	}
	if len(t.entries) < t.capacity {
		t.entries[id] = e
		return true, ""
	}
	far := t.farthestLocked()
	if e.Distance >= far.Distance {
		return false, ""
	}
	delete(t.entries, far.ID)
	t.entries[id] = e
	return true, far.ID
}

// Evict removes id and reports whether it was present.
func (t *Table) Evict(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Nearest returns the candidate closest to dest among the owner and every
// entry. The owner is considered first and only loses to a strictly smaller
// distance, so an empty table always yields the owner.
func (t *Table) Nearest(dest geo.Point) Entry {
	best := Entry{ID: t.owner, Location: t.at}
	bestD := geo.Distance(t.at, dest)
	for _, e := range t.Entries() {
		if d := geo.Distance(e.Location, dest); d < bestD {
			best, bestD = e, d
		}
	}
	return best
}

func (t *Table) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of the table ordered by distance to the owner, then id.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// farthestLocked picks the entry with the largest distance; ties go to the
// larger id so eviction is deterministic.
func (t *Table) farthestLocked() Entry {
	var far Entry
	first := true
	for _, e := range t.entries {
		if first || e.Distance > far.Distance || (e.Distance == far.Distance && e.ID > far.ID) {
			far, first = e, false
		}
	}
	return far
}
