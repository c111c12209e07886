package geo

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Packet is the unit routed across the overlay. It is immutable once minted.
type Packet struct {
	ID          uint64 `json:"id"`
	Destination Point  `json:"destination"`
}

func (p Packet) String() string {
	return fmt.Sprintf("packet %d to %s", p.ID, p.Destination)
}

var lastID atomic.Uint64

// NewPacket mints a packet addressed to dest. Ids are creation-time based
// (unix nanoseconds) and strictly increasing within a process.
func NewPacket(dest Point) Packet {
	return Packet{ID: nextID(uint64(time.Now().UnixNano())), Destination: dest}
}

func nextID(now uint64) uint64 {
	for {
		last := lastID.Load()
		id := now
		if id <= last {
			id = last + 1
		}
		if lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}
