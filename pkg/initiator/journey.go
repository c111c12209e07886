// Package initiator is the customer side of a delivery: it mints a packet at
// an entry node, hands the node a listener for the journey and waits for the
// terminal notification.
package initiator

import (
	"context"
	"sync"

	"github.com/ryandielhenn/geopost/pkg/event"
)

// Journey follows a single packet. It ignores notifications about other
// packets and finishes on the first DELIVERED or LOST.
type Journey struct {
	id      uint64
	onEvent func(event.Notification)

	mu    sync.Mutex
	trail []event.Notification
	final event.Notification
	done  chan struct{}
}

// NewJourney tracks packet id. onEvent, if set, sees every notification of
// the packet in arrival order.
func NewJourney(id uint64, onEvent func(event.Notification)) *Journey {
	return &Journey{id: id, onEvent: onEvent, done: make(chan struct{})}
}

func (j *Journey) PacketID() uint64 { return j.id }

func (j *Journey) Report(_ context.Context, n event.Notification) error {
	if n.PacketID != j.id {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finishedLocked() {
		return nil
	}
	j.trail = append(j.trail, n)
	if j.onEvent != nil {
		j.onEvent(n)
	}
	if n.Status.Terminal() {
		j.final = n
		close(j.done)
	}
	return nil
}

// Done is closed once a terminal notification arrived.
func (j *Journey) Done() <-chan struct{} { return j.done }

// Wait blocks until the journey ends or ctx is done, and returns the terminal
// notification.
func (j *Journey) Wait(ctx context.Context) (event.Notification, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.final, nil
	case <-ctx.Done():
		return event.Notification{}, ctx.Err()
	}
}

// Trail returns the notifications received so far.
func (j *Journey) Trail() []event.Notification {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]event.Notification(nil), j.trail...)
}

func (j *Journey) finishedLocked() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}
