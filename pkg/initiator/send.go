package initiator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/node"
	"github.com/ryandielhenn/geopost/pkg/registry"
)

// Entry resolves the node registered under name.
func Entry(ctx context.Context, reg registry.Registry, d node.Dialer, name string) (node.Peer, error) {
	endpoint, err := reg.Lookup(ctx, name)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%s does not have a node registered: %w", name, err)
	}
	if err != nil {
		return nil, err
	}
	return d.Dial(endpoint)
}

// Send mints a packet for dest at entry and starts routing it with the
// returned journey as its listener. It suits nodes in the same process; remote
// nodes need a Tracker.
func Send(ctx context.Context, entry node.Peer, dest geo.Point, onEvent func(event.Notification)) (*Journey, error) {
	pkt, err := entry.AcceptDeliveryRequest(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("delivery request: %w", err)
	}
	j := NewJourney(pkt.ID, onEvent)
	if err := entry.RouteMessage(ctx, pkt, j); err != nil {
		return nil, fmt.Errorf("route packet %d: %w", pkt.ID, err)
	}
	return j, nil
}

// Tracker multiplexes the notifications of many journeys arriving on one
// callback endpoint.
type Tracker struct {
	via event.Listener
	log *zap.Logger

	mu       sync.Mutex
	journeys map[uint64]*Journey
}

// NewTracker returns a tracker whose journeys are reported through via, a
// listener that must route back to the tracker's Handler.
func NewTracker(via event.Listener, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{via: via, log: log, journeys: make(map[uint64]*Journey)}
}

// Handler receives the callbacks posted by nodes.
func (t *Tracker) Handler() http.Handler { return event.Receiver(t) }

// Report hands n to the journey of its packet. Notifications for unknown or
// finished packets are dropped.
func (t *Tracker) Report(ctx context.Context, n event.Notification) error {
	t.mu.Lock()
	j, ok := t.journeys[n.PacketID]
	if ok && n.Status.Terminal() {
		delete(t.journeys, n.PacketID)
	}
	t.mu.Unlock()
	if !ok {
		t.log.Debug("notification for untracked packet", zap.Uint64("packet", n.PacketID))
		return nil
	}
	return j.Report(ctx, n)
}

// Track registers j before its packet starts moving.
func (t *Tracker) Track(j *Journey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journeys[j.id] = j
}

func (t *Tracker) Forget(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.journeys, id)
}

// Pending counts journeys still waiting for a terminal notification.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.journeys)
}

// Send is the tracker form of the package level Send.
func (t *Tracker) Send(ctx context.Context, entry node.Peer, dest geo.Point, onEvent func(event.Notification)) (*Journey, error) {
	pkt, err := entry.AcceptDeliveryRequest(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("delivery request: %w", err)
	}
	j := NewJourney(pkt.ID, onEvent)
	t.Track(j)
	if err := entry.RouteMessage(ctx, pkt, t.via); err != nil {
		t.Forget(pkt.ID)
		return nil, fmt.Errorf("route packet %d: %w", pkt.ID, err)
	}
	t.log.Debug("packet sent", zap.Uint64("packet", pkt.ID), zap.Stringer("destination", dest))
	return j, nil
}
