package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/internal/telemetry"
	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/neighbor"
	"github.com/ryandielhenn/geopost/pkg/registry"
)

// hopAttempts is the first decision plus one retry after a stale neighbor.
const hopAttempts = 2

// RouteMessage accepts pkt for delivery or further forwarding and returns at
// once. Everything else, the arrival notification included, runs in the
// background and is only visible through notifications.
func (n *Node) RouteMessage(_ context.Context, pkt geo.Packet, journey event.Listener) error {
	if !n.track() {
		return ErrClosed
	}
	go func() {
		defer n.inflight.Done()
		n.handle(pkt, journey)
	}()
	return nil
}

func (n *Node) handle(pkt geo.Packet, journey event.Listener) {
	log := n.log.With(zap.Uint64("packet", pkt.ID))
	telemetry.PacketsTotal.WithLabelValues(n.name, "arrived").Inc()
	n.publish(pkt, journey, event.InTransit, fmt.Sprintf("packet %d arrived at %s", pkt.ID, n.name))

	for attempt := 1; attempt <= hopAttempts; attempt++ {
		hop := n.nextHop(pkt.Destination)
		log.Debug("next hop selected",
			zap.String("hop", hop.ID),
			zap.Stringer("destination", pkt.Destination),
			zap.Int("attempt", attempt))

		if !n.transit() {
			log.Info("node closing, packet abandoned")
			return
		}

		if hop.ID == n.name {
			telemetry.PacketsTotal.WithLabelValues(n.name, "delivered").Inc()
			n.publish(pkt, journey, event.Delivered,
				fmt.Sprintf("packet %d delivered from %s to %s", pkt.ID, n.name, pkt.Destination))
			return
		}

		peer, err := n.resolve(hop.ID)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			log.Warn("next hop no longer registered, evicting", zap.String("hop", hop.ID))
			n.evict(hop.ID, "stale")
			continue
		case err != nil && n.ctx.Err() != nil:
			log.Info("node closing, packet abandoned")
			return
		case err != nil:
			log.Warn("next hop lookup failed, packet lost", zap.String("hop", hop.ID), zap.Error(err))
			n.lose(pkt, journey)
			return
		}

		n.publish(pkt, journey, event.InTransit, fmt.Sprintf("packet %d departed from %s", pkt.ID, n.name))
		if !n.out.submit(func() { n.forward(peer, hop.ID, pkt, journey) }) {
			log.Info("node closing, packet abandoned")
		}
		return
	}

	log.Warn("no resolvable next hop after retry")
	n.lose(pkt, journey)
}

// nextHop refreshes the neighbor table against the registry and picks the
// candidate, self included, nearest to dest.
func (n *Node) nextHop(dest geo.Point) neighbor.Entry {
	ctx, cancel := context.WithTimeout(n.ctx, n.callTimeout)
	names, err := n.reg.List(ctx)
	cancel()
	if err != nil {
		n.log.Warn("registry listing failed, using cached neighbors", zap.Error(err))
	} else {
		added, replaced := n.table.Refresh(n.ctx, names, n.locate)
		if len(added) > 0 {
			n.log.Debug("neighbors discovered", zap.Strings("added", added), zap.Strings("replaced", replaced))
		}
		telemetry.NeighborEvictions.WithLabelValues(n.name, "replaced").Add(float64(len(replaced)))
	}
	telemetry.Neighbors.WithLabelValues(n.name).Set(float64(n.table.Len()))
	return n.table.Nearest(dest)
}

// locate is the neighbor table's resolver: registry lookup, then a remote
// location query.
func (n *Node) locate(ctx context.Context, id string) (geo.Point, error) {
	peer, err := n.resolveCtx(ctx, id)
	if err != nil {
		return geo.Point{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()
	return peer.Location(ctx)
}

func (n *Node) resolve(id string) (Peer, error) {
	return n.resolveCtx(n.ctx, id)
}

func (n *Node) resolveCtx(ctx context.Context, id string) (Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, n.callTimeout)
	defer cancel()
	endpoint, err := n.reg.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	peer, err := n.dial.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s at %s: %w", id, endpoint, err)
	}
	return peer, nil
}

// forward runs on the outbound worker. A failed call loses the packet and
// drops the unreachable neighbor; nothing is retried.
func (n *Node) forward(peer Peer, hop string, pkt geo.Packet, journey event.Listener) {
	ctx, cancel := context.WithTimeout(n.ctx, n.callTimeout)
	defer cancel()

	start := time.Now()
	err := peer.RouteMessage(ctx, pkt, journey)
	telemetry.ForwardDuration.WithLabelValues(n.name).Observe(time.Since(start).Seconds())
	if err != nil {
		n.log.Warn("forward failed, packet lost",
			zap.Uint64("packet", pkt.ID), zap.String("hop", hop), zap.Error(err))
		n.lose(pkt, journey)
		n.evict(hop, "unreachable")
		return
	}
	telemetry.PacketsTotal.WithLabelValues(n.name, "forwarded").Inc()
}

func (n *Node) lose(pkt geo.Packet, journey event.Listener) {
	telemetry.PacketsTotal.WithLabelValues(n.name, "lost").Inc()
	n.publish(pkt, journey, event.Lost, fmt.Sprintf("packet %d lost by %s", pkt.ID, n.name))
}

func (n *Node) evict(id, reason string) {
	if n.table.Evict(id) {
		telemetry.NeighborEvictions.WithLabelValues(n.name, reason).Inc()
		telemetry.Neighbors.WithLabelValues(n.name).Set(float64(n.table.Len()))
	}
}

// transit holds the packet for the simulated transit time. It reports false
// if the node closed meanwhile.
func (n *Node) transit() bool {
	if n.delay <= 0 {
		return n.ctx.Err() == nil
	}
	t := time.NewTimer(n.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-n.ctx.Done():
		return false
	}
}

// publish fans a notification out to subscribers and the journey listener.
// Delivery outlives node shutdown so a final LOST still goes out.
func (n *Node) publish(pkt geo.Packet, journey event.Listener, s event.Status, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.callTimeout)
	defer cancel()
	n.hub.Publish(ctx, event.Notification{Text: text, PacketID: pkt.ID, Status: s}, journey)
}
