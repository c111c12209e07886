package node

import (
	"context"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
)

// Peer is a handle on a routing node, local or remote. Remote implementations
// report any transport failure, timeout included, as an error.
type Peer interface {
	RouteMessage(ctx context.Context, pkt geo.Packet, journey event.Listener) error
	Location(ctx context.Context) (geo.Point, error)
	ID(ctx context.Context) (string, error)
	AcceptDeliveryRequest(ctx context.Context, dest geo.Point) (geo.Packet, error)
	Subscribe(ctx context.Context, l event.Listener) (event.Lease, error)
	Renew(ctx context.Context, lease string) (event.Lease, error)
	Unsubscribe(ctx context.Context, lease string) error
}

// Dialer turns an endpoint found in the registry into a Peer.
type Dialer interface {
	Dial(endpoint string) (Peer, error)
}

type DialFunc func(endpoint string) (Peer, error)

func (f DialFunc) Dial(endpoint string) (Peer, error) { return f(endpoint) }
