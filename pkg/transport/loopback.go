package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/node"
)

// Loopback connects nodes living in one process. Endpoints are arbitrary
// strings; Crash makes an endpoint refuse every call until Restore.
type Loopback struct {
	mu      sync.RWMutex
	peers   map[string]node.Peer
	crashed map[string]bool
}

func NewLoopback() *Loopback {
	return &Loopback{
		peers:   make(map[string]node.Peer),
		crashed: make(map[string]bool),
	}
}

// Attach serves p at endpoint, replacing whatever was there.
func (l *Loopback) Attach(endpoint string, p node.Peer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peers[endpoint] = p
	delete(l.crashed, endpoint)
}

func (l *Loopback) Detach(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, endpoint)
}

func (l *Loopback) Crash(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crashed[endpoint] = true
}

func (l *Loopback) Restore(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.crashed, endpoint)
}

// Dial never fails; reachability is checked on every call.
func (l *Loopback) Dial(endpoint string) (node.Peer, error) {
	return &loopbackPeer{net: l, endpoint: endpoint}, nil
}

func (l *Loopback) target(ctx context.Context, endpoint string) (node.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", endpoint, ErrUnreachable, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.peers[endpoint]
	if !ok || l.crashed[endpoint] {
		return nil, fmt.Errorf("%s: %w", endpoint, ErrUnreachable)
	}
	return p, nil
}

type loopbackPeer struct {
	net      *Loopback
	endpoint string
}

func (p *loopbackPeer) RouteMessage(ctx context.Context, pkt geo.Packet, journey event.Listener) error {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return err
	}
	return t.RouteMessage(ctx, pkt, journey)
}

func (p *loopbackPeer) Location(ctx context.Context) (geo.Point, error) {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return geo.Point{}, err
	}
	return t.Location(ctx)
}

func (p *loopbackPeer) ID(ctx context.Context) (string, error) {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return "", err
	}
	return t.ID(ctx)
}

func (p *loopbackPeer) AcceptDeliveryRequest(ctx context.Context, dest geo.Point) (geo.Packet, error) {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return geo.Packet{}, err
	}
	return t.AcceptDeliveryRequest(ctx, dest)
}

func (p *loopbackPeer) Subscribe(ctx context.Context, l event.Listener) (event.Lease, error) {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return event.Lease{}, err
	}
	return t.Subscribe(ctx, l)
}

func (p *loopbackPeer) Renew(ctx context.Context, lease string) (event.Lease, error) {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return event.Lease{}, err
	}
	return t.Renew(ctx, lease)
}

func (p *loopbackPeer) Unsubscribe(ctx context.Context, lease string) error {
	t, err := p.net.target(ctx, p.endpoint)
	if err != nil {
		return err
	}
	return t.Unsubscribe(ctx, lease)
}

var _ node.Dialer = (*Loopback)(nil)
