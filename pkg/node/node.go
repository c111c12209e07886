// Package node implements the routing node: it forwards packets hop by hop
// toward a destination coordinate, always handing them to the known node
// closest to that destination, and notifies observers along the way.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/neighbor"
	"github.com/ryandielhenn/geopost/pkg/registry"
)

var ErrClosed = errors.New("node closed")

const (
	DefaultTransitDelay = 3 * time.Second
	DefaultCallTimeout  = 5 * time.Second
	DefaultLeaseTTL     = time.Minute
)

type Node struct {
	name string
	at   geo.Point

	reg   registry.Registry
	dial  Dialer
	table *neighbor.Table
	hub   *event.Hub
	out   *outbound
	log   *zap.Logger

	delay       time.Duration
	callTimeout time.Duration
	capacity    int
	leaseTTL    time.Duration
	callbacks   *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

type Option func(*Node)

func WithLogger(l *zap.Logger) Option { return func(n *Node) { n.log = l } }

// WithTransitDelay sets how long a packet is held before acting on the
// routing decision.
func WithTransitDelay(d time.Duration) Option { return func(n *Node) { n.delay = d } }

// WithCapacity sets K, the neighbor table bound.
func WithCapacity(k int) Option { return func(n *Node) { n.capacity = k } }

// WithCallTimeout bounds every remote call and notification delivery.
func WithCallTimeout(d time.Duration) Option { return func(n *Node) { n.callTimeout = d } }

// WithLeaseTTL sets how long a subscription lives without renewal.
func WithLeaseTTL(d time.Duration) Option { return func(n *Node) { n.leaseTTL = d } }

// WithCallbackClient sets the HTTP client used to reach callback listeners
// named in incoming HTTP requests.
func WithCallbackClient(c *http.Client) Option { return func(n *Node) { n.callbacks = c } }

// New creates a node named name at location at. The node discovers peers
// through reg and reaches them through dial. It does not bind itself in reg.
func New(name string, at geo.Point, reg registry.Registry, dial Dialer, opts ...Option) *Node {
	n := &Node{
		name:        name,
		at:          at,
		reg:         reg,
		dial:        dial,
		delay:       DefaultTransitDelay,
		callTimeout: DefaultCallTimeout,
		capacity:    neighbor.DefaultCapacity,
		leaseTTL:    DefaultLeaseTTL,
	}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	n.log = n.log.With(zap.String("node", name))
	if n.callbacks == nil {
		n.callbacks = &http.Client{Timeout: n.callTimeout}
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.table = neighbor.New(name, at, n.capacity)
	n.hub = event.NewHub(name, n.leaseTTL, n.log)
	n.out = newOutbound(256, n.log)
	return n
}

func (n *Node) Name() string { return n.name }

func (n *Node) Point() geo.Point { return n.at }

// Hub is the node's notification fan-out.
func (n *Node) Hub() *event.Hub { return n.hub }

// Neighbors returns a snapshot of the neighbor table.
func (n *Node) Neighbors() []neighbor.Entry { return n.table.Entries() }

func (n *Node) ID(context.Context) (string, error) { return n.name, nil }

func (n *Node) Location(context.Context) (geo.Point, error) { return n.at, nil }

// AcceptDeliveryRequest mints a new packet for dest at this node. The caller
// starts its journey with RouteMessage.
func (n *Node) AcceptDeliveryRequest(_ context.Context, dest geo.Point) (geo.Packet, error) {
	if !dest.Finite() {
		return geo.Packet{}, fmt.Errorf("invalid destination %v", dest)
	}
	if n.isClosed() {
		return geo.Packet{}, ErrClosed
	}
	pkt := geo.NewPacket(dest)
	n.log.Info("delivery request accepted", zap.Uint64("packet", pkt.ID), zap.Stringer("destination", dest))
	return pkt, nil
}

func (n *Node) Subscribe(_ context.Context, l event.Listener) (event.Lease, error) {
	if n.isClosed() {
		return event.Lease{}, ErrClosed
	}
	return n.hub.Subscribe(l)
}

func (n *Node) Renew(_ context.Context, lease string) (event.Lease, error) {
	return n.hub.Renew(lease)
}

func (n *Node) Unsubscribe(_ context.Context, lease string) error {
	if !n.hub.Cancel(lease) {
		return fmt.Errorf("unsubscribe %s: %w", lease, event.ErrUnknownLease)
	}
	return nil
}

// Snapshot describes the node for introspection.
func (n *Node) Snapshot() Info {
	return Info{
		Name:        n.name,
		Location:    n.at,
		Neighbors:   n.table.Entries(),
		Subscribers: n.hub.Subscribers(),
	}
}

// Close stops accepting packets, abandons packets still in transit here and
// releases the node's goroutines. It does not unbind the node.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.inflight.Wait()
	n.out.stop()
	return n.hub.Close()
}

func (n *Node) isClosed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.closed
}

// track registers one in-flight packet unless the node is closed.
func (n *Node) track() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	n.inflight.Add(1)
	return true
}

var _ Peer = (*Node)(nil)
