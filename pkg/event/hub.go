package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-broadcast"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/internal/telemetry"
)

var ErrUnknownLease = errors.New("unknown or expired lease")

// Lease is the handle returned to a subscriber. A zero ExpiresAt never expires.
type Lease struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Hub fans notifications produced at one node out to its leased subscribers,
// to local stream readers and to the listener travelling with the packet.
// Every delivery is best-effort and independent of the others.
type Hub struct {
	node   string
	leases *ttlcache.Cache[string, Listener]
	stream broadcast.Broadcaster
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewHub starts a hub whose subscriptions expire after ttl unless renewed.
// ttl <= 0 disables expiry. Close releases the hub's goroutines.
func NewHub(node string, ttl time.Duration, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl < 0 {
		ttl = 0
	}
	h := &Hub{
		node: node,
		leases: ttlcache.New[string, Listener](
			ttlcache.WithTTL[string, Listener](ttl),
			ttlcache.WithDisableTouchOnHit[string, Listener](),
		),
		stream: broadcast.NewBroadcaster(1024),
		log:    log.With(zap.String("node", node)),
	}
	h.leases.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Listener]) {
		if reason == ttlcache.EvictionReasonExpired {
			h.log.Debug("subscription expired", zap.String("lease", item.Key()))
		}
	})
	go h.leases.Start()
	return h
}

// Subscribe registers l for every notification produced by the node.
func (h *Hub) Subscribe(l Listener) (Lease, error) {
	if l == nil {
		return Lease{}, fmt.Errorf("subscribe: nil listener")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return Lease{}, fmt.Errorf("subscribe: hub closed")
	}
	item := h.leases.Set(uuid.NewString(), l, ttlcache.DefaultTTL)
	telemetry.Subscribers.WithLabelValues(h.node).Set(float64(h.Subscribers()))
	h.log.Debug("subscribed", zap.String("lease", item.Key()))
	return leaseOf(item), nil
}

// Renew extends a live lease by the hub's ttl.
func (h *Hub) Renew(id string) (Lease, error) {
	item := h.leases.Get(id)
	if item == nil || item.IsExpired() {
		return Lease{}, fmt.Errorf("renew %s: %w", id, ErrUnknownLease)
	}
	return leaseOf(h.leases.Set(id, item.Value(), ttlcache.DefaultTTL)), nil
}

// Cancel drops a subscription. It reports whether the lease was live.
func (h *Hub) Cancel(id string) bool {
	item := h.leases.Get(id)
	if item == nil {
		return false
	}
	h.leases.Delete(id)
	telemetry.Subscribers.WithLabelValues(h.node).Set(float64(h.Subscribers()))
	return !item.IsExpired()
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	return len(h.listeners())
}

func (h *Hub) listeners() []Listener {
	var out []Listener
	h.leases.Range(func(item *ttlcache.Item[string, Listener]) bool {
		if !item.IsExpired() {
			out = append(out, item.Value())
		}
		return true
	})
	return out
}

// Publish delivers n to every subscriber and to journey (which may be nil)
// concurrently. Each target gets its own deadline carrying the budget left on
// ctx, so a target that hangs never shortens another's. A failing target never
// stops delivery to the others.
func (h *Hub) Publish(ctx context.Context, n Notification, journey Listener) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	subs := h.listeners()
	telemetry.Subscribers.WithLabelValues(h.node).Set(float64(len(subs)))
	h.stream.Submit(n)

	var wg sync.WaitGroup
	deliver := func(l Listener, target string) {
		defer wg.Done()
		tctx, cancel := budget(ctx)
		defer cancel()
		if err := report(tctx, l, n); err != nil {
			telemetry.NotificationFailures.WithLabelValues(h.node, target).Inc()
			h.log.Debug(target+" delivery failed", zap.Uint64("packet", n.PacketID), zap.Error(err))
		}
	}
	if journey != nil {
		wg.Add(1)
		go deliver(journey, "journey")
	}
	for _, l := range subs {
		wg.Add(1)
		go deliver(l, "subscriber")
	}
	wg.Wait()
}

// budget derives a context that is not cancelled with ctx but keeps the time
// ctx had left.
func budget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

// Stream returns a channel carrying every published notification until
// cancel is called. Readers that fall behind lose notifications.
func (h *Hub) Stream(buf int) (<-chan Notification, func()) {
	if buf <= 0 {
		buf = 64
	}
	in := make(chan interface{}, buf)
	out := make(chan Notification, buf)
	done := make(chan struct{})

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		close(out)
		return out, func() {}
	}
	h.stream.Register(in)
	h.mu.RUnlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case v := <-in:
				n, ok := v.(Notification)
				if !ok {
					continue
				}
				select {
				case out <- n:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			h.mu.RLock()
			if !h.closed {
				h.stream.Unregister(in)
			}
			h.mu.RUnlock()
			close(done)
		})
	}
}

// Close stops lease expiry and the stream. Published notifications after
// Close are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.leases.Stop()
	h.leases.DeleteAll()
	return h.stream.Close()
}

func leaseOf(item *ttlcache.Item[string, Listener]) Lease {
	l := Lease{ID: item.Key()}
	if item.TTL() > 0 {
		l.ExpiresAt = item.ExpiresAt()
	}
	return l
}

func report(ctx context.Context, l Listener, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.Report(ctx, n)
}
