package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/initiator"
	"github.com/ryandielhenn/geopost/pkg/node"
	"github.com/ryandielhenn/geopost/pkg/registry"
	"github.com/ryandielhenn/geopost/pkg/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every notification produced anywhere in the network",
	Long: `Subscribes to every registered node, follows the registry to subscribe to
nodes that join later and prints each notification until interrupted.`,
	Args:    cobra.NoArgs,
	GroupID: "client",
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("json", false, "print notifications as JSON lines")
}

// observer holds one lease per node it watches.
type observer struct {
	reg  registry.Registry
	dial node.Dialer
	cb   event.Listener
	log  *zap.Logger
	tmo  time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	peer  node.Peer
	lease event.Lease
}

func newObserver(reg registry.Registry, dial node.Dialer, cb event.Listener, tmo time.Duration, log *zap.Logger) *observer {
	return &observer{
		reg:  reg,
		dial: dial,
		cb:   cb,
		log:  log,
		tmo:  tmo,
		subs: make(map[string]subscription),
	}
}

func (o *observer) subscribe(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, o.tmo)
	defer cancel()
	peer, err := initiator.Entry(ctx, o.reg, o.dial, name)
	if err != nil {
		return err
	}
	lease, err := peer.Subscribe(ctx, o.cb)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", name, err)
	}
	o.mu.Lock()
	o.subs[name] = subscription{peer: peer, lease: lease}
	o.mu.Unlock()
	o.log.Info("watching node", zap.String("node", name), zap.String("lease", lease.ID))
	return nil
}

func (o *observer) forget(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, name)
}

func (o *observer) snapshot() map[string]subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]subscription, len(o.subs))
	for k, v := range o.subs {
		out[k] = v
	}
	return out
}

// renew extends every lease, subscribing again where a node lost ours.
func (o *observer) renew(ctx context.Context) {
	for name, s := range o.snapshot() {
		rctx, cancel := context.WithTimeout(ctx, o.tmo)
		_, err := s.peer.Renew(rctx, s.lease.ID)
		cancel()
		if err == nil {
			continue
		}
		var se *transport.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			o.log.Info("lease expired, subscribing again", zap.String("node", name))
			if err := o.subscribe(ctx, name); err != nil {
				o.log.Warn("resubscribe failed", zap.String("node", name), zap.Error(err))
			}
			continue
		}
		o.log.Warn("lease renewal failed", zap.String("node", name), zap.Error(err))
	}
}

// follow subscribes to every node bound in w, now or later, until ctx is done.
func (o *observer) follow(ctx context.Context, w registry.Watcher) error {
	return w.Watch(ctx, func(c registry.Change) {
		switch c.Kind {
		case registry.Bound:
			if err := o.subscribe(ctx, c.Name); err != nil {
				o.log.Warn("cannot watch node", zap.String("node", c.Name), zap.Error(err))
			}
		case registry.Unbound:
			o.forget(c.Name)
			o.log.Info("node left", zap.String("node", c.Name))
		}
	})
}

// keepAlive renews every lease each period until ctx is done.
func (o *observer) keepAlive(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.renew(ctx)
		}
	}
}

func (o *observer) release() {
	ctx, cancel := context.WithTimeout(context.Background(), o.tmo)
	defer cancel()
	for name, s := range o.snapshot() {
		if err := s.peer.Unsubscribe(ctx, s.lease.ID); err != nil {
			o.log.Debug("unsubscribe failed", zap.String("node", name), zap.Error(err))
		}
	}
}

func printer(out io.Writer, asJSON bool) event.Listener {
	var mu sync.Mutex
	return event.ListenerFunc(func(_ context.Context, n event.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		if asJSON {
			_, err := out.Write(n.Encode())
			return err
		}
		_, err := fmt.Fprintln(out, n)
		return err
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, cli, err := etcdRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer cli.Close()

	ln, url, err := callbackListener(cfg)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	srv := callbackServer(event.Receiver(printer(cmd.OutOrStdout(), asJSON)))

	d := dialer(cfg)
	o := newObserver(reg, d, event.NewCallback(url, d.Client), cfg.Routing.CallTimeout, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("callback server: %w", err)
		}
		return nil
	})

	// the watch replays nodes already bound, so nothing joins unseen
	g.Go(func() error { return o.follow(gctx, reg) })

	g.Go(func() error {
		every := cfg.Subscriptions.LeaseTTL / 3
		if every <= 0 {
			every = 20 * time.Second
		}
		o.keepAlive(gctx, every)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		o.release()
		return shutdown(srv, time.Second)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
