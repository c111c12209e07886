package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/node"
	"github.com/ryandielhenn/geopost/pkg/registry"
)

var nodeCmd = &cobra.Command{
	Use:     "node <name> <x> <y>",
	Short:   "Run a routing node at (x, y)",
	Long:    `Starts a routing node, binds <name> in the registry and serves until interrupted. A name already bound by another node is fatal.`,
	Args:    cobra.ExactArgs(3),
	GroupID: "net",
	RunE:    runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().String("listen", "", "override node.listen")
	nodeCmd.Flags().String("advertise", "", "override node.advertise")
	nodeCmd.Flags().Duration("delay", -1, "override routing.transit_delay")
}

func runNode(cmd *cobra.Command, args []string) error {
	name := args[0]
	at, err := geo.ParsePoint(args[1], args[2])
	if err != nil {
		return fmt.Errorf("node location: %w", err)
	}
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Node.Listen = v
		if v, _ := cmd.Flags().GetString("advertise"); v == "" {
			cfg.Node.Advertise = cfg.Node.Listen
		}
	}
	if v, _ := cmd.Flags().GetString("advertise"); v != "" {
		cfg.Node.Advertise = v
	}
	if d, _ := cmd.Flags().GetDuration("delay"); d >= 0 {
		cfg.Routing.TransitDelay = d
	}

	reg, cli, err := etcdRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer cli.Close()

	n := node.New(name, at, reg, dialer(cfg),
		node.WithLogger(log),
		node.WithTransitDelay(cfg.Routing.TransitDelay),
		node.WithCapacity(cfg.Routing.Neighbors),
		node.WithCallTimeout(cfg.Routing.CallTimeout),
		node.WithLeaseTTL(cfg.Subscriptions.LeaseTTL),
	)

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		n.Close()
		return fmt.Errorf("listen %s: %w", cfg.Node.Listen, err)
	}
	srv := &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bindCtx, cancel := context.WithTimeout(ctx, cfg.Registry.DialTimeout)
	err = reg.Bind(bindCtx, name, cfg.Node.Advertise)
	cancel()
	if err != nil {
		ln.Close()
		n.Close()
		if errors.Is(err, registry.ErrAlreadyBound) {
			return fmt.Errorf("%s is already bound to another node", name)
		}
		return err
	}
	log.Info("node ready",
		zap.String("node", name),
		zap.Stringer("location", at),
		zap.String("listen", cfg.Node.Listen),
		zap.String("advertise", cfg.Node.Advertise))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.String("node", name))

		uctx, cancel := context.WithTimeout(context.Background(), cfg.Registry.DialTimeout)
		defer cancel()
		if err := reg.Unbind(uctx, name); err != nil {
			log.Warn("unbind failed", zap.Error(err))
		}
		n.Close()
		return shutdown(srv, cfg.Routing.CallTimeout)
	})
	return g.Wait()
}
