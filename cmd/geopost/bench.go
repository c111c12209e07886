package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/initiator"
	"github.com/ryandielhenn/geopost/pkg/node"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	Short:   "Send many packets and report delivery counts and throughput",
	Args:    cobra.NoArgs,
	GroupID: "client",
	RunE:    runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntP("requests", "n", 200, "packets to send")
	benchCmd.Flags().IntP("concurrency", "k", 16, "packets in flight at once")
	benchCmd.Flags().String("area", "0,0,100,100", "destinations are drawn from minX,minY,maxX,maxY")
	benchCmd.Flags().Duration("timeout", time.Minute, "per packet wait limit")
}

type benchResult struct {
	delivered, lost, failed atomic.Int64
}

func runBench(cmd *cobra.Command, _ []string) error {
	n, _ := cmd.Flags().GetInt("requests")
	conc, _ := cmd.Flags().GetInt("concurrency")
	area, _ := cmd.Flags().GetString("area")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if n <= 0 || conc <= 0 {
		return errors.New("requests and concurrency must be positive")
	}
	lo, hi, err := parseArea(area)
	if err != nil {
		return err
	}

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

	ctx := cmd.Context()
	names, err := reg.List(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("no nodes registered")
	}
	d := dialer(cfg)
	entries := make([]node.Peer, 0, len(names))
	for _, name := range names {
		p, err := initiator.Entry(ctx, reg, d, name)
		if err != nil {
			log.Warn("skipping entry node", zap.String("node", name), zap.Error(err))
			continue
		}
		entries = append(entries, p)
	}
	if len(entries) == 0 {
		return errors.New("no reachable entry node")
	}

	ln, url, err := callbackListener(cfg)
	if err != nil {
		return err
	}
	tr := initiator.NewTracker(event.NewCallback(url, d.Client), log)
	srv := callbackServer(tr.Handler())
	go srv.Serve(ln)
	defer shutdown(srv, time.Second)

	var res benchResult
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, conc)
	start := time.Now()

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			entry := entries[rand.Intn(len(entries))]
			dest := geo.Point{
				X: lo.X + rand.Float64()*(hi.X-lo.X),
				Y: lo.Y + rand.Float64()*(hi.Y-lo.Y),
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			j, err := tr.Send(pctx, entry, dest, nil)
			if err != nil {
				res.failed.Add(1)
				log.Debug("send failed", zap.Int("i", i), zap.Error(err))
				return
			}
			final, err := j.Wait(pctx)
			switch {
			case err != nil:
				tr.Forget(j.PacketID())
				res.failed.Add(1)
			case final.Status == event.Delivered:
				res.delivered.Add(1)
			default:
				res.lost.Add(1)
			}
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Fprintf(cmd.OutOrStdout(), "Completed %d packets in %s (%.2f packets/s): %d delivered, %d lost, %d failed\n",
		n, dur, float64(n)/dur.Seconds(), res.delivered.Load(), res.lost.Load(), res.failed.Load())
	return nil
}

func parseArea(s string) (lo, hi geo.Point, err error) {
	var x0, y0, x1, y1 float64
	if _, err := fmt.Sscanf(s, "%g,%g,%g,%g", &x0, &y0, &x1, &y1); err != nil {
		return lo, hi, fmt.Errorf("area %q: want minX,minY,maxX,maxY", s)
	}
	if x1 < x0 || y1 < y0 {
		return lo, hi, fmt.Errorf("area %q: max below min", s)
	}
	return geo.Point{X: x0, Y: y0}, geo.Point{X: x1, Y: y1}, nil
}
