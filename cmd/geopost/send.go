package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/initiator"
)

var errLost = errors.New("packet lost")

var sendCmd = &cobra.Command{
	Use:   "send <entry> <x> <y>",
	Short: "Send a packet into the network at node <entry>",
	Long: `Mints a packet bound for (x, y) at the node named <entry> and prints every
notification of its journey. Exits 0 once the packet is delivered and 1 if it
is lost.`,
	Args:    cobra.ExactArgs(3),
	GroupID: "client",
	RunE:    runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Duration("timeout", 0, "give up waiting after this long (0 waits forever)")
}

func runSend(cmd *cobra.Command, args []string) error {
	dest, err := parseDestination(args[1], args[2])
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	d := dialer(cfg)
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.Routing.CallTimeout)
	entry, err := initiator.Entry(lookupCtx, reg, d, args[0])
	cancel()
	if err != nil {
		return err
	}

	ln, url, err := callbackListener(cfg)
	if err != nil {
		return err
	}
	tr := initiator.NewTracker(event.NewCallback(url, d.Client), log)
	srv := callbackServer(tr.Handler())
	go srv.Serve(ln)
	defer shutdown(srv, time.Second)

	out := cmd.OutOrStdout()
	j, err := tr.Send(ctx, entry, dest, func(n event.Notification) {
		fmt.Fprintln(out, n)
	})
	if err != nil {
		return err
	}
	log.Debug("waiting for packet", zap.Uint64("packet", j.PacketID()), zap.String("callback", url))

	final, err := j.Wait(ctx)
	if err != nil {
		return fmt.Errorf("packet %d: %w", j.PacketID(), err)
	}
	if final.Status == event.Lost {
		return fmt.Errorf("packet %d: %w", j.PacketID(), errLost)
	}
	return nil
}
