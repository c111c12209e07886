package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/initiator"
	"github.com/ryandielhenn/geopost/pkg/node"
	"github.com/ryandielhenn/geopost/pkg/registry"
	"github.com/ryandielhenn/geopost/pkg/transport"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Route a packet through an in-process topology",
	Long: `Builds the nodes given by --nodes in this process, connected by a loopback
transport and an in-memory registry, then routes one packet and prints its
journey. --unbind and --crash take nodes away after an optional warm-up
packet so the recovery paths can be observed.`,
	Example: `  geopost sim --nodes "A=0,0 B=5,0 C=10,0" --from A --to 9,0
  geopost sim --nodes "A=0,0 B=10,0 C=6,0" --from A --to 10,0 --warmup --unbind B`,
	Args:    cobra.NoArgs,
	GroupID: "net",
	RunE:    runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().String("nodes", "A=0,0 B=5,0 C=10,0", "space separated name=x,y list")
	simCmd.Flags().String("from", "", "entry node (default: first in --nodes)")
	simCmd.Flags().String("to", "9,0", "destination x,y")
	simCmd.Flags().Duration("delay", -1, "override routing.transit_delay")
	simCmd.Flags().Int("neighbors", 0, "override routing.neighbors")
	simCmd.Flags().Bool("warmup", false, "route one packet before applying --unbind and --crash")
	simCmd.Flags().StringSlice("unbind", nil, "nodes removed from the registry")
	simCmd.Flags().StringSlice("crash", nil, "nodes whose endpoint stops answering")
}

type simNode struct {
	name string
	at   geo.Point
}

func parseTopology(s string) ([]simNode, error) {
	var out []simNode
	seen := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		name, pair, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("node %q: want name=x,y", f)
		}
		if seen[name] {
			return nil, fmt.Errorf("node %q listed twice", name)
		}
		at, err := geo.ParsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
		seen[name] = true
		out = append(out, simNode{name: name, at: at})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no nodes given")
	}
	return out, nil
}

func runSim(cmd *cobra.Command, _ []string) error {
	topoFlag, _ := cmd.Flags().GetString("nodes")
	topo, err := parseTopology(topoFlag)
	if err != nil {
		return err
	}
	toFlag, _ := cmd.Flags().GetString("to")
	dest, err := geo.ParsePair(toFlag)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	from, _ := cmd.Flags().GetString("from")
	if from == "" {
		from = topo[0].name
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if d, _ := cmd.Flags().GetDuration("delay"); d >= 0 {
		cfg.Routing.TransitDelay = d
	}
	if k, _ := cmd.Flags().GetInt("neighbors"); k > 0 {
		cfg.Routing.Neighbors = k
	}

	ctx := cmd.Context()
	reg := registry.NewMemory()
	lb := transport.NewLoopback()
	for _, sn := range topo {
		n := node.New(sn.name, sn.at, reg, lb,
			node.WithLogger(log),
			node.WithTransitDelay(cfg.Routing.TransitDelay),
			node.WithCapacity(cfg.Routing.Neighbors),
			node.WithCallTimeout(cfg.Routing.CallTimeout),
		)
		defer n.Close()
		lb.Attach(sn.name, n)
		if err := reg.Bind(ctx, sn.name, sn.name); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if warm, _ := cmd.Flags().GetBool("warmup"); warm {
		fmt.Fprintln(out, "warm-up:")
		if _, err := simulate(ctx, reg, lb, from, dest, out); err != nil {
			return err
		}
	}
	unbind, _ := cmd.Flags().GetStringSlice("unbind")
	for _, name := range unbind {
		if err := reg.Unbind(ctx, name); err != nil {
			return err
		}
		log.Info("node unbound", zap.String("node", name))
	}
	crash, _ := cmd.Flags().GetStringSlice("crash")
	for _, name := range crash {
		lb.Crash(name)
		log.Info("node crashed", zap.String("node", name))
	}

	final, err := simulate(ctx, reg, lb, from, dest, out)
	if err != nil {
		return err
	}
	if final.Status == event.Lost {
		return errLost
	}
	return nil
}

func simulate(ctx context.Context, reg registry.Registry, d node.Dialer, from string, dest geo.Point, out io.Writer) (event.Notification, error) {
	entry, err := initiator.Entry(ctx, reg, d, from)
	if err != nil {
		return event.Notification{}, err
	}
	j, err := initiator.Send(ctx, entry, dest, func(n event.Notification) {
		fmt.Fprintln(out, n)
	})
	if err != nil {
		return event.Notification{}, err
	}
	return j.Wait(ctx)
}
