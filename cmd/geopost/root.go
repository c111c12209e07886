package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/internal/config"
	"github.com/ryandielhenn/geopost/internal/telemetry"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/registry"
	"github.com/ryandielhenn/geopost/pkg/transport"
)

// set with -ldflags "-X main.version=... -X main.gitSHA=..."
var (
	version = "dev"
	gitSHA  = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "geopost",
	Short: "Greedy geographic packet routing",
	Long: `geopost routes packets across nodes placed on a plane. Each node hands a
packet to the known node closest to its destination until no known node is
closer than the current one.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "net", Title: "Network Commands"})
	rootCmd.AddGroup(&cobra.Group{ID: "client", Title: "Client Commands"})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: geopost.yaml in . or ./configs)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	telemetry.SetBuildInfo(version, gitSHA)
	return cfg, log, nil
}

// etcdRegistry connects to the configured etcd cluster.
func etcdRegistry(cfg *config.Config, log *zap.Logger) (*registry.Etcd, *clientv3.Client, error) {
	cli, err := registry.NewClient(cfg.Registry.Endpoints, cfg.Registry.DialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect registry %v: %w", cfg.Registry.Endpoints, err)
	}
	log.Debug("registry client created", zap.Strings("endpoints", cli.Endpoints()))
	return registry.NewEtcd(cli, cfg.Registry.Prefix, cfg.Registry.LeaseTTL, log), cli, nil
}

func dialer(cfg *config.Config) transport.HTTPDialer {
	return transport.HTTPDialer{Client: &http.Client{Timeout: cfg.Routing.CallTimeout}}
}

// callbackListener opens the socket nodes post notifications to and returns
// the URL they should use.
func callbackListener(cfg *config.Config) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", cfg.Client.CallbackListen)
	if err != nil {
		return nil, "", fmt.Errorf("callback listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, "http://" + net.JoinHostPort(cfg.Client.CallbackHost, strconv.Itoa(port)) + "/notify", nil
}

func callbackServer(h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("POST /notify", h)
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func parseDestination(x, y string) (geo.Point, error) {
	p, err := geo.ParsePoint(x, y)
	if err != nil {
		return geo.Point{}, fmt.Errorf("destination: %w", err)
	}
	return p, nil
}
