// Package config loads geopost configuration from YAML and GEOPOST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration shared by every geopost command.
type Config struct {
	Node          NodeConfig         `mapstructure:"node"`
	Registry      RegistryConfig     `mapstructure:"registry"`
	Routing       RoutingConfig      `mapstructure:"routing"`
	Subscriptions SubscriptionConfig `mapstructure:"subscriptions"`
	Client        ClientConfig       `mapstructure:"client"`
	Log           LogConfig          `mapstructure:"log"`
}

// NodeConfig controls where a routing node serves its RPC surface.
type NodeConfig struct {
	// Listen is the local HTTP listen address
	Listen string `mapstructure:"listen"`
	// Advertise is the endpoint bound in the registry; defaults to Listen
	Advertise string `mapstructure:"advertise"`
}

type RegistryConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// LeaseTTL bounds how long a crashed node stays listed
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

type RoutingConfig struct {
	TransitDelay time.Duration `mapstructure:"transit_delay"`
	Neighbors    int           `mapstructure:"neighbors"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

type SubscriptionConfig struct {
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

// ClientConfig is used by send, watch and bench to receive callbacks.
type ClientConfig struct {
	CallbackListen string `mapstructure:"callback_listen"`
	CallbackHost   string `mapstructure:"callback_host"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Node: NodeConfig{Listen: ":8080"},
		Registry: RegistryConfig{
			Endpoints:   []string{"http://127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
			LeaseTTL:    10 * time.Second,
			Prefix:      "/geopost/nodes/",
		},
		Routing: RoutingConfig{
			TransitDelay: 3 * time.Second,
			Neighbors:    3,
			CallTimeout:  5 * time.Second,
		},
		Subscriptions: SubscriptionConfig{LeaseTTL: time.Minute},
		Client: ClientConfig{
			CallbackListen: ":0",
			CallbackHost:   "127.0.0.1",
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), GEOPOST_CONFIG, or a
// geopost.yaml found in . or ./configs, then applies environment overrides.
// Environment variables use the prefix GEOPOST and `.` becomes `_`:
// GEOPOST_ROUTING_TRANSIT_DELAY=500ms.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GEOPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("GEOPOST_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("geopost")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".geopost"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds every key so env-only configs are picked up by Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("node.listen", c.Node.Listen)
	v.SetDefault("node.advertise", c.Node.Advertise)
	v.SetDefault("registry.endpoints", c.Registry.Endpoints)
	v.SetDefault("registry.dial_timeout", c.Registry.DialTimeout)
	v.SetDefault("registry.lease_ttl", c.Registry.LeaseTTL)
	v.SetDefault("registry.prefix", c.Registry.Prefix)
	v.SetDefault("routing.transit_delay", c.Routing.TransitDelay)
	v.SetDefault("routing.neighbors", c.Routing.Neighbors)
	v.SetDefault("routing.call_timeout", c.Routing.CallTimeout)
	v.SetDefault("subscriptions.lease_ttl", c.Subscriptions.LeaseTTL)
	v.SetDefault("client.callback_listen", c.Client.CallbackListen)
	v.SetDefault("client.callback_host", c.Client.CallbackHost)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.outputs", c.Log.Outputs)
	v.SetDefault("log.development", c.Log.Development)
	v.SetDefault("log.rotation.enable", c.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", c.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", c.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", c.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", c.Log.Rotation.Compress)
}

func (c *Config) validate() error {
	switch lvl := strings.ToLower(strings.TrimSpace(c.Log.Level)); lvl {
	case "debug", "info", "warn", "error":
		c.Log.Level = lvl
	case "warning":
		c.Log.Level = "warn"
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	// a single env value arrives as one comma separated string
	if len(c.Registry.Endpoints) == 1 && strings.Contains(c.Registry.Endpoints[0], ",") {
		c.Registry.Endpoints = strings.Split(c.Registry.Endpoints[0], ",")
	}
	if len(c.Registry.Endpoints) == 0 {
		return errors.New("registry.endpoints must not be empty")
	}
	if !strings.HasSuffix(c.Registry.Prefix, "/") {
		c.Registry.Prefix += "/"
	}
	if c.Routing.Neighbors <= 0 {
		return fmt.Errorf("routing.neighbors must be positive, got %d", c.Routing.Neighbors)
	}
	if c.Routing.TransitDelay < 0 {
		return fmt.Errorf("routing.transit_delay must not be negative, got %s", c.Routing.TransitDelay)
	}
	if c.Routing.CallTimeout <= 0 {
		return fmt.Errorf("routing.call_timeout must be positive, got %s", c.Routing.CallTimeout)
	}
	if c.Node.Advertise == "" {
		c.Node.Advertise = c.Node.Listen
	}
	return nil
}
