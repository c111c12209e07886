package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GEOPOST_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Routing.TransitDelay)
	assert.Equal(t, 3, cfg.Routing.Neighbors)
	assert.Equal(t, ":8080", cfg.Node.Advertise, "advertise falls back to listen")
	assert.Equal(t, "/geopost/nodes/", cfg.Registry.Prefix)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geopost.yaml")
	yaml := `
node:
  listen: ":9000"
  advertise: "http://a:9000"
registry:
  endpoints: ["http://etcd:2379"]
  prefix: /test/nodes
routing:
  transit_delay: 250ms
  neighbors: 5
log:
  level: WARNING
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("GEOPOST_ROUTING_CALL_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://a:9000", cfg.Node.Advertise)
	assert.Equal(t, []string{"http://etcd:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, "/test/nodes/", cfg.Registry.Prefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Routing.TransitDelay)
	assert.Equal(t, 5, cfg.Routing.Neighbors)
	assert.Equal(t, 2*time.Second, cfg.Routing.CallTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"level":     func(c *Config) { c.Log.Level = "loud" },
		"neighbors": func(c *Config) { c.Routing.Neighbors = 0 },
		"delay":     func(c *Config) { c.Routing.TransitDelay = -time.Second },
		"timeout":   func(c *Config) { c.Routing.CallTimeout = 0 },
		"endpoints": func(c *Config) { c.Registry.Endpoints = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			require.Error(t, c.validate())
		})
	}
}

func TestValidateSplitsEndpoints(t *testing.T) {
	c := Default()
	c.Registry.Endpoints = []string{"http://a:2379,http://b:2379"}
	require.NoError(t, c.validate())
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, c.Registry.Endpoints)
}
