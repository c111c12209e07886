package telemetry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/geopost/internal/config"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "geopost.log")
	for _, rotate := range []bool{false, true} {
		c := config.Default().Log
		c.Format = "json"
		c.Outputs = []string{path}
		c.Rotation.Enable = rotate

		log, err := NewLogger(c)
		require.NoError(t, err)
		log.Info("hello")
		log.Debug("hidden")
		require.NoError(t, log.Sync())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), `"msg":"hello"`))
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	c := config.Default().Log
	c.Level = "loud"
	_, err := NewLogger(c)
	assert.Error(t, err)
}

func TestInstrumentCountsByStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))

	before2 := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx"))
	before4 := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, before2+2, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx")))
	assert.Equal(t, before4+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")))
	assert.Zero(t, testutil.ToFloat64(InFlight.WithLabelValues("test_op")))
}

func TestMetricsHandlerExposesBuildInfo(t *testing.T) {
	SetBuildInfo("v-test", "abc123")
	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `geopost_build_info{git_sha="abc123",version="v-test"} 1`)
}
