package node_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/node"
)

func TestHealthzAndInfo(t *testing.T) {
	c := newCluster(t)
	a := c.add("A", 1, 2)
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var info node.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "A", info.Name)
	assert.Equal(t, geo.Point{X: 1, Y: 2}, info.Location)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "geopost_")

	require.NoError(t, a.Close())
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandlersRejectBadInput(t *testing.T) {
	c := newCluster(t)
	h := c.add("A", 0, 0).Handler()

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/packets", "{", http.StatusBadRequest},
		{http.MethodPost, "/route", `{"packet":{"id":1,"destination":{"x":1,"y":1}},"listener":"::bad"}`, http.StatusAccepted},
		{http.MethodPost, "/route", "nope", http.StatusBadRequest},
		{http.MethodPost, "/subscriptions", `{}`, http.StatusBadRequest},
		{http.MethodPut, "/subscriptions/missing", "", http.StatusNotFound},
		{http.MethodDelete, "/subscriptions/missing", "", http.StatusNotFound},
		{http.MethodGet, "/route", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, tc.want, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestEventsStream(t *testing.T) {
	c := newCluster(t)
	a := c.add("A", 0, 0)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	pkt, _ := c.send("A", 2, 2)

	sc := bufio.NewScanner(resp.Body)
	var got []event.Notification
	for len(got) < 2 && sc.Scan() {
		var n event.Notification
		require.NoError(t, json.Unmarshal(sc.Bytes(), &n))
		got = append(got, n)
	}
	require.Len(t, got, 2)
	assert.Equal(t, pkt.ID, got[0].PacketID)
	assert.Equal(t, event.Delivered, got[1].Status)
}
