package event

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusText(t *testing.T) {
	for _, s := range []Status{InTransit, Delivered, Lost} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back Status
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s Status
	assert.Error(t, s.UnmarshalText([]byte("MISPLACED")))
	assert.False(t, InTransit.Terminal())
	assert.True(t, Delivered.Terminal())
	assert.True(t, Lost.Terminal())
}

func TestNotificationEncode(t *testing.T) {
	n := Notification{Text: "packet 1 lost by A", PacketID: 1, Status: Lost}
	line := n.Encode()
	require.Equal(t, byte('\n'), line[len(line)-1])
	assert.JSONEq(t, `{"text":"packet 1 lost by A","packet_id":1,"status":"LOST"}`, string(line))
	assert.Equal(t, "[LOST] packet 1 lost by A", n.String())
}

func TestCallbackRoundTrip(t *testing.T) {
	got := make(chan Notification, 1)
	srv := httptest.NewServer(Receiver(ListenerFunc(func(_ context.Context, n Notification) error {
		got <- n
		return nil
	})))
	defer srv.Close()

	cb := NewCallback(srv.URL, srv.Client())
	assert.Equal(t, srv.URL, cb.URL())
	want := Notification{Text: "packet 2 arrived at B", PacketID: 2, Status: InTransit}
	require.NoError(t, cb.Report(context.Background(), want))
	assert.Equal(t, want, <-got)
}

func TestCallbackErrors(t *testing.T) {
	srv := httptest.NewServer(Receiver(ListenerFunc(func(context.Context, Notification) error {
		return assert.AnError
	})))
	defer srv.Close()

	cb := NewCallback(srv.URL, srv.Client())
	assert.Error(t, cb.Report(context.Background(), Notification{Status: Delivered}))

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv.Close()
	assert.Error(t, cb.Report(context.Background(), Notification{Status: Delivered}))
}
