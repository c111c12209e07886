package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/node"
)

var (
	// ErrUnreachable wraps every failure to get a response from a node.
	ErrUnreachable = errors.New("node unreachable")
	// ErrListenerNotAddressable is returned when a listener has no callback
	// URL and so cannot be handed to another process.
	ErrListenerNotAddressable = errors.New("listener has no callback url")
)

// Addressable is a Listener other processes can reach, such as *event.Callback.
type Addressable interface {
	event.Listener
	URL() string
}

// Client is a node.Peer backed by a remote node's HTTP surface.
type Client struct {
	base string
	http *http.Client
}

func NewClient(endpoint string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{base: BaseURL(endpoint), http: hc}
}

// Endpoint is the base URL of the remote node.
func (c *Client) Endpoint() string { return c.base }

func (c *Client) RouteMessage(ctx context.Context, pkt geo.Packet, journey event.Listener) error {
	body := node.RouteRequest{Packet: pkt}
	if journey != nil {
		a, ok := journey.(Addressable)
		if !ok {
			return ErrListenerNotAddressable
		}
		body.Listener = a.URL()
	}
	return c.do(ctx, http.MethodPost, "/route", body, nil)
}

func (c *Client) Location(ctx context.Context) (geo.Point, error) {
	var p geo.Point
	err := c.do(ctx, http.MethodGet, "/location", nil, &p)
	return p, err
}

func (c *Client) ID(ctx context.Context) (string, error) {
	var r node.IDResponse
	err := c.do(ctx, http.MethodGet, "/id", nil, &r)
	return r.ID, err
}

func (c *Client) AcceptDeliveryRequest(ctx context.Context, dest geo.Point) (geo.Packet, error) {
	var pkt geo.Packet
	err := c.do(ctx, http.MethodPost, "/packets", node.DeliveryRequest{Destination: dest}, &pkt)
	return pkt, err
}

func (c *Client) Subscribe(ctx context.Context, l event.Listener) (event.Lease, error) {
	a, ok := l.(Addressable)
	if !ok {
		return event.Lease{}, ErrListenerNotAddressable
	}
	var lease event.Lease
	err := c.do(ctx, http.MethodPost, "/subscriptions", node.SubscribeRequest{Callback: a.URL()}, &lease)
	return lease, err
}

func (c *Client) Renew(ctx context.Context, lease string) (event.Lease, error) {
	var out event.Lease
	err := c.do(ctx, http.MethodPut, "/subscriptions/"+lease, nil, &out)
	return out, err
}

func (c *Client) Unsubscribe(ctx context.Context, lease string) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+lease, nil, nil)
}

// Info fetches the node's introspection document.
func (c *Client) Info(ctx context.Context) (node.Info, error) {
	var info node.Info
	err := c.do(ctx, http.MethodGet, "/info", nil, &info)
	return info, err
}

// StatusError is a well-formed error response from a reachable node.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, c.base+path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var er node.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &er) != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: er.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, c.base+path, err)
	}
	return nil
}

// HTTPDialer dials registry endpoints as HTTP clients.
type HTTPDialer struct {
	Client *http.Client
}

func (d HTTPDialer) Dial(endpoint string) (node.Peer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("dial: empty endpoint: %w", ErrUnreachable)
	}
	return NewClient(endpoint, d.Client), nil
}

var (
	_ node.Peer   = (*Client)(nil)
	_ node.Dialer = HTTPDialer{}
	_ Addressable = (*event.Callback)(nil)
)
