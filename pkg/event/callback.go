package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Callback is a remote Listener reached by POSTing JSON notifications to a URL.
// It is how a journey listener or a subscriber travels between processes.
type Callback struct {
	url    string
	client *http.Client
}

func NewCallback(url string, client *http.Client) *Callback {
	if client == nil {
		client = http.DefaultClient
	}
	return &Callback{url: url, client: client}
}

// URL is the address other processes use to reach this listener.
func (c *Callback) URL() string { return c.url }

func (c *Callback) Report(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("callback %s: %s", c.url, resp.Status)
	}
	return nil
}

// Receiver serves the other end of a Callback, handing every posted
// notification to l.
func Receiver(l Listener) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := l.Report(r.Context(), n); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
