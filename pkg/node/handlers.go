package node

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/geopost/internal/telemetry"
	"github.com/ryandielhenn/geopost/pkg/event"
	"github.com/ryandielhenn/geopost/pkg/registry"
)

// Handler exposes the node's RPC surface over HTTP:
//
//	GET    /healthz
//	GET    /info
//	GET    /id
//	GET    /location
//	POST   /packets                  AcceptDeliveryRequest
//	POST   /route                    RouteMessage
//	POST   /subscriptions            Subscribe
//	PUT    /subscriptions/{lease}    Renew
//	DELETE /subscriptions/{lease}    Unsubscribe
//	GET    /events                   NDJSON notification stream
//	GET    /metrics
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, op string, h http.HandlerFunc) {
		mux.Handle(pattern, telemetry.Instrument(op, h))
	}
	handle("GET /healthz", "healthz", n.Healthz)
	handle("GET /info", "info", n.InfoHandler)
	handle("GET /id", "id", n.IDHandler)
	handle("GET /location", "location", n.LocationHandler)
	handle("POST /packets", "accept", n.Accept)
	handle("POST /route", "route", n.Route)
	handle("POST /subscriptions", "subscribe", n.SubscribeHandler)
	handle("PUT /subscriptions/{lease}", "renew", n.RenewHandler)
	handle("DELETE /subscriptions/{lease}", "unsubscribe", n.UnsubscribeHandler)
	handle("GET /events", "events", n.Events)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	return mux
}

// Healthz returns 200 OK while the node accepts packets.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	if n.isClosed() {
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// InfoHandler writes the node's location, neighbor table and subscriber count.
func (n *Node) InfoHandler(w http.ResponseWriter, _ *http.Request) {
	info := n.Snapshot()
	info.PID = os.Getpid()
	info.Now = time.Now()
	writeJSON(w, http.StatusOK, info)
}

func (n *Node) IDHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, IDResponse{ID: n.name})
}

func (n *Node) LocationHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.at)
}

// Accept mints a packet for the requested destination.
func (n *Node) Accept(w http.ResponseWriter, req *http.Request) {
	var body DeliveryRequest
	if !readJSON(w, req, &body) {
		return
	}
	if !body.Destination.Finite() {
		writeError(w, http.StatusBadRequest, errors.New("destination must be finite"))
		return
	}
	pkt, err := n.AcceptDeliveryRequest(req.Context(), body.Destination)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, pkt)
}

// Route takes a packet handed over by an initiator or an upstream node. It
// answers 202 as soon as the arrival has been reported.
func (n *Node) Route(w http.ResponseWriter, req *http.Request) {
	var body RouteRequest
	if !readJSON(w, req, &body) {
		return
	}
	if !body.Packet.Destination.Finite() {
		writeError(w, http.StatusBadRequest, errors.New("destination must be finite"))
		return
	}
	var journey event.Listener
	if body.Listener != "" {
		journey = event.NewCallback(body.Listener, n.callbacks)
	}
	if err := n.RouteMessage(req.Context(), body.Packet, journey); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) SubscribeHandler(w http.ResponseWriter, req *http.Request) {
	var body SubscribeRequest
	if !readJSON(w, req, &body) {
		return
	}
	if body.Callback == "" {
		writeError(w, http.StatusBadRequest, errors.New("callback is required"))
		return
	}
	lease, err := n.Subscribe(req.Context(), event.NewCallback(body.Callback, n.callbacks))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	n.log.Info("observer subscribed", zap.String("lease", lease.ID), zap.String("callback", body.Callback))
	writeJSON(w, http.StatusCreated, lease)
}

func (n *Node) RenewHandler(w http.ResponseWriter, req *http.Request) {
	lease, err := n.Renew(req.Context(), req.PathValue("lease"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (n *Node) UnsubscribeHandler(w http.ResponseWriter, req *http.Request) {
	if err := n.Unsubscribe(req.Context(), req.PathValue("lease")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events streams every notification produced here as newline-delimited JSON
// until the client goes away or the node closes.
func (n *Node) Events(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	notes, cancel := n.hub.Stream(64)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-n.ctx.Done():
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			if _, err := w.Write(note.Encode()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, event.ErrUnknownLease), errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyBound):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func readJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
