package node

import (
	"time"

	"github.com/ryandielhenn/geopost/pkg/geo"
	"github.com/ryandielhenn/geopost/pkg/neighbor"
)

// JSON bodies of the HTTP surface served by Handler.

type RouteRequest struct {
	Packet geo.Packet `json:"packet"`
	// Listener is the callback URL of the journey listener; empty means none
	Listener string `json:"listener,omitempty"`
}

type DeliveryRequest struct {
	Destination geo.Point `json:"destination"`
}

type SubscribeRequest struct {
	Callback string `json:"callback"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Info struct {
	Name        string           `json:"name"`
	Location    geo.Point        `json:"location"`
	Neighbors   []neighbor.Entry `json:"neighbors"`
	Subscribers int              `json:"subscribers"`
	PID         int              `json:"pid"`
	Now         time.Time        `json:"now"`
}
