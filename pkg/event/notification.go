// Package event defines delivery notifications and fans them out to
// subscribed observers and to the listener travelling with a packet.
package event

import (
	"encoding/json"
	"fmt"
)

// Status is the progress tag carried by a Notification.
type Status uint8

const (
	InTransit Status = iota
	Delivered
	Lost
)

func (s Status) String() string {
	switch s {
	case InTransit:
		return "IN_TRANSIT"
	case Delivered:
		return "DELIVERED"
	case Lost:
		return "LOST"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether s ends a packet's journey.
func (s Status) Terminal() bool { return s == Delivered || s == Lost }

func (s Status) MarshalText() ([]byte, error) {
	if s > Lost {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IN_TRANSIT":
		*s = InTransit
	case "DELIVERED":
		*s = Delivered
	case "LOST":
		*s = Lost
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Notification reports progress of one packet. Values are immutable.
type Notification struct {
	Text     string `json:"text"`
	PacketID uint64 `json:"packet_id"`
	Status   Status `json:"status"`
}

func (n Notification) String() string {
	return fmt.Sprintf("[%s] %s", n.Status, n.Text)
}

// Encode renders n as a single JSON line.
func (n Notification) Encode() []byte {
	b, _ := json.Marshal(n)
	return append(b, '\n')
}
