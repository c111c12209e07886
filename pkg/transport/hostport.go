// Package transport carries node RPCs between processes over HTTP, and
// between in-process nodes through a loopback with injectable failures.
package transport

import (
	"net"
	"strings"
)

// DefaultPort is appended to endpoints registered without one.
const DefaultPort = "8080"

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port
func NormalizeHostPort(addr, defPort string) string {
	addr = strings.TrimSuffix(addr, "/")
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

// BaseURL turns a registry endpoint into the URL its node serves under.
func BaseURL(endpoint string) string {
	hp := NormalizeHostPort(endpoint, DefaultPort)
	if strings.HasPrefix(hp, ":") {
		hp = "127.0.0.1" + hp
	}
	return "http://" + hp
}
