// Package netutil provides small helpers for actuator endpoint handling.
package netutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidateEndpoint checks that s is a host:port pair with a non-empty host
// and a port in [1, 65535].
func ValidateEndpoint(s string) error {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	if host == "" {
		return fmt.Errorf("invalid endpoint %q: empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid endpoint %q: port must be 1-65535", s)
	}
	return nil
}

// HostOnly returns the host part of a host:port pair.
// If s has no port, it is returned unchanged.
func HostOnly(s string) string {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	return host
}

// BaseURL returns the http base URL for an actuator endpoint.
// Endpoints that already carry a scheme are returned as-is (minus any
// trailing slash).
func BaseURL(endpoint string) string {
	e := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasPrefix(e, "http://") || strings.HasPrefix(e, "https://") {
		return e
	}
	return "http://" + e
}
