package statistics

import "net"

// isIPv4 reports whether the canonical IP string ip parses as IPv4.
// pkg/server always canonicalizes IPv4-mapped IPv6 addresses before
// they ever reach an Event, so this is a plain family check, not
// another unmapping step.
func isIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.To4() != nil
}
