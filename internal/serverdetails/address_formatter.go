// Package serverdetails renders listener addresses for operator-facing
// output.
package serverdetails

import (
	"net"
	"strings"
)

const displayHostLocalhost = "localhost"

// ServingAddressFormatter formats bind addresses for logs and startup
// messages.
type ServingAddressFormatter struct{}

// NewServingAddressFormatter constructs a ServingAddressFormatter.
func NewServingAddressFormatter() ServingAddressFormatter {
	return ServingAddressFormatter{}
}

// FormatHostAndPortForLogging returns a host:port display string. Wildcard
// and loopback bind addresses are shown as localhost because that is the
// address a local browser should open.
func (formatter ServingAddressFormatter) FormatHostAndPortForLogging(bindAddress string, port string) string {
	host := strings.TrimSpace(bindAddress)
	switch host {
	case "", "0.0.0.0", "127.0.0.1", "::", "::1":
		host = displayHostLocalhost
	}
	return net.JoinHostPort(host, port)
}

// FormatURLForLogging returns a full URL display string for the scheme and
// bind address.
func (formatter ServingAddressFormatter) FormatURLForLogging(scheme string, bindAddress string, port string) string {
	normalizedScheme := strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	return normalizedScheme + "://" + formatter.FormatHostAndPortForLogging(bindAddress, port)
}
