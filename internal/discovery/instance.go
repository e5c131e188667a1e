package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Instance represents a jsonwire server found on the network
type Instance struct {
	// Name is the advertised instance name (e.g., "jsonwire-lab")
	Name string

	// Hostname is the mDNS hostname (e.g., "lab-box.local.")
	Hostname string

	// IP is the preferred address, IPv4 when the server announced one
	IP string

	// Port is the TCP port of the JSON listener
	Port int

	// Metadata contains the TXT record data
	// Common fields: "version=1.2.0", "proto=jsonwire/1", "ws=6080/ws"
	Metadata map[string]string

	// DiscoveredAt is when the instance was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the instance
func (i *Instance) String() string {
	return fmt.Sprintf("jsonwire %s (%s) at %s", i.Name, i.Hostname, i.Addr())
}

// Addr returns the host:port to dial
func (i *Instance) Addr() string {
	return net.JoinHostPort(i.IP, strconv.Itoa(i.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (i *Instance) GetMetadata(key string) string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}
