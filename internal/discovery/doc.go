// Package discovery advertises and finds jsonwire servers over mDNS.
//
// A server started with discovery enabled registers itself as a
// "_jsonwire._tcp" service in the "local." domain, with TXT records carrying
// its version, the wire protocol name and, when the gateway is on, the
// WebSocket port and path.
//
// # Discovery Process
//
// The discovery process works as follows:
//  1. Broadcasts mDNS queries for "_jsonwire._tcp" on the local network
//  2. Listens for answers until the scanner timeout
//  3. Drops answers without an address or port
//  4. De-duplicates repeats of the same instance
//  5. Returns every instance seen
//
// # Usage Example
//
//	// Advertise until ctx is cancelled
//	go discovery.Advertise(ctx, "lab", 6000,
//	    "version="+version.Version, "proto="+version.Protocol)
//
//	// Find servers
//	instances, err := discovery.NewScanner().Scan(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, instance := range instances {
//	    fmt.Println(instance.Name, instance.Addr())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Servers must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
