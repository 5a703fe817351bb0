// Package config holds the dhtnode daemon's runtime configuration and
// a process-global atomic store for it.
package config

import (
	"time"
)

// Config is behavior and resource limits for a running DHT node.
type Config struct {
	// ListenAddr is the UDP address ("host:port") the node listens on.
	ListenAddr string

	// NodeIDSeed, if non-empty, derives the local node id
	// deterministically (SHA1 of the seed) instead of drawing one at
	// random. Mainly for reproducible tests and fixed bootstrap ids.
	NodeIDSeed string

	// BootstrapNodes are well-known "host:port" peers used to join the
	// network on first start.
	BootstrapNodes []string

	// K is the routing table's bucket size, applied package-wide by
	// DHT.New before any bucket is created.
	K int

	// Alpha is the lookup task's query concurrency, applied
	// package-wide by DHT.New before any task runs.
	Alpha int

	// RPCTimeout bounds how long DHT.Ping, DHT.AnnouncePeer and the
	// maintenance pings wait for a response before treating the peer as
	// unresponsive. Iterative lookup tasks do not use it; they wait the
	// fixed dht.QueryTimeout per query.
	RPCTimeout time.Duration

	// TokenRotationInterval is how often the get_peers token secret
	// rotates.
	TokenRotationInterval time.Duration

	// MaxInFlight caps the number of outstanding queries the node will
	// have in flight across all lookups at once; RPC.Query fails fast
	// with ErrBusy once the ceiling is hit.
	MaxInFlight int

	// MaxDatagramSize caps the size of a single UDP datagram the node
	// will attempt to decode; larger datagrams are read off the socket
	// and dropped without being decoded.
	// Default 1500 matches typical path MTU.
	MaxDatagramSize int

	// RoutingTablePath, if non-empty, is where the routing table is
	// persisted between runs.
	RoutingTablePath string

	// DebugWire logs a correlation id for every inbound datagram.
	DebugWire bool
}

// DefaultConfig returns sensible defaults for a standalone node.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":6881",
		BootstrapNodes: []string{
			"router.bittorrent.com:6881",
			"router.utorrent.com:6881",
			"dht.transmissionbt.com:6881",
		},
		K:                     8,
		Alpha:                 3,
		RPCTimeout:            15 * time.Second,
		TokenRotationInterval: 5 * time.Minute,
		MaxInFlight:           256,
		MaxDatagramSize:       1500,
		RoutingTablePath:      "",
		DebugWire:             false,
	}
}
