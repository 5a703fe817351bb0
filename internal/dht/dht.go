// Package dht implements the node side of a Kademlia-style BitTorrent
// Mainline DHT (BEP-5): routing table, KRPC transport, peer storage,
// and the lookup/bootstrap/maintenance tasks that keep it useful.
package dht

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/dhtd/internal/config"
)

// DHT is the assembled node: routing table, RPC transport, peer
// storage, token manager, query handler, and the background
// maintenance loops, wired together behind a small public API.
type DHT struct {
	cfg    *config.Config
	logger *slog.Logger

	localID NodeId
	table   *RoutingTable
	rpc     *RPC
	storage *Storage
	tokens  *TokenManager
	qh      *QueryHandler

	node        *Node_
	maintenance *Maintenance
}

// New assembles a DHT node from cfg and binds its UDP socket without
// starting it; call Start to begin answering queries and bootstrapping.
func New(cfg *config.Config, logger *slog.Logger) (*DHT, error) {
	localID := deriveLocalID(cfg.NodeIDSeed)

	// K and Alpha are process-wide tuning knobs, not per-node state, so
	// they're applied as package vars here rather than threaded through
	// every Bucket/Task constructor. Running multiple DHT instances in
	// one process with different K/Alpha isn't supported; every node in
	// this process shares the last configured value.
	if cfg.K > 0 {
		K = cfg.K
	}
	if cfg.Alpha > 0 {
		Alpha = cfg.Alpha
	}

	rpc, err := NewRPC(localID, cfg.ListenAddr, logger)
	if err != nil {
		return nil, fmt.Errorf("dht: open listener: %w", err)
	}
	rpc.SetDebugWire(cfg.DebugWire)
	rpc.SetMaxInFlight(cfg.MaxInFlight)
	rpc.SetMaxDatagramSize(cfg.MaxDatagramSize)

	table := NewRoutingTable(localID)
	storage := NewStorage()
	tokens := NewTokenManager(cfg.TokenRotationInterval)
	qh := NewQueryHandler(rpc, table, storage, tokens)

	node := &Node_{LocalID: localID, Table: table, RPC: rpc}

	mcfg := DefaultMaintenanceConfig()
	mcfg.BootstrapNodes = cfg.BootstrapNodes
	mcfg.QueryTimeout = cfg.RPCTimeout

	return &DHT{
		cfg:         cfg,
		logger:      logger,
		localID:     localID,
		table:       table,
		rpc:         rpc,
		storage:     storage,
		tokens:      tokens,
		qh:          qh,
		node:        node,
		maintenance: NewMaintenance(node, mcfg, logger),
	}, nil
}

// deriveLocalID returns a deterministic id from seed, or a random one
// if seed is empty.
func deriveLocalID(seed string) NodeId {
	if seed == "" {
		return RandomNodeId()
	}
	return NodeId(sha1.Sum([]byte(seed)))
}

// Start begins reading the UDP socket bound by New, answers queries,
// and kicks off bootstrap plus the periodic maintenance loops.
func (d *DHT) Start() {
	d.rpc.SetQueryHandler(d.qh.HandleQuery)
	d.rpc.Start()
	d.maintenance.Start()
	d.logger.Info("dht node started", "id", d.localID.String(), "addr", d.rpc.LocalAddr().String())
}

// Stop tears the node down: background loops first, then the socket,
// then the peer-storage and token-rotation goroutines.
func (d *DHT) Stop() {
	d.maintenance.Stop()
	d.rpc.Stop()
	d.storage.Stop()
	d.tokens.Stop()
}

func (d *DHT) LocalID() NodeId             { return d.localID }
func (d *DHT) LocalAddr() *net.UDPAddr     { return d.rpc.LocalAddr() }
func (d *DHT) RoutingTable() *RoutingTable { return d.table }
func (d *DHT) Stats() Stats                { return d.table.GetStats() }

// Ping sends a single ping query to addr and reports the responder's
// node id, adding it to the routing table on success.
func (d *DHT) Ping(addr *net.UDPAddr) (NodeId, error) {
	txID := d.rpc.GenerateTransactionID()
	resp, err := d.rpc.Query(PingQuery(txID, d.localID), addr, d.cfg.RPCTimeout)
	if err != nil {
		return NodeId{}, err
	}

	id, ok := resp.GetNodeID()
	if !ok {
		return NodeId{}, ErrInvalidMessage
	}

	d.table.Add(&Node{ID: id, IP: addr.IP, Port: addr.Port})
	return id, nil
}

// FindNode runs an iterative find_node lookup and returns the closest
// live nodes to target that the lookup discovered.
func (d *DHT) FindNode(target NodeId) ([]*Node, error) {
	result := NewTask(d.node, target, TaskFindNode).Run()
	if result.Err != nil && len(result.ClosestNodes) == 0 {
		return nil, result.Err
	}

	nodes := make([]*Node, len(result.ClosestNodes))
	for i, c := range result.ClosestNodes {
		nodes[i] = c.Node()
	}
	return nodes, nil
}

// GetPeers runs an iterative get_peers lookup for infoHash, returning
// any peer addresses discovered directly from the swarm's own storage
// plus the closest nodes queried (for a subsequent AnnouncePeer).
func (d *DHT) GetPeers(infoHash NodeId) (*TaskResult, error) {
	result := NewTask(d.node, infoHash, TaskGetPeers).Run()
	if result.Err != nil && len(result.ClosestNodes) == 0 && len(result.Peers) == 0 {
		return nil, result.Err
	}
	return result, nil
}

// AnnouncePeer runs get_peers for infoHash to collect tokens from the
// closest nodes, then announces this node's own port to each of them
// concurrently.
func (d *DHT) AnnouncePeer(ctx context.Context, infoHash NodeId, port int) error {
	result, err := d.GetPeers(infoHash)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range result.ClosestNodes {
		token, ok := result.Tokens[c.ID()]
		if !ok {
			continue
		}

		c := c
		token := token
		g.Go(func() error {
			txID := d.rpc.GenerateTransactionID()
			msg := AnnouncePeerQuery(txID, d.localID, infoHash, port, token)

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			_, err := d.rpc.Query(msg, c.Addr(), d.cfg.RPCTimeout)
			return err
		})
	}

	return g.Wait()
}
