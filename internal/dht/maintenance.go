package dht

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/prxssh/dhtd/pkg/retry"
)

// MaintenanceConfig tunes the background upkeep loops: bootstrap,
// stale-bucket refresh, and questionable-contact liveness checks.
type MaintenanceConfig struct {
	BootstrapNodes  []string
	RefreshInterval time.Duration // how often to scan for stale buckets
	PingInterval    time.Duration // how often to scan for questionable contacts
	QueryTimeout    time.Duration
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		RefreshInterval: time.Minute,
		PingInterval:    30 * time.Second,
		QueryTimeout:    QueryTimeout,
	}
}

// Maintenance drives the periodic upkeep a live DHT node needs beyond
// answering queries: joining the network at startup, keeping every
// bucket's contents fresh, and evicting contacts that stop responding
// in favor of their replacement.
type Maintenance struct {
	node   *Node_
	cfg    MaintenanceConfig
	logger *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func NewMaintenance(node *Node_, cfg MaintenanceConfig, logger *slog.Logger) *Maintenance {
	return &Maintenance{node: node, cfg: cfg, logger: logger, done: make(chan struct{})}
}

func (m *Maintenance) Start() {
	m.wg.Add(1)
	go func() { defer m.wg.Done(); m.Bootstrap() }()

	m.wg.Add(2)
	go func() { defer m.wg.Done(); m.refreshLoop() }()
	go func() { defer m.wg.Done(); m.pingLoop() }()
}

func (m *Maintenance) Stop() {
	close(m.done)
	m.wg.Wait()
}

// Bootstrap seeds the routing table from the configured well-known
// nodes, retrying each one a few times before giving up on it, then
// runs a find_node task against the local id to pull in the rest of
// its neighborhood.
func (m *Maintenance) Bootstrap() {
	var wg sync.WaitGroup
	for _, addr := range m.cfg.BootstrapNodes {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := m.pingBootstrapNode(addr); err != nil {
				m.logger.Warn("bootstrap node unreachable", "addr", addr, "error", err.Error())
			}
		}(addr)
	}
	wg.Wait()

	NewTask(m.node, m.node.LocalID, TaskFindNode).Run()
}

func (m *Maintenance) pingBootstrapNode(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	return retry.Do(context.Background(), func(ctx context.Context) error {
		txID := m.node.RPC.GenerateTransactionID()
		resp, err := m.node.RPC.Query(PingQuery(txID, m.node.LocalID), udpAddr, m.cfg.QueryTimeout)
		if err != nil {
			return err
		}

		senderID, ok := resp.GetNodeID()
		if !ok {
			return ErrInvalidMessage
		}
		m.node.Table.Add(&Node{ID: senderID, IP: udpAddr.IP, Port: udpAddr.Port})
		return nil
	}, retry.WithExponentialBackoff(3, 200*time.Millisecond, 2*time.Second)...)
}

func (m *Maintenance) refreshLoop() {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.refreshStaleBuckets()
		}
	}
}

func (m *Maintenance) refreshStaleBuckets() {
	var wg sync.WaitGroup
	for _, b := range m.node.Table.BucketsNeedingRefresh() {
		wg.Add(1)
		go func(b *Bucket) {
			defer wg.Done()
			target := randomIDInRange(b.Min, b.Max, b.Open)
			NewTask(m.node, target, TaskFindNode).Run()
		}(b)
	}
	wg.Wait()
}

func (m *Maintenance) pingLoop() {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.checkQuestionable()
			m.checkEvictions()
		}
	}
}

func (m *Maintenance) checkQuestionable() {
	var wg sync.WaitGroup
	for _, c := range m.node.Table.QuestionableContacts() {
		wg.Add(1)
		go func(c *Contact) {
			defer wg.Done()
			m.pingContact(c)
		}(c)
	}
	wg.Wait()
}

// checkEvictions visits every bucket holding a stashed replacement and
// pings its least-recently-seen live contact: a timeout evicts the LRU
// contact and promotes the replacement in its place, a response keeps
// the LRU contact and discards the replacement.
func (m *Maintenance) checkEvictions() {
	for _, b := range m.node.Table.Buckets() {
		if b.Replacement() == nil {
			continue
		}

		lru := b.LRU()
		if lru == nil {
			b.DiscardReplacement()
			continue
		}

		if m.pingContact(lru) {
			b.DiscardReplacement()
		} else {
			b.Remove(lru.ID())
			b.PromoteReplacement()
		}
	}
}

// pingContact sends a ping and updates the contact's liveness state,
// reporting whether it answered.
func (m *Maintenance) pingContact(c *Contact) bool {
	txID := m.node.RPC.GenerateTransactionID()
	resp, err := m.node.RPC.Query(PingQuery(txID, m.node.LocalID), c.Addr(), m.cfg.QueryTimeout)
	if err != nil {
		c.MarkFailed()
		return false
	}
	if _, ok := resp.GetNodeID(); !ok {
		c.MarkFailed()
		return false
	}
	c.MarkSeen()
	return true
}

// randomIDInRange returns a uniformly random NodeId in [min, max)
// (or [min, 2^160) when open), for seeding a bucket's refresh lookup.
func randomIDInRange(min, max NodeId, open bool) NodeId {
	width := RangeWidth(min, max, open)
	if width.Sign() <= 0 {
		return min
	}

	offset, err := rand.Int(rand.Reader, width)
	if err != nil {
		return min
	}

	result := new(big.Int).Add(min.Big(), offset)

	var id NodeId
	b := result.Bytes()
	copy(id[IDLength-len(b):], b)
	return id
}
