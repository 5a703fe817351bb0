package dht

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	pqueue "github.com/prxssh/dhtd/pkg/heap"
	"github.com/prxssh/dhtd/pkg/syncmap"
)

// TaskKind selects which KRPC query an iterative Task issues to each
// candidate.
type TaskKind int

const (
	TaskFindNode TaskKind = iota
	TaskGetPeers
)

// Alpha is the lookup task's query concurrency width. Overridden from
// config.Config.Alpha by DHT.New; defaults to 3.
var Alpha = 3

const (
	TaskTimeout  = 30 * time.Second
	QueryTimeout = 15 * time.Second
)

// Node_ is the minimal local-node context a Task needs: its own
// identity plus the shared routing table and RPC engine. DHT embeds
// this so tasks never need the rest of the node's state (storage,
// token manager, maintenance timers).
type Node_ struct {
	LocalID NodeId
	Table   *RoutingTable
	RPC     *RPC
}

type candidate struct {
	contact *Contact
	queried bool
	token   string
}

// Task runs a single iterative Kademlia lookup against target: seed
// from the routing table's closest known contacts, query up to Alpha
// of them concurrently, fold newly discovered contacts back into the
// candidate set, and stop once the closest K candidates have all been
// queried (or the hard timeout elapses).
type Task struct {
	node   *Node_
	target NodeId
	kind   TaskKind

	mu      sync.Mutex
	queue   *pqueue.PriorityQueue[*candidate] // unqueried candidates, closest first
	pending map[string]*candidate             // transaction id -> candidate
	peers   []*net.UDPAddr

	seen *syncmap.Map[NodeId, *candidate] // every candidate ever offered

	done       chan struct{}
	queryCh    chan *candidate
	responseCh chan *taskResponse
}

type taskResponse struct {
	cand  *candidate
	nodes []*Contact
	peers []*net.UDPAddr
	token string
	err   error
}

// TaskResult is what a completed Task produced.
type TaskResult struct {
	ClosestNodes []*Contact
	Peers        []*net.UDPAddr
	// Tokens holds the get_peers token returned by each closest node
	// that answered, keyed by node id, for a follow-up announce_peer.
	Tokens map[NodeId]string
	Err    error
}

func NewTask(node *Node_, target NodeId, kind TaskKind) *Task {
	less := func(a, b *candidate) bool {
		da := target.Xor(a.contact.ID())
		db := target.Xor(b.contact.ID())
		return da.Compare(db) < 0
	}

	return &Task{
		node:       node,
		target:     target,
		kind:       kind,
		queue:      pqueue.NewPriorityQueue(less),
		pending:    make(map[string]*candidate),
		seen:       syncmap.New[NodeId, *candidate](),
		done:       make(chan struct{}),
		queryCh:    make(chan *candidate, Alpha),
		responseCh: make(chan *taskResponse, Alpha),
	}
}

// Run drives the task to completion and returns its result.
func (t *Task) Run() *TaskResult {
	seeds := t.node.Table.GetClosest(t.target)
	for _, n := range seeds {
		t.offer(NewContact(n))
	}
	if len(seeds) == 0 {
		return &TaskResult{Err: ErrNoRoute}
	}

	var wg sync.WaitGroup
	for i := 0; i < Alpha; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); t.queryWorker() }()
	}
	wg.Add(1)
	go func() { defer wg.Done(); t.responseLoop() }()

	timeout := time.After(TaskTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	t.scheduleQueries()
	for {
		select {
		case <-timeout:
			close(t.done)
			wg.Wait()
			return t.buildResult(errors.New("dht: task timed out"))
		case <-ticker.C:
			if t.isComplete() {
				close(t.done)
				wg.Wait()
				return t.buildResult(nil)
			}
			t.scheduleQueries()
		}
	}
}

func (t *Task) queryWorker() {
	for {
		select {
		case <-t.done:
			return
		case cand := <-t.queryCh:
			t.query(cand)
		}
	}
}

func (t *Task) query(cand *candidate) {
	txID := t.node.RPC.GenerateTransactionID()

	var msg *Message
	switch t.kind {
	case TaskFindNode:
		msg = FindNodeQuery(txID, t.node.LocalID, t.target)
	case TaskGetPeers:
		msg = GetPeersQuery(txID, t.node.LocalID, t.target)
	}

	t.mu.Lock()
	cand.queried = true
	t.pending[txID] = cand
	t.mu.Unlock()
	cand.contact.MarkQueried(txID)

	resp, err := t.node.RPC.Query(msg, cand.contact.Addr(), QueryTimeout)

	result := &taskResponse{cand: cand, err: err}
	if err == nil {
		t.parseResponse(resp, result)
	}

	select {
	case t.responseCh <- result:
	case <-t.done:
	}
}

func (t *Task) parseResponse(msg *Message, result *taskResponse) {
	senderID, ok := msg.GetNodeID()
	if !ok || senderID != result.cand.contact.ID() {
		result.err = ErrInvalidMessage
		return
	}

	if token, ok := msg.GetToken(); ok {
		result.token = token
	}

	if values, ok := msg.GetValues(); ok {
		for _, v := range values {
			if len(v) != 6 {
				continue
			}
			var info [6]byte
			copy(info[:], v)
			ip, port := DecodePeerInfo(info)
			result.peers = append(result.peers, &net.UDPAddr{IP: ip, Port: int(port)})
		}
	}

	if nodesData, ok := msg.GetNodes(); ok {
		for _, n := range DecodeCompactNodeInfoList(nodesData) {
			result.nodes = append(result.nodes, NewContact(n))
		}
	}
}

func (t *Task) responseLoop() {
	for {
		select {
		case <-t.done:
			return
		case resp := <-t.responseCh:
			t.handleResponse(resp)
		}
	}
}

func (t *Task) handleResponse(resp *taskResponse) {
	t.mu.Lock()
	for txID, cand := range t.pending {
		if cand == resp.cand {
			delete(t.pending, txID)
			break
		}
	}
	t.mu.Unlock()

	if resp.err != nil {
		resp.cand.contact.MarkFailed()
		return
	}

	resp.cand.contact.MarkSeen()
	resp.cand.token = resp.token

	t.mu.Lock()
	t.peers = append(t.peers, resp.peers...)
	t.mu.Unlock()

	for _, c := range resp.nodes {
		t.offer(c)
	}
}

// offer adds a freshly seen contact to the candidate set, unless it's
// the local node or already seen in this task.
func (t *Task) offer(c *Contact) {
	if c.ID() == t.node.LocalID {
		return
	}
	if _, exists := t.seen.Get(c.ID()); exists {
		return
	}

	cand := &candidate{contact: c}
	t.seen.Put(c.ID(), cand)

	t.mu.Lock()
	t.queue.Enqueue(cand)
	t.mu.Unlock()
}

// scheduleQueries hands up to Alpha-minus-in-flight unqueried
// candidates, closest first, to the query workers.
func (t *Task) scheduleQueries() {
	t.mu.Lock()
	budget := Alpha - len(t.pending)
	var batch []*candidate
	for len(batch) < budget {
		cand, ok := t.queue.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, cand)
	}
	t.mu.Unlock()

	for _, cand := range batch {
		select {
		case t.queryCh <- cand:
		case <-t.done:
			return
		}
	}
}

// closestSeen returns up to n candidates ever offered to this task,
// ordered by XOR distance to target, closest first.
func (t *Task) closestSeen(n int) []*candidate {
	var all []*candidate
	t.seen.Range(func(_ NodeId, c *candidate) bool {
		all = append(all, c)
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		di := t.target.Xor(all[i].contact.ID())
		dj := t.target.Xor(all[j].contact.ID())
		return di.Compare(dj) < 0
	})

	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *Task) isComplete() bool {
	t.mu.Lock()
	stillPending := len(t.pending) > 0
	t.mu.Unlock()
	if stillPending {
		return false
	}

	for _, cand := range t.closestSeen(K) {
		if !cand.queried {
			return false
		}
	}
	return true
}

func (t *Task) buildResult(err error) *TaskResult {
	closestCands := t.closestSeen(K)

	closest := make([]*Contact, len(closestCands))
	tokens := make(map[NodeId]string)
	for i, cand := range closestCands {
		closest[i] = cand.contact
		if cand.token != "" {
			tokens[cand.contact.ID()] = cand.token
		}
	}

	t.mu.Lock()
	peers := append([]*net.UDPAddr(nil), t.peers...)
	t.mu.Unlock()

	return &TaskResult{ClosestNodes: closest, Peers: peers, Tokens: tokens, Err: err}
}
