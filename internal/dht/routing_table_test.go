package dht

import (
	"math/big"
	"net"
	"testing"
)

func nodeWithID(id NodeId) *Node {
	return NewNodeWithID(id, net.IPv4(127, 0, 0, 1), 6881)
}

func TestRoutingTableAddFindNode(t *testing.T) {
	rt := NewRoutingTable(ZeroNodeId)
	n := nodeWithID(idWithLastByte(1))

	before := rt.CountNodes()
	if !rt.Add(n) {
		t.Fatal("Add should succeed for a fresh node")
	}
	if rt.CountNodes() != before+1 {
		t.Fatalf("CountNodes = %d, want %d", rt.CountNodes(), before+1)
	}

	got := rt.FindNode(n.ID)
	if got == nil || got.ID != n.ID {
		t.Fatalf("FindNode(%x) = %v, want node with that id", n.ID, got)
	}
}

func TestRoutingTableRejectsLocalID(t *testing.T) {
	rt := NewRoutingTable(ZeroNodeId)
	if rt.Add(nodeWithID(ZeroNodeId)) {
		t.Fatal("Add should reject the local node's own id")
	}
}

func TestRoutingTableNodeAddedNotification(t *testing.T) {
	rt := NewRoutingTable(ZeroNodeId)

	var notified []NodeId
	rt.OnNodeAdded(func(n *Node) { notified = append(notified, n.ID) })

	n := nodeWithID(idWithLastByte(1))
	rt.Add(n)
	rt.Add(n) // touch, not a new add

	if len(notified) != 1 {
		t.Fatalf("got %d notifications, want exactly 1", len(notified))
	}
	if notified[0] != n.ID {
		t.Fatalf("notified id = %x, want %x", notified[0], n.ID)
	}
}

// BucketSplit scenario (spec.md testable properties): start with an
// empty table whose local node has ID = all-zero, insert K+1 nodes with
// IDs 0x00..01 .. 0x00..09. After the ninth insertion the table must
// have split into at least two buckets, and the bucket containing the
// local node must have range [0, 2^159) or smaller.
func TestRoutingTableBucketSplitScenario(t *testing.T) {
	rt := NewRoutingTable(ZeroNodeId)

	for i := byte(1); i <= byte(K+1); i++ {
		if !rt.Add(nodeWithID(idWithLastByte(i))) {
			t.Fatalf("Add #%d failed", i)
		}
	}

	if rt.BucketCount() < 2 {
		t.Fatalf("BucketCount = %d after %d inserts, want >= 2", rt.BucketCount(), K+1)
	}

	localBucket := rt.Bucket(ZeroNodeId)
	width := localBucket.Width()
	maxWidth := new(big.Int).Lsh(big.NewInt(1), IDLength*8-1) // 2^159

	if width.Cmp(maxWidth) > 0 {
		t.Fatalf("local bucket width = %s, want <= 2^159 (%s)", width, maxWidth)
	}
}

// FindNodeClosest scenario: GetClosest returns exactly K nodes whose
// distances are the K smallest among all inserted nodes.
func TestRoutingTableFindNodeClosestScenario(t *testing.T) {
	rt := NewRoutingTable(RandomNodeId())

	const total = 100
	var ids []NodeId
	for i := 0; i < total; i++ {
		id := RandomNodeId()
		ids = append(ids, id)
		rt.Add(nodeWithID(id))
	}

	target := RandomNodeId()
	closest := rt.GetClosest(target)

	if len(closest) > K {
		t.Fatalf("GetClosest returned %d nodes, want at most %d", len(closest), K)
	}

	// Recompute the true K nearest by brute force and compare distance sets.
	type ranked struct {
		id   NodeId
		dist NodeId
	}
	var all []ranked
	for _, id := range ids {
		all = append(all, ranked{id: id, dist: target.Xor(id)})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].dist.Compare(all[j-1].dist) < 0; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	wantCount := K
	if len(all) < K {
		wantCount = len(all)
	}
	if len(closest) != wantCount {
		t.Fatalf("GetClosest returned %d nodes, want %d", len(closest), wantCount)
	}

	seen := make(map[NodeId]bool)
	for i, node := range closest {
		if seen[node.ID] {
			t.Fatalf("duplicate node %x in GetClosest result", node.ID)
		}
		seen[node.ID] = true

		wantDist := target.Xor(all[i].id)
		gotDist := target.Xor(node.ID)
		if gotDist.Compare(wantDist) != 0 {
			t.Fatalf("GetClosest[%d] distance = %x, want %x (ranked by brute force)", i, gotDist, wantDist)
		}
	}
}

func TestRoutingTableClear(t *testing.T) {
	rt := NewRoutingTable(ZeroNodeId)
	for i := byte(1); i <= byte(K+1); i++ {
		rt.Add(nodeWithID(idWithLastByte(i)))
	}

	rt.Clear()
	if rt.CountNodes() != 0 {
		t.Fatalf("CountNodes after Clear = %d, want 0", rt.CountNodes())
	}
	if rt.BucketCount() != 1 {
		t.Fatalf("BucketCount after Clear = %d, want 1", rt.BucketCount())
	}
}
