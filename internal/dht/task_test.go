package dht

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

// newTestNode stands up a real UDP-backed node (RPC engine, routing
// table, storage, tokens, query handler) listening on loopback, with
// its query handler wired in, for integration-style task tests.
func newTestNode(t *testing.T) *Node_ {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	id := RandomNodeId()

	rpc, err := NewRPC(id, "127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("NewRPC: %v", err)
	}

	table := NewRoutingTable(id)
	storage := NewStorage()
	t.Cleanup(storage.Stop)
	tokens := NewTokenManager(time.Minute)
	t.Cleanup(tokens.Stop)

	qh := NewQueryHandler(rpc, table, storage, tokens)
	rpc.SetQueryHandler(qh.HandleQuery)
	rpc.Start()
	t.Cleanup(rpc.Stop)

	return &Node_{LocalID: id, Table: table, RPC: rpc}
}

func introduce(a, b *Node_) {
	a.Table.Add(&Node{ID: b.LocalID, IP: b.RPC.LocalAddr().IP, Port: b.RPC.LocalAddr().Port})
	b.Table.Add(&Node{ID: a.LocalID, IP: a.RPC.LocalAddr().IP, Port: a.RPC.LocalAddr().Port})
}

func TestTaskFindNodeDiscoversChain(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	c := newTestNode(t)

	// a knows b, b knows c: a find_node for c's id should cross the chain.
	introduce(a, b)
	introduce(b, c)

	result := NewTask(a, c.LocalID, TaskFindNode).Run()
	if result.Err != nil && len(result.ClosestNodes) == 0 {
		t.Fatalf("task failed: %v", result.Err)
	}

	found := false
	for _, n := range result.ClosestNodes {
		if n.ID() == c.LocalID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to discover node c (%s) via b, got %v", c.LocalID, result.ClosestNodes)
	}
}

func TestTaskGetPeersReturnsStoredPeers(t *testing.T) {
	a := newTestNode(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bID := RandomNodeId()
	bRPC, err := NewRPC(bID, "127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("NewRPC: %v", err)
	}
	bTable := NewRoutingTable(bID)
	bStorage := NewStorage()
	t.Cleanup(bStorage.Stop)
	bTokens := NewTokenManager(time.Minute)
	t.Cleanup(bTokens.Stop)

	infoHash := RandomNodeId()
	peerInfo := EncodePeerInfo(bRPC.LocalAddr().IP, 4000)
	bStorage.StorePeer(infoHash, peerInfo)

	bRPC.SetQueryHandler(NewQueryHandler(bRPC, bTable, bStorage, bTokens).HandleQuery)
	bRPC.Start()
	t.Cleanup(bRPC.Stop)

	b := &Node_{LocalID: bID, Table: bTable, RPC: bRPC}
	introduce(a, b)

	result := NewTask(a, infoHash, TaskGetPeers).Run()
	if len(result.Peers) == 0 {
		t.Fatalf("expected at least one peer from get_peers, got none (err=%v)", result.Err)
	}
}

func TestTaskNoRouteWithEmptyTable(t *testing.T) {
	a := newTestNode(t)

	result := NewTask(a, RandomNodeId(), TaskFindNode).Run()
	if result.Err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", result.Err)
	}
}
