package dht

import (
	"bytes"
	"net"
	"testing"
)

func TestSaveLoadRoutingTableRoundTrip(t *testing.T) {
	localID := RandomNodeId()
	table := NewRoutingTable(localID)

	for i := 0; i < 5; i++ {
		table.Add(NewNode(net.IPv4(10, 0, 0, byte(i+1)), 6881+i))
	}

	var buf bytes.Buffer
	if err := SaveRoutingTable(table, &buf); err != nil {
		t.Fatalf("SaveRoutingTable: %v", err)
	}

	loadedID, nodes, err := LoadRoutingTable(&buf)
	if err != nil {
		t.Fatalf("LoadRoutingTable: %v", err)
	}

	if loadedID != localID {
		t.Fatalf("local id mismatch: got %s, want %s", loadedID, localID)
	}
	if len(nodes) != 5 {
		t.Fatalf("expected 5 persisted nodes, got %d", len(nodes))
	}

	reloaded := NewRoutingTable(loadedID)
	for _, n := range nodes {
		reloaded.AddSilent(n)
	}
	if reloaded.Size() != 5 {
		t.Fatalf("expected reloaded table to hold 5 contacts, got %d", reloaded.Size())
	}
}

func TestLoadRoutingTableRejectsMalformedDocument(t *testing.T) {
	if _, _, err := LoadRoutingTable(bytes.NewReader([]byte("not bencode"))); err == nil {
		t.Fatalf("expected an error decoding a malformed document")
	}
}

func TestLoadRoutingTableRejectsNonDictionary(t *testing.T) {
	if _, _, err := LoadRoutingTable(bytes.NewReader([]byte("l1:ae"))); err == nil {
		t.Fatalf("expected an error for a non-dictionary document")
	}
}
