package dht

import (
	"net"
	"testing"
)

func contactWithID(b byte) *Contact {
	id := idWithLastByte(b)
	return NewContact(NewNodeWithID(id, net.IPv4(127, 0, 0, 1), 6881))
}

func TestBucketAddUntilFull(t *testing.T) {
	bucket := NewOpenBucket(ZeroNodeId)

	for i := 1; i <= K; i++ {
		if got := bucket.Add(contactWithID(byte(i))); got != AddAppended {
			t.Fatalf("Add #%d = %v, want AddAppended", i, got)
		}
	}
	if !bucket.IsFull() {
		t.Fatal("bucket should be full after K inserts")
	}

	result := bucket.Add(contactWithID(byte(K + 1)))
	if result != AddFull {
		t.Fatalf("Add into full bucket = %v, want AddFull", result)
	}
	if bucket.Replacement() == nil {
		t.Fatal("overflowing add should stash a replacement candidate")
	}
}

func TestBucketAddUpdatesExisting(t *testing.T) {
	bucket := NewOpenBucket(ZeroNodeId)
	c := contactWithID(1)
	bucket.Add(c)

	if got := bucket.Add(contactWithID(1)); got != AddUpdated {
		t.Fatalf("re-adding same id = %v, want AddUpdated", got)
	}
	if bucket.Len() != 1 {
		t.Fatalf("bucket len = %d, want 1", bucket.Len())
	}
}

func TestBucketAddReplacesBad(t *testing.T) {
	bucket := NewOpenBucket(ZeroNodeId)

	for i := 1; i <= K; i++ {
		bucket.Add(contactWithID(byte(i)))
	}

	bad := bucket.Get(idWithLastByte(1))
	bad.MarkFailed()
	bad.MarkFailed()
	if !bad.IsBad() {
		t.Fatal("contact should be bad after badAfterFailures failures")
	}

	result := bucket.Add(contactWithID(byte(K + 1)))
	if result != AddReplaced {
		t.Fatalf("Add over a bad contact = %v, want AddReplaced", result)
	}
	if bucket.Contains(idWithLastByte(1)) {
		t.Fatal("bad contact should have been evicted")
	}
	if !bucket.Contains(idWithLastByte(byte(K + 1))) {
		t.Fatal("new contact should have been inserted")
	}
}

func TestBucketSplitPartitionsRange(t *testing.T) {
	bucket := NewBucket(ZeroNodeId, idWithLastByte(20))
	var all []NodeId
	for i := byte(1); i <= byte(K+1); i++ {
		id := idWithLastByte(i)
		all = append(all, id)
		bucket.contacts = append(bucket.contacts, NewContact(NewNodeWithID(id, net.IPv4(127, 0, 0, 1), 6881)))
	}

	lower, upper := bucket.split()

	if lower.Max != upper.Min {
		t.Fatalf("child ranges don't meet: lower.Max=%x upper.Min=%x", lower.Max, upper.Min)
	}
	if lower.Min != bucket.Min || upper.Max != bucket.Max {
		t.Fatal("child ranges don't partition the parent's range")
	}

	seen := make(map[NodeId]bool)
	for _, c := range lower.All() {
		seen[c.ID()] = true
	}
	for _, c := range upper.All() {
		seen[c.ID()] = true
	}
	if len(seen) != len(all) {
		t.Fatalf("split lost or duplicated contacts: got %d distinct, want %d", len(seen), len(all))
	}
	for _, id := range all {
		if !seen[id] {
			t.Fatalf("contact %x missing after split", id)
		}
	}
}
