package dht

import (
	"math/big"
	"sort"
	"sync"
)

// minSplitWidth is the smallest range width a bucket may still be
// split into two; below it, splitting is refused to prevent unbounded
// recursion when several remote IDs collide at the extreme of a range.
// Following the reference policy this is K, not 1. Computed fresh each
// call since K may be overridden by config after package init.
func minSplitWidth() *big.Int { return big.NewInt(int64(K)) }

// RoutingTable is the dynamic tree of buckets partitioning the NodeId
// space [0, 2^160) around the local node's own identity. Exactly one
// bucket contains the local ID at all times; that bucket is the only
// one ever split, which bounds the tree's depth.
type RoutingTable struct {
	localID NodeId

	mut     sync.RWMutex
	buckets []*Bucket // sorted ascending by Min; tiles the full space

	listenersMut sync.RWMutex
	listeners    []func(*Node)
}

// NewRoutingTable returns a table with a single bucket spanning the
// entire key space.
func NewRoutingTable(localID NodeId) *RoutingTable {
	return &RoutingTable{
		localID: localID,
		buckets: []*Bucket{NewOpenBucket(ZeroNodeId)},
	}
}

func (rt *RoutingTable) LocalID() NodeId { return rt.localID }

// OnNodeAdded registers fn to be called, in no particular order
// relative to other subscribers, after any Add that truly inserts a
// new node (at-most-once per insertion, never for a mere touch).
func (rt *RoutingTable) OnNodeAdded(fn func(*Node)) {
	rt.listenersMut.Lock()
	defer rt.listenersMut.Unlock()

	rt.listeners = append(rt.listeners, fn)
}

func (rt *RoutingTable) notifyNodeAdded(node *Node) {
	rt.listenersMut.RLock()
	defer rt.listenersMut.RUnlock()

	for _, fn := range rt.listeners {
		fn(node)
	}
}

// bucketFor returns the index of the unique bucket covering id. Callers
// must hold rt.mut.
func (rt *RoutingTable) bucketFor(id NodeId) int {
	// Buckets are sorted and cover contiguous, non-overlapping ranges, so
	// the last bucket whose Min is <= id is the one that contains it.
	idx := sort.Search(len(rt.buckets), func(i int) bool {
		return rt.buckets[i].Min.Compare(id) > 0
	})
	return idx - 1
}

// Add implements the routing-table Add algorithm: locate the bucket
// covering node.Id, attempt Bucket.Add, and split-and-retry once if the
// bucket is full and still contains the local ID.
func (rt *RoutingTable) Add(node *Node) bool {
	if node.ID == rt.localID {
		return false
	}

	rt.mut.Lock()
	added := rt.addLocked(node)
	rt.mut.Unlock()

	if added {
		rt.notifyNodeAdded(node)
	}
	return added
}

func (rt *RoutingTable) addLocked(node *Node) bool {
	idx := rt.bucketFor(node.ID)
	bucket := rt.buckets[idx]
	contact := NewContact(node)

	result := bucket.Add(contact)
	switch result {
	case AddAppended, AddReplaced:
		return true
	case AddUpdated:
		return false
	}

	// AddFull.
	if !bucket.CanContain(rt.localID) {
		// Never split a bucket that doesn't hold us; the replacement
		// candidate was already stashed by Bucket.Add.
		return false
	}
	if bucket.Width().Cmp(minSplitWidth()) < 0 {
		return false
	}

	rt.splitLocked(idx)

	idx = rt.bucketFor(node.ID)
	// split() copies the replacement bucket.Add just stashed into
	// whichever child can contain it. That child is about to receive
	// the same contact again via Add below; discard the stale copy
	// first so a bucket with room after the split doesn't end up with
	// contact live in b.contacts while it's still sitting in
	// b.replacement, which would double-insert it on a later
	// PromoteReplacement.
	rt.buckets[idx].DiscardReplacement()
	result = rt.buckets[idx].Add(contact)
	return result == AddAppended || result == AddReplaced
}

// splitLocked replaces the bucket at idx with its two children. Callers
// must hold rt.mut for writing.
func (rt *RoutingTable) splitLocked(idx int) {
	lower, upper := rt.buckets[idx].split()

	rest := make([]*Bucket, 0, len(rt.buckets)+1)
	rest = append(rest, rt.buckets[:idx]...)
	rest = append(rest, lower, upper)
	rest = append(rest, rt.buckets[idx+1:]...)
	rt.buckets = rest
}

// Remove evicts id from its bucket, if present.
func (rt *RoutingTable) Remove(id NodeId) bool {
	rt.mut.Lock()
	defer rt.mut.Unlock()

	idx := rt.bucketFor(id)
	return rt.buckets[idx].Remove(id)
}

// FindNode returns the node with the given id, if the routing table
// holds it.
func (rt *RoutingTable) FindNode(id NodeId) *Node {
	rt.mut.RLock()
	idx := rt.bucketFor(id)
	bucket := rt.buckets[idx]
	rt.mut.RUnlock()

	if c := bucket.Get(id); c != nil {
		return c.Node()
	}
	return nil
}

// Bucket returns the bucket covering id, for callers (maintenance,
// the replace/ping-to-evict task) that need to act on the bucket
// itself rather than a single contact.
func (rt *RoutingTable) Bucket(id NodeId) *Bucket {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	return rt.buckets[rt.bucketFor(id)]
}

// GetClosest scans every bucket and returns up to K nodes ordered by
// ascending XOR distance to target, ties broken by ascending NodeId.
func (rt *RoutingTable) GetClosest(target NodeId) []*Node {
	rt.mut.RLock()
	var all []*Contact
	for _, b := range rt.buckets {
		all = append(all, b.All()...)
	}
	rt.mut.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		di := target.Xor(all[i].ID())
		dj := target.Xor(all[j].ID())
		if cmp := di.Compare(dj); cmp != 0 {
			return cmp < 0
		}
		return all[i].ID().Less(all[j].ID())
	})

	if len(all) > K {
		all = all[:K]
	}

	nodes := make([]*Node, len(all))
	for i, c := range all {
		nodes[i] = c.Node()
	}
	return nodes
}

// Clear empties the table back to its single, full-span starting
// bucket.
func (rt *RoutingTable) Clear() {
	rt.mut.Lock()
	defer rt.mut.Unlock()

	rt.buckets = []*Bucket{NewOpenBucket(ZeroNodeId)}
}

// Size returns the total number of live contacts across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	n := 0
	for _, b := range rt.buckets {
		n += b.Len()
	}
	return n
}

// CountNodes is an alias for Size, matching the vocabulary used by the
// routing table's invariants.
func (rt *RoutingTable) CountNodes() int { return rt.Size() }

// AddSilent behaves like Add but never fires NodeAdded notifications,
// for bulk-loading a persisted table at startup.
func (rt *RoutingTable) AddSilent(node *Node) bool {
	if node.ID == rt.localID {
		return false
	}

	rt.mut.Lock()
	defer rt.mut.Unlock()

	return rt.addLocked(node)
}

// BucketCount returns the number of buckets currently in the tree —
// more than one implies at least one split has occurred.
func (rt *RoutingTable) BucketCount() int {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	return len(rt.buckets)
}

// Buckets returns a snapshot slice of the table's buckets, ascending
// by Min.
func (rt *RoutingTable) Buckets() []*Bucket {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	out := make([]*Bucket, len(rt.buckets))
	copy(out, rt.buckets)
	return out
}

// BucketsNeedingRefresh returns buckets that have seen no structural
// change within the refresh window and hold at least one contact.
func (rt *RoutingTable) BucketsNeedingRefresh() []*Bucket {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var out []*Bucket
	for _, b := range rt.buckets {
		if b.Len() > 0 && b.NeedsRefresh() {
			out = append(out, b)
		}
	}
	return out
}

// QuestionableContacts returns every contact across the table that is
// currently in the questionable state.
func (rt *RoutingTable) QuestionableContacts() []*Contact {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var out []*Contact
	for _, b := range rt.buckets {
		for _, c := range b.All() {
			if c.IsQuestionable() {
				out = append(out, c)
			}
		}
	}
	return out
}

// Stats is a point-in-time summary of the routing table's health, used
// for introspection and logging.
type Stats struct {
	TotalContacts        int
	GoodContacts         int
	QuestionableContacts int
	BadContacts          int
	FilledBuckets        int
	EmptyBuckets         int
}

func (rt *RoutingTable) GetStats() Stats {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var s Stats
	for _, b := range rt.buckets {
		contacts := b.All()
		if len(contacts) == 0 {
			s.EmptyBuckets++
			continue
		}

		s.FilledBuckets++
		s.TotalContacts += len(contacts)
		for _, c := range contacts {
			switch {
			case c.IsGood():
				s.GoodContacts++
			case c.IsQuestionable():
				s.QuestionableContacts++
			case c.IsBad():
				s.BadContacts++
			}
		}
	}
	return s
}
