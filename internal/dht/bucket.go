package dht

import (
	"math/big"
	"sync"
	"time"
)

// K is the maximum number of live contacts a bucket holds, and the
// width of a GetClosest result set. Overridden from config.Config.K by
// DHT.New before any routing table is built; defaults to 8.
var K = 8

// AddResult reports what Bucket.Add did with a contact.
type AddResult int

const (
	AddUpdated  AddResult = iota // contact already present, last-seen touched
	AddAppended                  // bucket had room, contact appended
	AddReplaced                  // a bad contact was evicted in its place
	AddFull                      // bucket full of non-bad contacts; stashed as replacement
)

// Bucket holds the live contacts whose NodeId falls in the half-open
// range [Min, Max), plus at most one pending replacement candidate for
// when a live contact is later confirmed bad. Open marks the single
// bucket in the table whose upper bound is the unrepresentable 2^160 —
// Max is meaningless when Open is true.
type Bucket struct {
	Min, Max NodeId
	Open     bool

	mut         sync.RWMutex
	contacts    []*Contact // ascending by last-seen
	replacement *Contact
	lastChanged time.Time
}

// NewBucket returns an empty bucket covering [min, max).
func NewBucket(min, max NodeId) *Bucket {
	return &Bucket{
		Min:         min,
		Max:         max,
		contacts:    make([]*Contact, 0, K),
		lastChanged: time.Now(),
	}
}

// NewOpenBucket returns an empty bucket covering [min, 2^160).
func NewOpenBucket(min NodeId) *Bucket {
	return &Bucket{
		Min:         min,
		Max:         MaxNodeId,
		Open:        true,
		contacts:    make([]*Contact, 0, K),
		lastChanged: time.Now(),
	}
}

// CanContain reports whether id falls within [Min, Max).
func (b *Bucket) CanContain(id NodeId) bool {
	if id.Compare(b.Min) < 0 {
		return false
	}
	return b.Open || id.Compare(b.Max) < 0
}

// Width returns max - min for this bucket's range, per RangeWidth.
func (b *Bucket) Width() *big.Int {
	return RangeWidth(b.Min, b.Max, b.Open)
}

func (b *Bucket) Len() int {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return len(b.contacts)
}

func (b *Bucket) IsFull() bool {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return len(b.contacts) >= K
}

func (b *Bucket) Get(id NodeId) *Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	for _, c := range b.contacts {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Contains reports whether id belongs to a live contact in the bucket.
func (b *Bucket) Contains(id NodeId) bool {
	return b.Get(id) != nil
}

// Add implements the Bucket.Add algorithm: update in place if present,
// append if there's room, evict-and-replace a bad contact, or stash as
// the pending replacement if the bucket is full of non-bad contacts.
func (b *Bucket) Add(contact *Contact) AddResult {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, c := range b.contacts {
		if c.ID() == contact.ID() {
			c.MarkSeen()
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, c)
			b.lastChanged = time.Now()
			return AddUpdated
		}
	}

	if len(b.contacts) < K {
		b.contacts = append(b.contacts, contact)
		b.lastChanged = time.Now()
		return AddAppended
	}

	for i, c := range b.contacts {
		if c.IsBad() {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, contact)
			b.lastChanged = time.Now()
			return AddReplaced
		}
	}

	b.replacement = contact
	return AddFull
}

// Remove evicts id's contact, if present, and returns true if it was.
func (b *Bucket) Remove(id NodeId) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, c := range b.contacts {
		if c.ID() == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.lastChanged = time.Now()
			return true
		}
	}
	return false
}

// PromoteReplacement appends the pending replacement (if any) to the
// bucket's live contacts, in place of a live contact the caller must
// already have removed. Returns the promoted contact, or nil if
// there was no replacement.
func (b *Bucket) PromoteReplacement() *Contact {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.replacement == nil {
		return nil
	}
	promoted := b.replacement
	b.replacement = nil
	b.contacts = append(b.contacts, promoted)
	b.lastChanged = time.Now()
	return promoted
}

// DiscardReplacement clears the pending replacement without promoting
// it, used when the contact it would have evicted turned out to still
// be alive.
func (b *Bucket) DiscardReplacement() {
	b.mut.Lock()
	defer b.mut.Unlock()

	b.replacement = nil
}

// LRU returns the least-recently-seen live contact, nil if empty.
func (b *Bucket) LRU() *Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	if len(b.contacts) == 0 {
		return nil
	}
	return b.contacts[0]
}

// SortByLastSeen stably re-sorts the bucket's contacts ascending by
// last-seen time.
func (b *Bucket) SortByLastSeen() {
	b.mut.Lock()
	defer b.mut.Unlock()

	b.sortLocked()
}

func (b *Bucket) sortLocked() {
	for i := 1; i < len(b.contacts); i++ {
		for j := i; j > 0 && b.contacts[j].LastSeen().Before(b.contacts[j-1].LastSeen()); j-- {
			b.contacts[j], b.contacts[j-1] = b.contacts[j-1], b.contacts[j]
		}
	}
}

func (b *Bucket) NeedsRefresh() bool {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return time.Since(b.lastChanged) > questionableAfter
}

// All returns a snapshot copy of the bucket's live contacts.
func (b *Bucket) All() []*Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	result := make([]*Contact, len(b.contacts))
	copy(result, b.contacts)
	return result
}

// Replacement returns the pending replacement candidate, if any.
func (b *Bucket) Replacement() *Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return b.replacement
}

// split divides the bucket at its midpoint into two new buckets
// covering [Min, mid) and [mid, Max), redistributing every live contact
// and the pending replacement according to CanContain.
func (b *Bucket) split() (lower, upper *Bucket) {
	b.mut.RLock()
	var mid NodeId
	if b.Open {
		mid = MidpointToInfinity(b.Min)
	} else {
		mid = Midpoint(b.Min, b.Max)
	}
	contacts := make([]*Contact, len(b.contacts))
	copy(contacts, b.contacts)
	replacement := b.replacement
	b.mut.RUnlock()

	lower = NewBucket(b.Min, mid)
	if b.Open {
		upper = NewOpenBucket(mid)
	} else {
		upper = NewBucket(mid, b.Max)
	}

	for _, c := range contacts {
		if lower.CanContain(c.ID()) {
			lower.contacts = append(lower.contacts, c)
		} else {
			upper.contacts = append(upper.contacts, c)
		}
	}
	if replacement != nil {
		if lower.CanContain(replacement.ID()) {
			lower.replacement = replacement
		} else {
			upper.replacement = replacement
		}
	}

	return lower, upper
}
