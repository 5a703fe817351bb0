package dht

import (
	"net"
	"sync"
	"time"
)

// questionableAfter is the inactivity window after which a previously
// good contact becomes questionable (spec: 15 minutes).
const questionableAfter = 15 * time.Minute

// badAfterFailures is the number of consecutive unanswered queries
// after which a contact is marked bad and becomes a replacement
// candidate.
const badAfterFailures = 2

type ContactState int

const (
	StateGood         ContactState = iota // responded within the last 15 minutes
	StateQuestionable                     // no response yet, or fewer than badAfterFailures consecutive failures
	StateBad                              // failed badAfterFailures consecutive queries
)

// Contact wraps a Node with the liveness bookkeeping the routing table
// needs to decide who stays and who gets evicted: last-seen time,
// consecutive failure count, and outstanding query tracking.
type Contact struct {
	node *Node

	mut           sync.RWMutex
	lastSeen      time.Time
	lastQuery     time.Time
	failedQueries int
	state         ContactState
	pending       map[string]time.Time // transaction id -> sent time
}

func NewContact(node *Node) *Contact {
	return &Contact{
		node:     node,
		lastSeen: time.Now(),
		state:    StateQuestionable,
		pending:  make(map[string]time.Time),
	}
}

func (c *Contact) Node() *Node { return c.node }

func (c *Contact) ID() NodeId { return c.node.ID }

func (c *Contact) Addr() *net.UDPAddr { return c.node.UDPAddr() }

// MarkSeen records a successful response: last-seen is refreshed (never
// moved backward), the failure counter resets, and state becomes good.
func (c *Contact) MarkSeen() {
	c.mut.Lock()
	defer c.mut.Unlock()

	now := time.Now()
	if now.After(c.lastSeen) {
		c.lastSeen = now
	}
	c.failedQueries = 0
	c.state = StateGood
}

// MarkQueried records that a query was sent under transactionID, for
// later correlation with MarkResponse or eviction on timeout.
func (c *Contact) MarkQueried(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.lastQuery = time.Now()
	c.pending[transactionID] = c.lastQuery
}

// MarkResponse clears a pending query, to be followed by MarkSeen by
// the caller once the response is validated.
func (c *Contact) MarkResponse(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	delete(c.pending, transactionID)
}

// MarkFailed records one failed (timed-out) query. After badAfterFailures
// consecutive failures the contact becomes bad.
func (c *Contact) MarkFailed() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.failedQueries++
	if c.failedQueries >= badAfterFailures {
		c.state = StateBad
	} else {
		c.state = StateQuestionable
	}
}

func (c *Contact) IsGood() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state == StateGood && time.Since(c.lastSeen) < questionableAfter
}

func (c *Contact) IsQuestionable() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if c.state == StateBad {
		return false
	}
	return time.Since(c.lastSeen) >= questionableAfter
}

func (c *Contact) IsBad() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state == StateBad
}

func (c *Contact) LastSeen() time.Time {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.lastSeen
}

func (c *Contact) PendingQueries() int {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return len(c.pending)
}

// CleanStaleQueries drops pending transactions older than timeout,
// counting each as a failure. The RPC engine's timeout sweep does not
// call it.
func (c *Contact) CleanStaleQueries(timeout time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()

	now := time.Now()
	for txID, sentAt := range c.pending {
		if now.Sub(sentAt) > timeout {
			delete(c.pending, txID)
			c.failedQueries++
			if c.failedQueries >= badAfterFailures {
				c.state = StateBad
			}
		}
	}
}
