package dht

import "errors"

var (
	// ErrTimeout is returned by RPC.Query when no response arrives
	// before the caller-supplied timeout elapses.
	ErrTimeout = errors.New("dht: query timeout")
	// ErrInvalidMessage is returned when a decoded KRPC message is
	// missing a field its type requires.
	ErrInvalidMessage = errors.New("dht: invalid message")
	// ErrUnknownTransaction names a response or error that arrives for
	// a transaction ID the engine isn't tracking. The RPC engine does not
	// return it: such a message is logged and passed to the response
	// handler.
	ErrUnknownTransaction = errors.New("dht: unknown transaction id")
	// ErrNotStarted names an operation attempted before Start. No
	// function in this package returns it.
	ErrNotStarted = errors.New("dht: not started")
	// ErrStopped is returned by RPC.Query for a query still in flight
	// when Stop is called. A query sent after Stop fails with the closed
	// socket's write error instead.
	ErrStopped = errors.New("dht: stopped")
	// ErrNoRoute is returned by a task that has no seed candidates to
	// start from (empty routing table and no bootstrap nodes).
	ErrNoRoute = errors.New("dht: no route to any candidate")
	// ErrBusy is returned by RPC.Query when the in-flight transaction
	// ceiling (MaxInFlight) is already reached; the caller should treat
	// this as a transport-class failure, not a per-query timeout.
	ErrBusy = errors.New("dht: busy, too many in-flight transactions")
	// ErrDatagramTooLarge is logged (and the datagram dropped) when an
	// inbound packet exceeds the configured MaxDatagramSize.
	ErrDatagramTooLarge = errors.New("dht: datagram exceeds configured size limit")
)
