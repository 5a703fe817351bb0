package dht

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prxssh/dhtd/pkg/bencode"
)

// defaultMaxInFlight and defaultMaxDatagramSize match config.DefaultConfig,
// used when an RPC is built directly (tests, tools) without going
// through DHT.New's config wiring.
const (
	defaultMaxInFlight     = 256
	defaultMaxDatagramSize = 1500
)

// RPC is the transaction-correlated request/response engine over a
// single UDP socket. It owns no routing or lookup policy: callers send
// queries and get either a matched response or an error (ErrTimeout,
// ErrBusy, ErrStopped, a send error, or ErrInvalidMessage when the
// remote answers with a KRPC error), and register
// handlers for inbound queries and for responses that arrive after
// their transaction was already reaped.
type RPC struct {
	logger    *slog.Logger
	conn      *net.UDPConn
	localID   NodeId
	debugWire bool // log every inbound datagram under a correlation id

	maxInFlight     int // ceiling on concurrent outstanding Query calls
	maxDatagramSize int // inbound datagrams larger than this are dropped

	txMut        sync.RWMutex
	transactions map[string]*transaction

	queryHandler    func(*Message)
	responseHandler func(*Message)

	done chan struct{}
	wg   sync.WaitGroup
}

type transaction struct {
	query      *Message
	addr       *net.UDPAddr // endpoint the query was sent to
	responseCh chan *Message
	sentTime   time.Time
	timeout    time.Duration
}

func NewRPC(localID NodeId, listenAddr string, logger *slog.Logger) (*RPC, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &RPC{
		logger:          logger,
		conn:            conn,
		localID:         localID,
		maxInFlight:     defaultMaxInFlight,
		maxDatagramSize: defaultMaxDatagramSize,
		transactions:    make(map[string]*transaction),
		done:            make(chan struct{}),
	}, nil
}

func (r *RPC) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// SetDebugWire toggles per-datagram correlation-id logging, for
// tracing wire traffic during diagnosis. Off by default: it's a
// Debug-level log line per packet, not something to run on a busy node.
func (r *RPC) SetDebugWire(enabled bool) { r.debugWire = enabled }

// SetMaxInFlight overrides the ceiling on concurrent outstanding Query
// calls. Must be called before Start (or at least before concurrent
// Query calls begin) since it isn't guarded by txMut.
func (r *RPC) SetMaxInFlight(n int) {
	if n > 0 {
		r.maxInFlight = n
	}
}

// SetMaxDatagramSize overrides the cap on inbound datagram size. Must
// be called before Start.
func (r *RPC) SetMaxDatagramSize(n int) {
	if n > 0 {
		r.maxDatagramSize = n
	}
}

func (r *RPC) Start() {
	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.readLoop() }()
	go func() { defer r.wg.Done(); r.timeoutLoop() }()
}

func (r *RPC) Stop() {
	close(r.done)
	r.conn.Close()
	r.wg.Wait()
}

func (r *RPC) SetQueryHandler(handler func(*Message))    { r.queryHandler = handler }
func (r *RPC) SetResponseHandler(handler func(*Message)) { r.responseHandler = handler }

// Query sends msg to addr and blocks until a matching response arrives,
// the timeout elapses (ErrTimeout), or the engine is stopped. At most
// one of these outcomes is ever delivered for a given transaction.
func (r *RPC) Query(msg *Message, addr *net.UDPAddr, timeout time.Duration) (*Message, error) {
	if msg.T == "" {
		msg.T = r.GenerateTransactionID()
	}

	tx := &transaction{
		query:      msg,
		addr:       addr,
		responseCh: make(chan *Message, 1),
		sentTime:   time.Now(),
		timeout:    timeout,
	}

	r.txMut.Lock()
	if len(r.transactions) >= r.maxInFlight {
		r.txMut.Unlock()
		return nil, ErrBusy
	}
	r.transactions[msg.T] = tx
	r.txMut.Unlock()

	if err := r.send(msg, addr); err != nil {
		r.removeTransaction(msg.T)
		return nil, err
	}

	select {
	case response, ok := <-tx.responseCh:
		r.removeTransaction(msg.T)
		if !ok {
			return nil, ErrInvalidMessage
		}
		return response, nil
	case <-time.After(timeout):
		r.removeTransaction(msg.T)
		return nil, ErrTimeout
	case <-r.done:
		r.removeTransaction(msg.T)
		return nil, ErrStopped
	}
}

func (r *RPC) Respond(msg *Message, addr *net.UDPAddr) error {
	return r.send(msg, addr)
}

func (r *RPC) RespondError(transactionID string, code int, message string, addr *net.UDPAddr) error {
	return r.send(NewErrorMessage(transactionID, code, message), addr)
}

func (r *RPC) send(msg *Message, addr *net.UDPAddr) error {
	encoded, err := bencode.Marshal(messageToMap(msg))
	if err != nil {
		return err
	}

	_, err = r.conn.WriteToUDP(encoded, addr)
	return err
}

func (r *RPC) readLoop() {
	// Sized to the largest possible UDP payload so an oversized datagram
	// is actually read (and its true length known) rather than silently
	// truncated by the kernel; maxDatagramSize is enforced below instead.
	buf := make([]byte, 65536)

	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Error("read udp packet failed", "error", err.Error())
			}
			continue
		}

		if r.debugWire {
			r.logger.Debug("inbound datagram", "wire_id", uuid.NewString(), "from", addr, "bytes", n)
		}

		if n > r.maxDatagramSize {
			r.logger.Debug("dropping oversized datagram", "error", ErrDatagramTooLarge.Error(), "bytes", n, "limit", r.maxDatagramSize, "from", addr)
			continue
		}

		data, err := bencode.Unmarshal(buf[:n])
		if err != nil {
			r.logger.Debug("dropping malformed datagram", "error", err.Error(), "from", addr)
			continue
		}

		msg := mapToMessage(data, addr)
		if msg == nil {
			continue
		}
		r.handleMessage(msg)
	}
}

func (r *RPC) timeoutLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweepTimeouts()
		}
	}
}

// sweepTimeouts reaps transactions whose timeout has elapsed. Once a
// transaction is removed here, any later-arriving response for it is
// handled by responseHandler as unsolicited, never delivered to the
// original caller — delivery is at most once.
func (r *RPC) sweepTimeouts() {
	now := time.Now()

	r.txMut.Lock()
	defer r.txMut.Unlock()

	for txID, tx := range r.transactions {
		if now.Sub(tx.sentTime) > tx.timeout {
			close(tx.responseCh)
			delete(r.transactions, txID)
		}
	}
}

func (r *RPC) handleMessage(msg *Message) {
	switch msg.Y {
	case QueryType:
		if r.queryHandler != nil {
			r.queryHandler(msg)
		}
	case ResponseType:
		r.handleResponse(msg)
	case ErrorType:
		r.handleError(msg)
	}
}

func (r *RPC) handleResponse(msg *Message) {
	r.txMut.RLock()
	tx, exists := r.transactions[msg.T]
	r.txMut.RUnlock()

	if !exists {
		r.logger.Debug("response for unknown transaction", "from", msg.Addr, "txid", msg.T)
		if r.responseHandler != nil {
			r.responseHandler(msg)
		}
		return
	}

	// Only deliver to the pending hook if it matches the endpoint the
	// query was actually sent to; a differently addressed reply reusing
	// the same transaction id is treated as unsolicited.
	if !sameEndpoint(tx.addr, msg.Addr) {
		r.logger.Debug("response endpoint mismatch, dropping", "txid", msg.T, "want", tx.addr, "got", msg.Addr)
		if r.responseHandler != nil {
			r.responseHandler(msg)
		}
		return
	}

	select {
	case tx.responseCh <- msg:
	default:
	}
}

func sameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func (r *RPC) handleError(msg *Message) {
	r.txMut.RLock()
	tx, exists := r.transactions[msg.T]
	r.txMut.RUnlock()

	if exists {
		close(tx.responseCh)
	}
}

func (r *RPC) removeTransaction(transactionID string) {
	r.txMut.Lock()
	delete(r.transactions, transactionID)
	r.txMut.Unlock()
}

// GenerateTransactionID returns a random transaction id not already in
// use by a pending transaction.
func (r *RPC) GenerateTransactionID() string {
	b := make([]byte, 2)

	r.txMut.RLock()
	defer r.txMut.RUnlock()

	for {
		rand.Read(b)
		id := hex.EncodeToString(b)
		if _, exists := r.transactions[id]; !exists {
			return id
		}
	}
}

func messageToMap(msg *Message) map[string]any {
	m := make(map[string]any, 4)
	m["t"] = msg.T
	m["y"] = string(msg.Y)
	if msg.V != "" {
		m["v"] = msg.V
	}

	switch msg.Y {
	case QueryType:
		m["q"] = string(msg.Q)
		m["a"] = msg.A
	case ResponseType:
		m["r"] = msg.R
	case ErrorType:
		m["e"] = msg.E
	}

	return m
}

func mapToMessage(data any, addr *net.UDPAddr) *Message {
	dict, ok := data.(map[string]any)
	if !ok {
		return nil
	}

	msg := &Message{Addr: addr}

	t, ok := dict["t"].(string)
	if !ok {
		return nil
	}
	msg.T = t

	y, ok := dict["y"].(string)
	if !ok {
		return nil
	}
	msg.Y = MessageType(y)

	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case QueryType:
		if q, ok := dict["q"].(string); ok {
			msg.Q = QueryMethod(q)
		}
		if a, ok := dict["a"].(map[string]any); ok {
			msg.A = a
		}
	case ResponseType:
		if rr, ok := dict["r"].(map[string]any); ok {
			msg.R = rr
		}
	case ErrorType:
		if e, ok := dict["e"].([]any); ok {
			msg.E = e
		}
	}

	return msg
}
