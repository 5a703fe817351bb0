package dht

import (
	"net"

	"github.com/prxssh/dhtd/pkg/cast"
)

type MessageType string

const (
	QueryType    MessageType = "q"
	ResponseType MessageType = "r"
	ErrorType    MessageType = "e"
)

type QueryMethod string

const (
	PingMethod         QueryMethod = "ping"
	FindNodeMethod     QueryMethod = "find_node"
	GetPeersMethod     QueryMethod = "get_peers"
	AnnouncePeerMethod QueryMethod = "announce_peer"
)

const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

// Message is a decoded KRPC datagram: a BEncoded dictionary with a
// transaction id, a type tag, and type-specific fields, per BEP-5.
type Message struct {
	T string      // transaction id
	Y MessageType // "q" | "r" | "e"
	V string      // client version, optional

	Q QueryMethod    // query method name, query only
	A map[string]any // query arguments

	R map[string]any // response values

	E []any // [code, message], error only

	Addr *net.UDPAddr
}

func NewQuery(method QueryMethod, transactionID string) *Message {
	return &Message{T: transactionID, Y: QueryType, Q: method, A: make(map[string]any)}
}

func NewResponse(transactionID string) *Message {
	return &Message{T: transactionID, Y: ResponseType, R: make(map[string]any)}
}

func NewErrorMessage(transactionID string, code int, message string) *Message {
	return &Message{T: transactionID, Y: ErrorType, E: []any{int64(code), message}}
}

func PingQuery(transactionID string, senderID NodeId) *Message {
	msg := NewQuery(PingMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	return msg
}

func PingResponse(transactionID string, senderID NodeId) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func FindNodeQuery(transactionID string, senderID, target NodeId) *Message {
	msg := NewQuery(FindNodeMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func FindNodeResponse(transactionID string, senderID NodeId, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	return msg
}

func GetPeersQuery(transactionID string, senderID, infoHash NodeId) *Message {
	msg := NewQuery(GetPeersMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	return msg
}

func GetPeersResponse(transactionID string, senderID NodeId, token string, values []string) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	msg.R["values"] = vs
	return msg
}

func GetPeersResponseNodes(transactionID string, senderID NodeId, token string, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	msg.R["nodes"] = string(nodes)
	return msg
}

func AnnouncePeerQuery(transactionID string, senderID, infoHash NodeId, port int, token string) *Message {
	msg := NewQuery(AnnouncePeerMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	msg.A["port"] = int64(port)
	msg.A["token"] = token
	return msg
}

func AnnouncePeerResponse(transactionID string, senderID NodeId) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func (m *Message) GetNodeID() (NodeId, bool) {
	var idStr string
	var ok bool

	if m.Y == ResponseType && m.R != nil {
		idStr, ok = m.R["id"].(string)
	} else if m.Y == QueryType && m.A != nil {
		idStr, ok = m.A["id"].(string)
	}
	if !ok {
		return NodeId{}, false
	}
	return NodeIdFromBytes([]byte(idStr))
}

func (m *Message) GetTarget() (NodeId, bool) {
	if m.Y != QueryType || m.A == nil {
		return NodeId{}, false
	}
	targetStr, ok := m.A["target"].(string)
	if !ok {
		return NodeId{}, false
	}
	return NodeIdFromBytes([]byte(targetStr))
}

func (m *Message) GetInfoHash() (NodeId, bool) {
	if m.Y != QueryType || m.A == nil {
		return NodeId{}, false
	}
	hashStr, ok := m.A["info_hash"].(string)
	if !ok {
		return NodeId{}, false
	}
	return NodeIdFromBytes([]byte(hashStr))
}

func (m *Message) GetToken() (string, bool) {
	if m.Y == ResponseType && m.R != nil {
		token, ok := m.R["token"].(string)
		return token, ok
	}
	if m.Y == QueryType && m.A != nil {
		token, ok := m.A["token"].(string)
		return token, ok
	}
	return "", false
}

func (m *Message) GetNodes() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}
	nodesStr, ok := m.R["nodes"].(string)
	if !ok {
		return nil, false
	}
	return []byte(nodesStr), true
}

func (m *Message) GetValues() ([]string, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}
	valuesRaw, ok := m.R["values"].([]any)
	if !ok {
		return nil, false
	}

	values := make([]string, 0, len(valuesRaw))
	for _, v := range valuesRaw {
		if s, ok := cast.ToString(v); ok {
			values = append(values, s)
		}
	}
	return values, len(values) > 0
}

func (m *Message) GetPort() (int, bool) {
	if m.Y != QueryType || m.A == nil {
		return 0, false
	}
	return cast.ToInt(m.A["port"])
}

// GetImpliedPort reports whether the query set implied_port=1, meaning
// the announce should use the query's source UDP port instead of its
// port argument. Absent or zero both mean false.
func (m *Message) GetImpliedPort() bool {
	if m.Y != QueryType || m.A == nil {
		return false
	}
	n, ok := cast.ToInt(m.A["implied_port"])
	return ok && n != 0
}

func (m *Message) IsQuery() bool    { return m.Y == QueryType }
func (m *Message) IsResponse() bool { return m.Y == ResponseType }
func (m *Message) IsError() bool    { return m.Y == ErrorType }
