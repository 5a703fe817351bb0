package dht

import (
	"encoding/binary"
	"net"
	"strconv"
)

const compactNodeInfoSize = IDLength + 6 // 20-byte id + 4-byte IPv4 + 2-byte port

// Node is a remote contact's identity and network address: a Kademlia
// (NodeId, IPv4Endpoint) pair. It carries no liveness bookkeeping of its
// own — that lives on Contact, which wraps a Node with last-seen/failure
// state.
type Node struct {
	ID   NodeId
	IP   net.IP
	Port int
}

// NewNode builds a Node with a freshly generated random identity,
// suitable for the local node's own identity when no persisted identity
// exists.
func NewNode(ip net.IP, port int) *Node {
	return &Node{ID: RandomNodeId(), IP: ip, Port: port}
}

func NewNodeWithID(id NodeId, ip net.IP, port int) *Node {
	return &Node{ID: id, IP: ip, Port: port}
}

// CompactNodeInfo encodes n as the 26-byte compact form used in
// find_node/get_peers responses: 20-byte NodeId, 4-byte IPv4 address
// (network order), 2-byte port (big-endian). Returns nil if n has no
// IPv4 representation.
func (n *Node) CompactNodeInfo() []byte {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}

	buf := make([]byte, compactNodeInfoSize)
	copy(buf[:IDLength], n.ID[:])
	copy(buf[IDLength:IDLength+4], ip4)
	binary.BigEndian.PutUint16(buf[IDLength+4:], uint16(n.Port))

	return buf
}

// DecodeCompactNodeInfo parses a single 26-byte compact contact record.
func DecodeCompactNodeInfo(data []byte) *Node {
	if len(data) != compactNodeInfoSize {
		return nil
	}

	id, _ := NodeIdFromBytes(data[:IDLength])
	ip := net.IPv4(data[IDLength], data[IDLength+1], data[IDLength+2], data[IDLength+3])
	port := binary.BigEndian.Uint16(data[IDLength+4:])

	return &Node{ID: id, IP: ip, Port: int(port)}
}

// DecodeCompactNodeInfoList parses a ByteString that is a concatenation
// of 26-byte compact contact records, as returned by find_node and
// get_peers ("nodes" key).
func DecodeCompactNodeInfoList(data []byte) []*Node {
	if len(data)%compactNodeInfoSize != 0 {
		return nil
	}

	count := len(data) / compactNodeInfoSize
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		offset := i * compactNodeInfoSize
		if node := DecodeCompactNodeInfo(data[offset : offset+compactNodeInfoSize]); node != nil {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// CompactPeerInfo encodes n as the 6-byte peer address suffix (4-byte
// IPv4 ∥ 2-byte port) returned under get_peers' "values" key.
func (n *Node) CompactPeerInfo() []byte {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}

	buf := make([]byte, 6)
	copy(buf[:4], ip4)
	binary.BigEndian.PutUint16(buf[4:], uint16(n.Port))
	return buf
}

// DecodeCompactPeerInfo parses a single 6-byte peer address into a UDP
// address; peer addresses carry no NodeId.
func DecodeCompactPeerInfo(data []byte) *net.UDPAddr {
	if len(data) != 6 {
		return nil
	}
	ip := net.IPv4(data[0], data[1], data[2], data[3])
	port := binary.BigEndian.Uint16(data[4:])
	return &net.UDPAddr{IP: ip, Port: int(port)}
}

func (n *Node) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP, Port: n.Port}
}

func (n *Node) String() string {
	return net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port))
}
