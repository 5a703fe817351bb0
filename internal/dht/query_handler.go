package dht

import "net"

// QueryHandler answers inbound KRPC queries: it is the server half of
// the node, consulting the routing table, the peer storage, and the
// token manager to build each response.
type QueryHandler struct {
	rpc     *RPC
	table   *RoutingTable
	storage *Storage
	token   *TokenManager
}

func NewQueryHandler(rpc *RPC, table *RoutingTable, storage *Storage, token *TokenManager) *QueryHandler {
	return &QueryHandler{rpc: rpc, table: table, storage: storage, token: token}
}

// HandleQuery is registered as the RPC engine's query handler. Every
// inbound query first refreshes the routing table with its sender,
// then dispatches on method name.
func (qh *QueryHandler) HandleQuery(msg *Message) {
	senderID, ok := msg.GetNodeID()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid node id", msg.Addr)
		return
	}

	qh.table.Add(&Node{ID: senderID, IP: msg.Addr.IP, Port: msg.Addr.Port})

	switch msg.Q {
	case PingMethod:
		qh.handlePing(msg)
	case FindNodeMethod:
		qh.handleFindNode(msg)
	case GetPeersMethod:
		qh.handleGetPeers(msg)
	case AnnouncePeerMethod:
		qh.handleAnnouncePeer(msg)
	default:
		qh.sendError(msg.T, ErrorMethodUnknown, "unknown method", msg.Addr)
	}
}

func (qh *QueryHandler) handlePing(msg *Message) {
	qh.rpc.Respond(PingResponse(msg.T, qh.table.LocalID()), msg.Addr)
}

func (qh *QueryHandler) handleFindNode(msg *Message) {
	target, ok := msg.GetTarget()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid target", msg.Addr)
		return
	}

	nodes := qh.encodeNodes(qh.table.GetClosest(target))
	qh.rpc.Respond(FindNodeResponse(msg.T, qh.table.LocalID(), nodes), msg.Addr)
}

func (qh *QueryHandler) handleGetPeers(msg *Message) {
	infoHash, ok := msg.GetInfoHash()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid info_hash", msg.Addr)
		return
	}

	token := qh.token.Generate(msg.Addr.IP)
	peers := qh.storage.GetPeers(infoHash)

	if len(peers) > 0 {
		values := make([]string, len(peers))
		for i, peer := range peers {
			values[i] = string(peer[:])
		}
		qh.rpc.Respond(GetPeersResponse(msg.T, qh.table.LocalID(), token, values), msg.Addr)
		return
	}

	nodes := qh.encodeNodes(qh.table.GetClosest(infoHash))
	qh.rpc.Respond(GetPeersResponseNodes(msg.T, qh.table.LocalID(), token, nodes), msg.Addr)
}

func (qh *QueryHandler) handleAnnouncePeer(msg *Message) {
	infoHash, ok := msg.GetInfoHash()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid info_hash", msg.Addr)
		return
	}

	port, ok := msg.GetPort()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid port", msg.Addr)
		return
	}
	// implied_port=1 overrides the port argument with the query's
	// source UDP port, for announcers behind a NAT that can't learn
	// their own external port.
	if msg.GetImpliedPort() {
		port = msg.Addr.Port
	}

	token, ok := msg.GetToken()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "missing token", msg.Addr)
		return
	}
	if !qh.token.Verify(msg.Addr.IP, token) {
		qh.sendError(msg.T, ErrorProtocol, "invalid token", msg.Addr)
		return
	}

	qh.storage.StorePeer(infoHash, EncodePeerInfo(msg.Addr.IP, uint16(port)))
	qh.rpc.Respond(AnnouncePeerResponse(msg.T, qh.table.LocalID()), msg.Addr)
}

func (qh *QueryHandler) encodeNodes(nodes []*Node) []byte {
	out := make([]byte, 0, len(nodes)*compactNodeInfoSize)
	for _, n := range nodes {
		if info := n.CompactNodeInfo(); info != nil {
			out = append(out, info...)
		}
	}
	return out
}

func (qh *QueryHandler) sendError(transactionID string, code int, message string, addr *net.UDPAddr) {
	qh.rpc.RespondError(transactionID, code, message, addr)
}
