package dht

import (
	"fmt"
	"io"

	"github.com/prxssh/dhtd/pkg/bencode"
	"github.com/prxssh/dhtd/pkg/cast"
)

// SaveRoutingTable BEncodes the table's local identity and every known
// contact's compact node info into a single dictionary and writes it
// to w, for loading back on the next process start. The medium (file,
// buffer, network) is the caller's choice.
func SaveRoutingTable(table *RoutingTable, w io.Writer) error {
	nodes := make([]byte, 0, table.Size()*compactNodeInfoSize)
	for _, b := range table.Buckets() {
		for _, c := range b.All() {
			if info := c.Node().CompactNodeInfo(); info != nil {
				nodes = append(nodes, info...)
			}
		}
	}

	localID := table.LocalID()
	doc := map[string]any{
		"self":  string(localID[:]),
		"nodes": string(nodes),
	}

	encoded, err := bencode.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dht: encode routing table: %w", err)
	}

	_, err = w.Write(encoded)
	return err
}

// LoadRoutingTable reads a document written by SaveRoutingTable and
// returns the persisted local id and contact list. Contacts are
// returned for the caller to insert via RoutingTable.AddSilent, so
// reloading a table on startup never fires NodeAdded notifications.
func LoadRoutingTable(r io.Reader) (NodeId, []*Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return NodeId{}, nil, err
	}

	decoded, err := bencode.Unmarshal(data)
	if err != nil {
		return NodeId{}, nil, fmt.Errorf("dht: decode routing table: %w", err)
	}

	dict, ok := decoded.(map[string]any)
	if !ok {
		return NodeId{}, nil, fmt.Errorf("dht: routing table document is not a dictionary")
	}

	selfStr, ok := cast.ToString(dict["self"])
	if !ok {
		return NodeId{}, nil, fmt.Errorf("dht: routing table document missing self id")
	}
	selfID, ok := NodeIdFromBytes([]byte(selfStr))
	if !ok {
		return NodeId{}, nil, fmt.Errorf("dht: routing table document has malformed self id")
	}

	nodesStr, ok := cast.ToString(dict["nodes"])
	if !ok {
		return selfID, nil, nil
	}

	return selfID, DecodeCompactNodeInfoList([]byte(nodesStr)), nil
}
