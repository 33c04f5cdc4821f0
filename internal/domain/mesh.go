package domain

import "sort"

// MeshNode is a directory entry held by the mesh coordinator.
type MeshNode struct {
	ID       string   `json:"id"`
	Address  string   `json:"address"`
	Channels []string `json:"channels,omitempty"`
}

// Subscribed reports whether the node is subscribed to channel.
func (n MeshNode) Subscribed(channel string) bool {
	for _, c := range n.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// SortedNodeIDs returns the keys of nodes in ascending order.
func SortedNodeIDs(nodes map[string]MeshNode) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
