package client

import (
	"errors"
	"slices"

	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/hash"
)

// ErrStaticTopology is returned when nodes are added or removed under slot
// routing, where the node list is fixed for the life of the client.
var ErrStaticTopology = errors.New("client: slot routing has a fixed node list")

// Router maps keys to node addresses.
type Router interface {
	// Route returns the node that owns key, or "" when there are no nodes.
	Route(key string) string
	// Nodes returns the nodes in routing order.
	Nodes() []string
}

// SlotRouter sends key to nodes[crc32(key) mod len(nodes)]. Every client
// configured with the same node list in the same order agrees on placement.
type SlotRouter struct {
	nodes []string
}

// NewSlotRouter routes over a copy of nodes.
func NewSlotRouter(nodes []string) *SlotRouter {
	return &SlotRouter{nodes: slices.Clone(nodes)}
}

func (r *SlotRouter) Route(key string) string {
	if len(r.nodes) == 0 {
		return ""
	}
	return r.nodes[hash.SlotString(key, len(r.nodes))]
}

func (r *SlotRouter) Nodes() []string { return slices.Clone(r.nodes) }

// RingRouter places keys on a consistent-hash ring, so adding or removing a
// node only moves the keys adjacent to its virtual nodes.
type RingRouter struct {
	ring *hash.ConsistentHash
}

// NewRingRouter builds a ring of nodes with virtualNodes points each.
func NewRingRouter(nodes []string, virtualNodes int) *RingRouter {
	ring := hash.New(virtualNodes, hash.CRC32{})
	for _, n := range nodes {
		ring.AddNode(n)
	}
	return &RingRouter{ring: ring}
}

func (r *RingRouter) Route(key string) string { return r.ring.GetNode(key) }

func (r *RingRouter) Nodes() []string { return r.ring.GetNodes() }

// AddNode adds node to the ring.
func (r *RingRouter) AddNode(node string) { r.ring.AddNode(node) }

// RemoveNode removes node from the ring.
func (r *RingRouter) RemoveNode(node string) { r.ring.RemoveNode(node) }

func newRouter(cfg *config.ClientConfig) Router {
	if cfg.Routing == config.RoutingRing {
		return NewRingRouter(cfg.Nodes, cfg.VirtualNodes)
	}
	return NewSlotRouter(cfg.Nodes)
}
