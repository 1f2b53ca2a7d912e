// Package hash provides the key hashing used to route commands to shards.
//
// Two routing schemes are built on the same Hashing function:
//
//   - Slot: CRC-32 of the key modulo the shard count. Stateless and identical
//     across every client implementation that uses the standard CRC-32.
//   - ConsistentHash: a ring of virtual nodes placed with the same CRC-32, for
//     clusters whose membership changes at runtime.
//
// Example usage:
//
//	idx := hash.Slot([]byte("user:123"), 4) // 0..3
//
//	ch := hash.New(150, nil) // CRC-32, 150 virtual nodes per node
//	ch.AddNode("server1:8080")
//	ch.AddNode("server2:8080")
//	node := ch.GetNode("user:123")
//
// The consistent hash ring ensures that:
//   - Keys are distributed roughly evenly across nodes
//   - Adding/removing nodes only affects a small portion of keys
//   - The same key always maps to the same node (until topology changes)
package hash

import (
	"sort"
	"strconv"
	"sync"
)

// DefaultVirtualNodes is the default number of virtual nodes per physical node.
// Virtual nodes help achieve better key distribution across the hash ring.
// A higher number provides better distribution but uses more memory.
const DefaultVirtualNodes = 150

// ConsistentHash implements a consistent hashing ring with virtual nodes.
// It provides thread-safe operations for adding/removing nodes and
// mapping keys to nodes in a distributed system.
//
// Virtual node n of a node named addr is placed at Hash("addr*n"), so two
// clients configured with the same nodes and Hashing build identical rings
// regardless of the order nodes were added in.
type ConsistentHash struct {
	mu           sync.RWMutex      // Protects all fields
	hasher       Hashing           // Placement function
	ring         map[uint32]string // Hash -> node mapping
	sortedHashes []uint32          // Sorted hash values for binary search
	nodes        map[string]bool   // Set of active nodes
	virtualNodes int               // Number of virtual nodes per physical node
}

// New creates a new ConsistentHash with the specified number of virtual nodes.
// If virtualNodes is <= 0, DefaultVirtualNodes is used. A nil hasher selects CRC32.
//
// Example:
//
//	ch := hash.New(100, nil)
func New(virtualNodes int, hasher Hashing) *ConsistentHash {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	if hasher == nil {
		hasher = CRC32{}
	}
	return &ConsistentHash{
		hasher:       hasher,
		ring:         make(map[uint32]string),
		nodes:        make(map[string]bool),
		virtualNodes: virtualNodes,
	}
}

// AddNode adds a physical node to the consistent hash ring.
// The node will be replicated virtualNodes times around the ring.
// If the node already exists, this operation is a no-op.
//
// When two virtual nodes collide on the same position the lexically smaller
// node name keeps it, so the outcome does not depend on insertion order.
//
// Parameters:
//   - node: The node identifier (typically "host:port")
func (c *ConsistentHash) AddNode(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nodes[node] {
		return
	}

	c.nodes[node] = true
	for i := 0; i < c.virtualNodes; i++ {
		h := c.hasher.Hash(virtualKey(node, i))
		if owner, taken := c.ring[h]; taken {
			if owner <= node {
				continue
			}
		} else {
			c.sortedHashes = append(c.sortedHashes, h)
		}
		c.ring[h] = node
	}
	sort.Slice(c.sortedHashes, func(i, j int) bool {
		return c.sortedHashes[i] < c.sortedHashes[j]
	})
}

// RemoveNode removes a physical node from the consistent hash ring.
// All virtual nodes for this physical node are removed.
// If the node doesn't exist, this operation is a no-op.
//
// Parameters:
//   - node: The node identifier to remove
func (c *ConsistentHash) RemoveNode(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nodes[node] {
		return
	}
	delete(c.nodes, node)

	// Rebuild from the surviving nodes so positions this node had won in a
	// collision go back to their other claimant.
	c.ring = make(map[uint32]string, len(c.nodes)*c.virtualNodes)
	c.sortedHashes = c.sortedHashes[:0]
	for n := range c.nodes {
		for i := 0; i < c.virtualNodes; i++ {
			h := c.hasher.Hash(virtualKey(n, i))
			if owner, taken := c.ring[h]; taken {
				if owner <= n {
					continue
				}
			} else {
				c.sortedHashes = append(c.sortedHashes, h)
			}
			c.ring[h] = n
		}
	}
	sort.Slice(c.sortedHashes, func(i, j int) bool {
		return c.sortedHashes[i] < c.sortedHashes[j]
	})
}

// GetNode returns the node responsible for the given key.
// Returns an empty string if no nodes are available.
//
// Example:
//
//	node := ch.GetNode("user:123")
//	if node != "" {
//		fmt.Printf("Route key to node: %s\n", node)
//	}
func (c *ConsistentHash) GetNode(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ring) == 0 {
		return ""
	}

	idx := c.search(c.hasher.Hash([]byte(key)))
	return c.ring[c.sortedHashes[idx]]
}

// GetNodes returns a slice of all active nodes in the hash ring, sorted.
func (c *ConsistentHash) GetNodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes := make([]string, 0, len(c.nodes))
	for node := range c.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	return nodes
}

// search performs binary search to find the first hash >= the given hash.
// If no such hash exists, it wraps around to the first hash (index 0).
func (c *ConsistentHash) search(hash uint32) int {
	idx := sort.Search(len(c.sortedHashes), func(i int) bool {
		return c.sortedHashes[i] >= hash
	})
	if idx == len(c.sortedHashes) {
		idx = 0
	}
	return idx
}

func virtualKey(node string, i int) []byte {
	b := make([]byte, 0, len(node)+8)
	b = append(b, node...)
	b = append(b, '*')
	return strconv.AppendInt(b, int64(i), 10)
}

// Stats returns statistics about the current state of the hash ring.
//
// Returns:
//   - Map containing statistics:
//   - "nodes": number of physical nodes
//   - "virtual_nodes": total number of occupied ring positions
//   - "ring_size": size of the sorted hash array
func (c *ConsistentHash) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"nodes":         len(c.nodes),
		"virtual_nodes": len(c.ring),
		"ring_size":     len(c.sortedHashes),
	}
}
