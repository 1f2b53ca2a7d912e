package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cachemir/shardpipe/pkg/pipeline"
	"github.com/cachemir/shardpipe/pkg/protocol"
)

// ShardedPipeline batches commands across nodes: each command is queued on
// the pipeline of the node that owns its key, and Sync flushes every node's
// pipeline concurrently. Ordering holds per node; placeholders on different
// nodes settle independently.
//
// A node whose pipeline failed is given a fresh connection on its next
// Enqueue; placeholders from the failed batch keep their errors.
type ShardedPipeline struct {
	c *Client

	mu     sync.Mutex
	nodes  map[string]*Conn
	closed bool
}

// Pipelined returns an empty ShardedPipeline. Close it to return its
// connections to the pools.
func (c *Client) Pipelined() *ShardedPipeline {
	return &ShardedPipeline{c: c, nodes: make(map[string]*Conn)}
}

// Enqueue routes the command by its key and queues it on that node's
// pipeline. Commands without a key go to the node owning the empty key.
//
// Example:
//
//	views, err := client.Enqueue(ctx, sp, pipeline.Int64, "INCRBY", "views:home", 3)
func Enqueue[T any](ctx context.Context, sp *ShardedPipeline, decode pipeline.Decoder[T], name string, args ...any) (*pipeline.Placeholder[T], error) {
	cmd, err := protocol.NewCommand(name, args...)
	if err != nil {
		return nil, &pipeline.EncodingError{Command: name, Err: err}
	}
	conn, err := sp.For(ctx, cmd.Key)
	if err != nil {
		return nil, err
	}
	return pipeline.EnqueueCommand(conn.Pipeline, decode, cmd)
}

// For returns the node pipeline that owns key, checking out a connection the
// first time the node is used.
func (sp *ShardedPipeline) For(ctx context.Context, key string) (*Conn, error) {
	pool, err := sp.c.poolFor(key)
	if err != nil {
		return nil, err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return nil, pipeline.ErrPipelineClosed
	}

	node := pool.Address()
	if conn, ok := sp.nodes[node]; ok {
		if conn.State() != pipeline.Closed {
			return conn, nil
		}
		conn.Release(ctx)
		delete(sp.nodes, node)
	}

	conn, err := checkout(ctx, pool)
	if err != nil {
		return nil, err
	}
	sp.nodes[node] = conn
	return conn, nil
}

// Len returns the number of queued commands across nodes.
func (sp *ShardedPipeline) Len() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	n := 0
	for _, conn := range sp.nodes {
		n += conn.Len()
	}
	return n
}

// Sync syncs every node pipeline concurrently. It returns the first node
// failure, wrapped with the node address; the other nodes still complete.
func (sp *ShardedPipeline) Sync(ctx context.Context) error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return pipeline.ErrPipelineClosed
	}
	conns := make([]*Conn, 0, len(sp.nodes))
	for _, conn := range sp.nodes {
		conns = append(conns, conn)
	}
	sp.mu.Unlock()

	log := clog.FromContext(ctx)
	var g errgroup.Group
	for _, conn := range conns {
		if conn.Len() == 0 {
			continue
		}
		g.Go(func() error {
			n, size := conn.Len(), conn.Buffered()
			if err := conn.Sync(ctx); err != nil {
				return fmt.Errorf("node %s: %w", conn.Node(), err)
			}
			log.Debugf("synced %d commands (%s) to %s", n, humanize.Bytes(uint64(size)), conn.Node())
			return nil
		})
	}
	return g.Wait()
}

// Close returns healthy connections to their pools and closes the rest.
// Commands queued but not synced fail with pipeline.ErrPipelineClosed.
func (sp *ShardedPipeline) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return nil
	}
	sp.closed = true

	ctx := context.Background()
	for node, conn := range sp.nodes {
		conn.Release(ctx)
		delete(sp.nodes, node)
	}
	return nil
}
