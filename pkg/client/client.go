// Package client is the multi-node shardpipe client.
//
// A Client routes every key to one node, keeps a connection pool per node and
// runs commands as pipelines over pooled connections. Single commands are
// one-command pipelines with retry on connection failure; batches go through
// a ShardedPipeline, which keeps one pipeline per node and syncs them
// concurrently.
//
// Basic usage:
//
//	c, err := client.New([]string{"server1:8080", "server2:8080", "server3:8080"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Set(ctx, "user:123", "john_doe", time.Hour)
//	value, err := c.Get(ctx, "user:123")
//
//	added, err := c.SAdd(ctx, "tags", "golang", "cache", "distributed")
//
// Pipelined usage:
//
//	sp := c.Pipelined()
//	defer sp.Close()
//
//	name, _ := client.Enqueue(ctx, sp, pipeline.NullableString, "HGET", "user:1", "name")
//	hits, _ := client.Enqueue(ctx, sp, pipeline.Int64, "INCR", "hits:1")
//	if err := sp.Sync(ctx); err != nil {
//		// at least one node failed; its placeholders carry the error
//	}
//	n, err := hits.Get()
//
// Keys are placed by slot routing (crc32(key) mod number of nodes) unless the
// configuration selects ring routing, which supports AddNode and RemoveNode.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/pipeline"
)

var (
	// ErrNotFound is returned by single-value reads of a missing key or field.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
)

// Client is safe for concurrent use.
type Client struct {
	config *config.ClientConfig
	router Router

	mu     sync.RWMutex // guards pools, closed and ring membership
	pools  map[string]*ConnectionPool
	closed bool
}

// New creates a client for nodes with configuration from the environment.
func New(nodes []string) (*Client, error) {
	cfg, err := config.LoadClientConfig(context.Background(), "")
	if err != nil {
		return nil, err
	}
	cfg.Nodes = nodes
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig creates a client from cfg. No connections are made until
// the first command.
//
// It panics if cfg is invalid.
func NewWithConfig(cfg *config.ClientConfig) *Client {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid client config: %v", err))
	}

	c := &Client{
		config: cfg,
		router: newRouter(cfg),
		pools:  make(map[string]*ConnectionPool, len(cfg.Nodes)),
	}
	for _, node := range cfg.Nodes {
		c.pools[node] = newConnectionPool(node, cfg)
	}
	return c
}

// NodeFor returns the node that owns key.
func (c *Client) NodeFor(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router.Route(key)
}

// Nodes returns the current nodes in routing order.
func (c *Client) Nodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router.Nodes()
}

// AddNode adds a node under ring routing. Keys adjacent to its virtual nodes
// move to it; the data itself is not migrated.
func (c *Client) AddNode(address string) error {
	ring, ok := c.router.(*RingRouter)
	if !ok {
		return ErrStaticTopology
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	ring.AddNode(address)
	if _, exists := c.pools[address]; !exists {
		c.pools[address] = newConnectionPool(address, c.config)
	}
	return nil
}

// RemoveNode removes a node under ring routing and closes its pool.
func (c *Client) RemoveNode(address string) error {
	ring, ok := c.router.(*RingRouter)
	if !ok {
		return ErrStaticTopology
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ring.RemoveNode(address)
	if pool, exists := c.pools[address]; exists {
		pool.Close()
		delete(c.pools, address)
	}
	return nil
}

// poolFor returns the pool of the node that owns key.
func (c *Client) poolFor(key string) (*ConnectionPool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	node := c.router.Route(key)
	if node == "" {
		return nil, fmt.Errorf("no available nodes")
	}
	return c.poolLocked(node)
}

func (c *Client) poolLocked(node string) (*ConnectionPool, error) {
	pool, exists := c.pools[node]
	if !exists {
		return nil, fmt.Errorf("no connection pool for node: %s", node)
	}
	return pool, nil
}

// Conn is a pooled connection to one node driven as a pipeline. Release it
// when done so the connection can be reused.
type Conn struct {
	*pipeline.Pipeline
	pool      *ConnectionPool
	transport *pipeline.ConnTransport
}

// Node is the address of the connected node.
func (cn *Conn) Node() string { return cn.pool.Address() }

// Release ends the pipeline and returns a healthy connection to its pool.
// Commands queued but not synced fail with pipeline.ErrPipelineClosed.
func (cn *Conn) Release(ctx context.Context) {
	if t := cn.Pipeline.Release(); t != nil {
		cn.pool.Put(ctx, cn.transport)
		return
	}
	cn.pool.Discard(ctx, cn.transport)
}

// Pipeline checks out a connection to node and wraps it in a pipeline.
func (c *Client) Pipeline(ctx context.Context, node string) (*Conn, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	pool, err := c.poolLocked(node)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return checkout(ctx, pool)
}

// PipelineFor is Pipeline for the node that owns key.
func (c *Client) PipelineFor(ctx context.Context, key string) (*Conn, error) {
	pool, err := c.poolFor(key)
	if err != nil {
		return nil, err
	}
	return checkout(ctx, pool)
}

func checkout(ctx context.Context, pool *ConnectionPool) (*Conn, error) {
	t, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{Pipeline: pipeline.New(t), pool: pool, transport: t}, nil
}

// do runs one command on the node that owns key. Connection failures are
// retried on a fresh connection up to RetryAttempts times; server errors are
// returned as they are.
func do[T any](ctx context.Context, c *Client, decode pipeline.Decoder[T], name, key string, args ...any) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		conn, err := c.PipelineFor(ctx, key)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return zero, err
			}
			lastErr = err
			continue
		}

		ph, err := pipeline.Enqueue(conn.Pipeline, decode, name, append([]any{key}, args...)...)
		if err != nil {
			conn.Release(ctx)
			return zero, err
		}
		if err := conn.Sync(ctx); err != nil {
			conn.Release(ctx)
			if ctx.Err() != nil {
				return zero, err
			}
			clog.FromContext(ctx).Debugf("%s on %s failed (attempt %d): %v", name, conn.Node(), attempt+1, err)
			lastErr = err
			continue
		}
		conn.Release(ctx)
		return ph.Get()
	}

	return zero, fmt.Errorf("command failed after %d attempts: %w", c.config.RetryAttempts+1, lastErr)
}

func found(v *string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", ErrNotFound
	}
	return *v, nil
}

// Get returns the string at key, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return found(do(ctx, c, pipeline.NullableString, "GET", key))
}

// Set stores value at key. A positive ttl sets an expiry.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := []any{value}
	if ttl > 0 {
		args = append(args, ttl)
	}
	_, err := do(ctx, c, pipeline.Status, "SET", key, args...)
	return err
}

// Del deletes key and reports whether it existed.
func (c *Client) Del(ctx context.Context, key string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "DEL", key)
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "EXISTS", key)
}

// Incr increments the integer at key.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "INCR", key)
}

// Decr decrements the integer at key.
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "DECR", key)
}

// IncrBy adds delta to the integer at key.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return do(ctx, c, pipeline.Int64, "INCRBY", key, delta)
}

// DecrBy subtracts delta from the integer at key.
func (c *Client) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return do(ctx, c, pipeline.Int64, "DECRBY", key, delta)
}

// Expire sets key to expire after ttl and reports whether the key exists.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return do(ctx, c, pipeline.Bool, "EXPIRE", key, ttl)
}

// TTL returns the remaining time to live of key: -1s without expiry, -2s if
// the key does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return do(ctx, c, pipeline.Duration, "TTL", key)
}

// Persist removes the expiry of key.
func (c *Client) Persist(ctx context.Context, key string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "PERSIST", key)
}

// HGet returns one hash field, or ErrNotFound.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	return found(do(ctx, c, pipeline.NullableString, "HGET", key, field))
}

// HSet sets one hash field and reports whether it is new.
func (c *Client) HSet(ctx context.Context, key, field, value string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "HSET", key, field, value)
}

// HDel deletes one hash field.
func (c *Client) HDel(ctx context.Context, key, field string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "HDEL", key, field)
}

// HExists reports whether a hash field exists.
func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "HEXISTS", key, field)
}

// HGetAll returns every field of the hash at key.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return do(ctx, c, pipeline.StringMap, "HGETALL", key)
}

// LPush prepends values to a list and returns its length.
func (c *Client) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "LPUSH", key, strArgs(values)...)
}

// RPush appends values to a list and returns its length.
func (c *Client) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "RPUSH", key, strArgs(values)...)
}

// LPop removes the first list element, or returns ErrNotFound.
func (c *Client) LPop(ctx context.Context, key string) (string, error) {
	return found(do(ctx, c, pipeline.NullableString, "LPOP", key))
}

// RPop removes the last list element, or returns ErrNotFound.
func (c *Client) RPop(ctx context.Context, key string) (string, error) {
	return found(do(ctx, c, pipeline.NullableString, "RPOP", key))
}

// LLen returns the length of a list.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "LLEN", key)
}

// SAdd adds members to a set and returns how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "SADD", key, strArgs(members)...)
}

// SRem removes members from a set and returns how many were present.
func (c *Client) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	return do(ctx, c, pipeline.Int64, "SREM", key, strArgs(members)...)
}

// SMembers returns the members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return do(ctx, c, pipeline.Strings, "SMEMBERS", key)
}

// SIsMember reports whether member is in the set.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return do(ctx, c, pipeline.Bool, "SISMEMBER", key, member)
}

// Ping checks every node concurrently and returns the first failure.
func (c *Client) Ping(ctx context.Context) error {
	var g errgroup.Group
	for _, node := range c.Nodes() {
		g.Go(func() error {
			conn, err := c.Pipeline(ctx, node)
			if err != nil {
				return fmt.Errorf("ping %s: %w", node, err)
			}
			defer conn.Release(ctx)

			ph, err := pipeline.Ping(conn.Pipeline)
			if err != nil {
				return err
			}
			if err := conn.Sync(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", node, err)
			}
			if _, err := ph.Get(); err != nil {
				return fmt.Errorf("ping %s: %w", node, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every connection pool. Connections checked out at the time
// are closed when released.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, pool := range c.pools {
		pool.Close()
	}
	return nil
}

func strArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
