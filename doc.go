// Package shardpipe is a sharded in-memory cache with pipelined command
// execution.
//
// Clients queue commands on a pipeline and receive a Placeholder for each
// one. A sync writes every queued command to the node in one batch, then reads
// the replies back in order and resolves each placeholder with its own reply.
// Keys are spread over nodes by a CRC-32 slot (crc32(key) mod nodes) or,
// optionally, a consistent-hash ring.
//
// # Architecture Overview
//
//   - Server: TCP server running cache commands, replying in request order
//   - Pipeline: ordered command queue over one connection, with placeholders
//   - Client: routing, per-node connection pools and sharded pipelines
//   - Cache Engine: in-memory strings, hashes, lists and sets with expiry
//   - Protocol: length-prefixed binary frames
//   - Hash: CRC-32, slot selection and the consistent-hash ring
//   - Configuration: YAML files layered under CACHEMIR_* environment variables
//
// # Quick Start
//
// Server:
//
//	./shardpipe-server --port 8080
//	# or
//	CACHEMIR_PORT=8080 CACHEMIR_MAX_CONNS=1000 ./shardpipe-server
//
// Client:
//
//	import "github.com/cachemir/shardpipe/pkg/client"
//
//	c, err := client.New([]string{"localhost:8080", "localhost:8081"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Set(ctx, "user:123", "john_doe", time.Hour)
//	value, err := c.Get(ctx, "user:123")
//
// Pipelined:
//
//	sp := c.Pipelined()
//	defer sp.Close()
//
//	hits, _ := client.Enqueue(ctx, sp, pipeline.Int64, "INCR", "hits")
//	name, _ := client.Enqueue(ctx, sp, pipeline.NullableString, "HGET", "user:123", "name")
//	err = sp.Sync(ctx)
//	n, err := hits.Get()
//
// A placeholder that fails carries its own error: a server error affects only
// that command, a connection failure fails every command not yet answered.
//
// # Supported Operations
//
// String Operations:
//   - GET, SET, DEL, EXISTS
//   - INCR, DECR, INCRBY, DECRBY
//   - EXPIRE, TTL, PERSIST
//
// Hash Operations:
//   - HGET, HSET, HDEL, HEXISTS, HGETALL
//
// List Operations:
//   - LPUSH, RPUSH, LPOP, RPOP, LLEN
//
// Set Operations:
//   - SADD, SREM, SMEMBERS, SISMEMBER
//
// # Package Structure
//
//   - pkg/pipeline: Pipelines, placeholders and reply decoders
//   - pkg/client: Multi-node client and sharded pipelines
//   - pkg/cache: In-memory cache engine
//   - pkg/protocol: Binary communication protocol
//   - pkg/hash: CRC-32 slots and consistent hashing
//   - pkg/config: Configuration management
//   - internal/server: Server implementation
//   - cmd/server: Server executable
//   - cmd/client-example: Example client and batch runner
package shardpipe
