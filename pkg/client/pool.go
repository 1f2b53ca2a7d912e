package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/pipeline"
)

// errPoolClosed is returned by Get after the pool was closed.
var errPoolClosed = errors.New("connection pool closed")

// ConnectionPool keeps reusable connections to one node. It dials on demand
// up to a per-node maximum; beyond that, callers wait for a connection to be
// returned. Connections idle for longer than the idle timeout are closed
// instead of reused, since the server drops them on its read timeout.
type ConnectionPool struct {
	idle        chan idleConn
	address     string
	connTimeout time.Duration
	idleTimeout time.Duration
	connOpts    pipeline.ConnOptions

	mu       sync.Mutex
	maxConns int
	created  int
	closed   bool
}

type idleConn struct {
	t     *pipeline.ConnTransport
	since time.Time
}

func newConnectionPool(address string, cfg *config.ClientConfig) *ConnectionPool {
	return &ConnectionPool{
		idle:        make(chan idleConn, cfg.MaxConnsPerNode),
		address:     address,
		connTimeout: cfg.ConnTimeout,
		idleTimeout: cfg.IdleTimeout,
		connOpts: pipeline.ConnOptions{
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		maxConns: cfg.MaxConnsPerNode,
	}
}

// Address is the node this pool connects to.
func (cp *ConnectionPool) Address() string { return cp.address }

// Get returns an idle connection or dials a new one. When the pool is at
// capacity it waits up to the connect timeout for one to be returned.
func (cp *ConnectionPool) Get(ctx context.Context) (*pipeline.ConnTransport, error) {
	var timeout <-chan time.Time
	for {
		select {
		case ic, ok := <-cp.idle:
			if !ok {
				return nil, errPoolClosed
			}
			if cp.expired(ic) {
				cp.retire(ctx, ic)
				continue
			}
			return ic.t, nil
		default:
		}

		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return nil, errPoolClosed
		}
		if cp.created < cp.maxConns {
			cp.created++
			cp.mu.Unlock()
			return cp.dial(ctx)
		}
		cp.mu.Unlock()

		if timeout == nil {
			timer := time.NewTimer(cp.connTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case ic, ok := <-cp.idle:
			if !ok {
				return nil, errPoolClosed
			}
			if cp.expired(ic) {
				cp.retire(ctx, ic)
				continue
			}
			return ic.t, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("connection pool timeout for %s", cp.address)
		}
	}
}

func (cp *ConnectionPool) dial(ctx context.Context) (*pipeline.ConnTransport, error) {
	dialer := &net.Dialer{Timeout: cp.connTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cp.address)
	if err != nil {
		cp.mu.Lock()
		cp.created--
		cp.mu.Unlock()
		return nil, fmt.Errorf("dial %s: %w", cp.address, err)
	}
	return pipeline.NewConnTransport(conn, cp.connOpts), nil
}

func (cp *ConnectionPool) expired(ic idleConn) bool {
	return cp.idleTimeout > 0 && time.Since(ic.since) >= cp.idleTimeout
}

func (cp *ConnectionPool) retire(ctx context.Context, ic idleConn) {
	clog.FromContext(ctx).Debugf("closing connection to %s idle for %v", cp.address, time.Since(ic.since).Round(time.Millisecond))
	cp.Discard(ctx, ic.t)
}

// Put returns t for reuse. A connection with unread input is out of step with
// its replies and is closed instead, as is any connection returned after the
// pool was closed or while the pool is full.
func (cp *ConnectionPool) Put(ctx context.Context, t *pipeline.ConnTransport) {
	if t.Buffered() > 0 {
		clog.FromContext(ctx).Warnf("discarding connection to %s with %d unread bytes", cp.address, t.Buffered())
		cp.Discard(ctx, t)
		return
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.closed {
		select {
		case cp.idle <- idleConn{t: t, since: time.Now()}:
			return
		default:
		}
	}
	cp.created--
	if err := t.Close(); err != nil {
		clog.FromContext(ctx).Debugf("error closing connection: %v", err)
	}
}

// Discard closes t and frees its slot. The pipeline that failed on t may
// already have closed it.
func (cp *ConnectionPool) Discard(ctx context.Context, t *pipeline.ConnTransport) {
	if err := t.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		clog.FromContext(ctx).Debugf("error closing connection: %v", err)
	}
	cp.mu.Lock()
	cp.created--
	cp.mu.Unlock()
}

// Stats returns the number of open and idle connections.
func (cp *ConnectionPool) Stats() (open, idle int) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.created, len(cp.idle)
}

// Close closes every idle connection. Connections in use are closed when
// they are returned.
func (cp *ConnectionPool) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.closed {
		return
	}
	cp.closed = true
	close(cp.idle)
	for ic := range cp.idle {
		cp.created--
		_ = ic.t.Close()
	}
}
