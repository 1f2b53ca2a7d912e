// Package server implements the reference shardpipe cache server.
//
// The server accepts TCP connections and answers framed commands against an
// in-memory cache. Replies on a connection go out strictly in the order the
// commands were read, which is what lets clients pipeline: a client may write
// any number of commands before reading, and will find exactly one reply per
// command, in order.
//
// Replies are buffered and the buffer is flushed once every command already
// received has been answered, so a pipelined batch is typically answered with
// a single write.
//
// Example usage:
//
//	srv := server.New(cfg)
//	go func() {
//		if err := srv.Start(ctx); err != nil {
//			log.Fatal(err)
//		}
//	}()
//	...
//	srv.Stop()
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/sync/errgroup"

	"github.com/cachemir/shardpipe/pkg/cache"
	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/protocol"
)

var (
	mConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shardpipe_server_connections",
		Help: "The number of open client connections",
	})
	mCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardpipe_server_commands_total",
			Help: "The total number of commands executed, by command and reply type",
		},
		[]string{"command", "reply"},
	)
)

// Server is a cache server instance. It is safe to call Stop from any
// goroutine while Start or Serve is running.
type Server struct {
	cfg      *config.ServerConfig
	cache    *cache.Cache
	handlers map[protocol.CommandType]handler

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	stopping atomic.Bool

	nextConn atomic.Uint64
	conns    *skipmap.FuncMap[uint64, net.Conn]
}

// New creates a server from cfg. Nothing listens until Start or Serve.
func New(cfg *config.ServerConfig) *Server {
	s := &Server{
		cfg:   cfg,
		cache: cache.New(cache.WithSweepInterval(cfg.SweepInterval)),
		ready: make(chan struct{}),
		conns: skipmap.NewFunc[uint64, net.Conn](func(a, b uint64) bool {
			return a < b
		}),
	}
	s.handlers = s.commandHandlers()
	return s
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on l until ctx is done or Stop is called, then
// waits for every connection handler to return. At most cfg.MaxConns
// connections are served at once; further connections wait in the accept
// backlog.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	close(s.ready)
	if s.stopping.Load() {
		_ = l.Close()
	}

	log := clog.FromContext(ctx).With("addr", l.Addr().String())
	log.Infof("shardpipe server listening on %s", l.Addr())

	stop := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stop()

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConns)

	for {
		conn, aerr := l.Accept()
		if aerr != nil {
			if s.stopping.Load() || errors.Is(aerr, net.ErrClosed) {
				break
			}
			log.Warnf("failed to accept connection: %v", aerr)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		id := s.nextConn.Add(1)
		s.conns.Store(id, conn)
		mConnections.Inc()
		g.Go(func() error {
			defer func() {
				s.conns.Delete(id)
				mConnections.Dec()
			}()
			s.handleConnection(ctx, conn)
			return nil
		})
	}

	_ = g.Wait()
	s.cache.Close()
	log.Infof("shardpipe server stopped")
	return nil
}

// Addr returns the listening address, blocking until Serve has started.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Stop closes the listener and every live connection. Serve returns once the
// connection handlers have exited.
func (s *Server) Stop() error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.conns.Range(func(_ uint64, c net.Conn) bool {
		_ = c.Close()
		return true
	})
	return err
}

// Connections returns the number of live client connections.
func (s *Server) Connections() int {
	return s.conns.Len()
}

// handleConnection serves one client. Each command is answered before the next
// is read; replies accumulate in the writer until the reader has no buffered
// input left, then go out together. The write deadline covers one such batch.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	log := clog.FromContext(ctx).With("remote", conn.RemoteAddr().String())
	defer func() {
		if err := conn.Close(); err != nil && !s.stopping.Load() && !errors.Is(err, net.ErrClosed) {
			log.Debugf("error closing connection: %v", err)
		}
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if reader.Buffered() == 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
				log.Debugf("error setting read deadline: %v", err)
				return
			}
		}

		frame, err := protocol.ReadFrame(reader)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), s.stopping.Load():
			case errors.Is(err, os.ErrDeadlineExceeded):
				log.Debugf("closing idle connection: %v", err)
			default:
				log.Warnf("failed to read command: %v", err)
			}
			return
		}

		if writer.Buffered() == 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				log.Debugf("error setting write deadline: %v", err)
				return
			}
		}

		resp := s.executeFrame(frame)
		if err := protocol.WriteResponse(writer, resp); err != nil {
			// The reply could not be encoded; answer with an error so the
			// stream stays one reply per command.
			log.Errorf("failed to encode response: %v", err)
			if err := protocol.WriteResponse(writer, errorResponse(err)); err != nil {
				return
			}
		}

		if reader.Buffered() > 0 {
			continue
		}
		if err := writer.Flush(); err != nil {
			log.Warnf("failed to write responses: %v", err)
			return
		}
	}
}

// executeFrame decodes and runs one command. A frame that does not decode to
// a valid command gets an error reply; the framing itself is intact, so the
// connection stays usable.
func (s *Server) executeFrame(frame []byte) *protocol.Response {
	cmd, err := protocol.DeserializeCommand(frame)
	if err != nil {
		mCommands.WithLabelValues("invalid", protocol.RespError.String()).Inc()
		return errorResponse(fmt.Errorf("malformed command: %w", err))
	}
	resp := s.executeCommand(cmd)
	mCommands.WithLabelValues(cmd.Type.String(), resp.Type.String()).Inc()
	return resp
}

// executeCommand dispatches cmd to its handler.
func (s *Server) executeCommand(cmd *protocol.Command) *protocol.Response {
	if err := cmd.Validate(); err != nil {
		return errorResponse(err)
	}
	if h, ok := s.handlers[cmd.Type]; ok {
		return h(cmd)
	}
	return errorResponse(fmt.Errorf("unknown command: %s", cmd.Type))
}
