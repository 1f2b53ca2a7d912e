package pipeline

import (
	"bufio"
	"net"
	"time"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

// Transport is the byte stream a Pipeline drives. Write sends a whole batch;
// ReadFrame returns exactly one reply unit. A Transport must be owned by one
// Pipeline at a time because replies are matched to commands by position.
type Transport interface {
	Write(p []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// ConnOptions tunes a ConnTransport. Zero timeouts disable deadlines.
type ConnOptions struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
}

const defaultReadBufferSize = 16 * 1024

// ConnTransport is a Transport over a net.Conn. Each Write and each ReadFrame
// gets its own deadline, so a stalled server surfaces as a ConnectionError.
type ConnTransport struct {
	conn net.Conn
	r    *bufio.Reader
	opts ConnOptions
}

var _ Transport = (*ConnTransport)(nil)

// NewConnTransport wraps conn.
func NewConnTransport(conn net.Conn, opts ConnOptions) *ConnTransport {
	size := opts.ReadBufferSize
	if size <= 0 {
		size = defaultReadBufferSize
	}
	return &ConnTransport{
		conn: conn,
		r:    bufio.NewReaderSize(conn, size),
		opts: opts,
	}
}

// Conn returns the underlying connection.
func (t *ConnTransport) Conn() net.Conn { return t.conn }

// Write writes all of p.
func (t *ConnTransport) Write(p []byte) error {
	if err := t.conn.SetWriteDeadline(deadline(t.opts.WriteTimeout)); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := t.conn.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// ReadFrame reads one reply frame.
func (t *ConnTransport) ReadFrame() ([]byte, error) {
	if err := t.conn.SetReadDeadline(deadline(t.opts.ReadTimeout)); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(t.r)
}

// Buffered reports bytes already read from the connection but not consumed.
// A connection returned to a pool must have none.
func (t *ConnTransport) Buffered() int { return t.r.Buffered() }

// Close closes the connection.
func (t *ConnTransport) Close() error { return t.conn.Close() }

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
