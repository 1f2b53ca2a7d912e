package pipeline

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

// fakeTransport replays scripted reply frames. Once the script runs out
// ReadFrame returns io.EOF, as if the server hung up.
type fakeTransport struct {
	mu       sync.Mutex
	replies  [][]byte
	writeErr error
	writes   [][]byte
	reads    int
	closed   bool

	// gate, when set, is received from before every ReadFrame.
	gate chan struct{}
	// closedCh is closed by Close so blocked reads can observe it.
	closedCh chan struct{}
}

func newFakeTransport(replies ...[]byte) *fakeTransport {
	return &fakeTransport{replies: replies, closedCh: make(chan struct{})}
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeTransport) ReadFrame() ([]byte, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closedCh:
			return nil, net.ErrClosed
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, net.ErrClosed
	}
	if f.reads >= len(f.replies) {
		return nil, io.EOF
	}
	frame := f.replies[f.reads]
	f.reads++
	return frame, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	f.closed = true
	close(f.closedCh)
	return nil
}

func (f *fakeTransport) stats() (writes, reads int, closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes), f.reads, f.closed
}

// blockingTransport never answers; reads return once it is closed.
type blockingTransport struct {
	once   sync.Once
	closed chan struct{}
	wrote  chan struct{}
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{closed: make(chan struct{}), wrote: make(chan struct{}, 1)}
}

func (b *blockingTransport) Write([]byte) error {
	select {
	case b.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (b *blockingTransport) ReadFrame() ([]byte, error) {
	<-b.closed
	return nil, net.ErrClosed
}

func (b *blockingTransport) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func reply(t *testing.T, resp *protocol.Response) []byte {
	t.Helper()
	data, err := resp.Serialize()
	if err != nil {
		t.Fatalf("Serialize(%+v): %v", resp, err)
	}
	return data
}

func okReply(t *testing.T) []byte {
	return reply(t, &protocol.Response{Type: protocol.RespOK})
}

func nilReply(t *testing.T) []byte {
	return reply(t, &protocol.Response{Type: protocol.RespNil})
}

func stringReply(t *testing.T, s string) []byte {
	return reply(t, &protocol.Response{Type: protocol.RespString, Data: s})
}

func intReply(t *testing.T, n int64) []byte {
	return reply(t, &protocol.Response{Type: protocol.RespInt, Data: n})
}

func errorReply(t *testing.T, msg string) []byte {
	return reply(t, &protocol.Response{Type: protocol.RespError, Error: msg})
}

func mustConnectionError(t *testing.T, err error) *ConnectionError {
	t.Helper()
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v (%T), want *ConnectionError", err, err)
	}
	return ce
}
