// Package pipeline batches commands over one connection and resolves their
// replies in order.
//
// Commands are queued with Enqueue, which encodes them into an outbound buffer
// and hands back a Placeholder. Sync writes the buffer in one go and then reads
// one reply per queued command, in the order they were queued, settling each
// placeholder as it goes:
//
//	p := pipeline.New(pipeline.NewConnTransport(conn, pipeline.ConnOptions{}))
//	defer p.Close()
//
//	set, _ := pipeline.Set(p, "k1", "v1", 0)
//	get, _ := pipeline.Get(p, "missing")
//	incr, _ := pipeline.Incr(p, "textkey")
//	if err := p.Sync(ctx); err != nil {
//		// the connection failed; every unsettled placeholder carries the error
//	}
//
//	status, _ := set.Get()   // "OK"
//	value, _ := get.Get()    // nil
//	_, err := incr.Get()     // *ServerError: value is not an integer
//
// A server error fails only its own placeholder; the read loop always consumes
// exactly one reply per command so the rest of the batch stays aligned. A
// transport error fails every placeholder still pending and closes the
// pipeline, since the two ends may no longer agree on where the reply stream
// is.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

// PipelineState is the lifecycle of a Pipeline.
type PipelineState uint32

const (
	Open     PipelineState = iota // accepting commands
	Flushing                      // Sync in progress
	Closed                        // terminal
)

func (s PipelineState) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Flushing:
		return "FLUSHING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Pipeline owns one Transport and the ordered queue of commands written to
// it but not yet answered. It is safe for concurrent use: Enqueue, Sync and
// Close serialize on one lock, so at most one Sync runs at a time and
// commands queued while a Sync is running wait for it to finish.
type Pipeline struct {
	id        xid.ID
	transport Transport

	mu    sync.Mutex
	state atomic.Uint32
	queue []entry
	buf   []byte
	seq   uint64
}

// New returns an open pipeline that exclusively owns t.
func New(t Transport) *Pipeline {
	return &Pipeline{
		id:        xid.New(),
		transport: t,
	}
}

// ID identifies the pipeline in logs and traces.
func (p *Pipeline) ID() string { return p.id.String() }

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState { return PipelineState(p.state.Load()) }

// Len returns the number of queued commands awaiting Sync.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Buffered returns the number of encoded bytes awaiting Sync.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Enqueue encodes the command name with args, appends it to p's outbound
// buffer and returns its placeholder. No I/O happens until Sync. Encoding
// failures are returned as *EncodingError and leave p unchanged; a closed
// pipeline returns ErrPipelineClosed.
//
// Example:
//
//	ph, err := pipeline.Enqueue(p, pipeline.Int64, "INCRBY", "counter", 5)
func Enqueue[T any](p *Pipeline, decode Decoder[T], name string, args ...any) (*Placeholder[T], error) {
	if p.State() == Closed {
		return nil, ErrPipelineClosed
	}
	cmd, err := protocol.NewCommand(name, args...)
	if err != nil {
		return nil, &EncodingError{Command: name, Err: err}
	}
	return EnqueueCommand(p, decode, cmd)
}

// EnqueueCommand queues an already built command.
func EnqueueCommand[T any](p *Pipeline, decode Decoder[T], cmd *protocol.Command) (*Placeholder[T], error) {
	if decode == nil {
		return nil, &EncodingError{Command: cmd.Type.String(), Err: errNilDecoder}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == Closed {
		return nil, ErrPipelineClosed
	}

	name := cmd.Type.String()
	ph := newPlaceholder(p, p.seq, name, decode)
	p.seq++
	p.buf = cmd.AppendFrame(p.buf)
	p.queue = append(p.queue, ph)
	mEnqueued.WithLabelValues(name).Inc()
	return ph, nil
}

// Sync sends every queued command and settles their placeholders in order.
//
// Server and protocol errors only fail their own placeholder and Sync still
// returns nil. A transport failure fails the remaining placeholders with a
// *ConnectionError, closes p and its transport, and is returned. Cancelling
// ctx while Sync is in flight closes the transport, with the same effect.
// Sync on a closed pipeline returns ErrPipelineClosed.
func (p *Pipeline) Sync(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncLocked(ctx)
}

// syncFor syncs on behalf of a placeholder's Get. If another caller already
// settled it, nothing is sent.
func (p *Pipeline) syncFor(e entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.resolved() {
		return
	}
	if p.State() == Closed {
		e.fail(ErrPipelineClosed)
		return
	}
	_ = p.syncLocked(context.Background())
}

func (p *Pipeline) syncLocked(ctx context.Context) error {
	if p.State() == Closed {
		return ErrPipelineClosed
	}
	if len(p.queue) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := p.queue
	p.queue = nil
	p.state.Store(uint32(Flushing))

	ctx, span := tracer.Start(ctx, "pipeline.Sync",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pipeline.id", p.ID()),
			attribute.Int("pipeline.commands", len(batch)),
			attribute.Int("pipeline.bytes", len(p.buf)),
		))
	defer span.End()
	log := clog.FromContext(ctx).With("pipeline", p.ID())

	stop := context.AfterFunc(ctx, func() { _ = p.transport.Close() })
	defer stop()

	start := time.Now()
	mBatchSize.Observe(float64(len(batch)))

	err := p.transport.Write(p.buf)
	p.buf = p.buf[:0]
	if err != nil {
		return p.abort(ctx, span, batch, &ConnectionError{Op: "write", Err: err})
	}

	for i, e := range batch {
		frame, err := p.transport.ReadFrame()
		if err != nil {
			return p.abort(ctx, span, batch[i:], &ConnectionError{Op: "read", Err: err})
		}
		mReplies.WithLabelValues(string(e.resolve(frame))).Inc()
	}

	mSyncDuration.Observe(time.Since(start).Seconds())
	if !stop() {
		// ctx ended after the last reply arrived but the transport is gone.
		p.state.Store(uint32(Closed))
		log.Debugf("transport closed by context after sync: %v", context.Cause(ctx))
		return nil
	}
	p.state.Store(uint32(Open))
	log.Debugf("synced %d commands in %v", len(batch), time.Since(start))
	return nil
}

// abort fails the unsettled part of a batch and closes p.
func (p *Pipeline) abort(ctx context.Context, span trace.Span, rest []entry, err *ConnectionError) error {
	for _, e := range rest {
		e.fail(err)
	}
	mReplies.WithLabelValues(outcomeConnectionError).Add(float64(len(rest)))
	mTransportFailures.WithLabelValues(err.Op).Inc()

	p.state.Store(uint32(Closed))
	if cerr := p.transport.Close(); cerr != nil {
		clog.FromContext(ctx).With("pipeline", p.ID()).Debugf("closing transport: %v", cerr)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	clog.WarnContextf(ctx, "pipeline %s: %v; failed %d pending commands", p.ID(), err, len(rest))
	return err
}

// Close closes p and its transport. Commands queued but not yet sent fail
// with ErrPipelineClosed; placeholders already settled are unaffected.
// If a Sync is running, Close waits for it. Close is idempotent.
func (p *Pipeline) Close() error {
	t := p.shutdown()
	if t == nil {
		return nil
	}
	return t.Close()
}

// Release closes p like Close but hands back its transport instead of closing
// it, so a healthy connection can be reused. It returns nil if p was already
// closed, in which case the transport is closed too.
func (p *Pipeline) Release() Transport {
	return p.shutdown()
}

func (p *Pipeline) shutdown() Transport {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == Closed {
		return nil
	}
	p.state.Store(uint32(Closed))

	for _, e := range p.queue {
		e.fail(ErrPipelineClosed)
	}
	mReplies.WithLabelValues(outcomeClosed).Add(float64(len(p.queue)))
	p.queue = nil
	p.buf = nil
	return p.transport
}
