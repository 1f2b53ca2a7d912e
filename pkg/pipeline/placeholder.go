package pipeline

import (
	"context"
	"sync"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

// State is the lifecycle of a Placeholder.
type State uint8

const (
	Pending  State = iota // queued, reply not yet read
	Resolved              // reply decoded into a value
	Failed                // server, protocol, connection or closed error
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Resolved:
		return "RESOLVED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// outcome labels a resolution for metrics.
type outcome string

const (
	outcomeOK            outcome = "ok"
	outcomeServerError   outcome = "server_error"
	outcomeProtocolError outcome = "protocol_error"
)

// entry is the pipeline's view of a queued placeholder, independent of T.
type entry interface {
	resolve(frame []byte) outcome
	fail(err error)
	resolved() bool
}

// Placeholder is the deferred result of one pipelined command. It is created
// Pending by Enqueue and moves exactly once to Resolved or Failed when its
// pipeline reads the matching reply. After that it never changes.
type Placeholder[T any] struct {
	seq     uint64
	command string
	decode  Decoder[T]
	owner   *Pipeline

	mu    sync.Mutex
	state State
	value T
	err   error
	done  chan struct{}
}

func newPlaceholder[T any](owner *Pipeline, seq uint64, command string, decode Decoder[T]) *Placeholder[T] {
	return &Placeholder[T]{
		seq:     seq,
		command: command,
		decode:  decode,
		owner:   owner,
		done:    make(chan struct{}),
	}
}

// Seq is the placeholder's position in its pipeline, counted from 0 over the
// pipeline's lifetime.
func (p *Placeholder[T]) Seq() uint64 { return p.seq }

// Command is the name of the command this placeholder answers.
func (p *Placeholder[T]) Command() string { return p.command }

// State returns the current lifecycle state.
func (p *Placeholder[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsResolved reports whether the outcome is available, successful or not.
// It never blocks.
func (p *Placeholder[T]) IsResolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the placeholder leaves Pending.
func (p *Placeholder[T]) Done() <-chan struct{} { return p.done }

// Get returns the command's value or its error, blocking until the reply has
// been read. If the owning pipeline has not synced this command yet, Get syncs
// it first. Later calls return the same outcome without any I/O.
func (p *Placeholder[T]) Get() (T, error) {
	if !p.IsResolved() {
		p.owner.syncFor(p)
		<-p.done
	}
	return p.value, p.err
}

// Wait blocks until the placeholder is resolved or ctx is done. Unlike Get it
// never triggers a sync, so it suits a goroutine waiting on another that
// drives the pipeline.
func (p *Placeholder[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Placeholder[T]) resolved() bool { return p.IsResolved() }

func (p *Placeholder[T]) resolve(frame []byte) outcome {
	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		p.fail(&ProtocolError{Command: p.command, Err: err})
		return outcomeProtocolError
	}
	if resp.Type == protocol.RespError {
		p.fail(&ServerError{Command: p.command, Message: resp.Error})
		return outcomeServerError
	}
	v, err := p.decode(resp)
	if err != nil {
		p.fail(&ProtocolError{Command: p.command, Err: err})
		return outcomeProtocolError
	}
	p.set(Resolved, v, nil)
	return outcomeOK
}

func (p *Placeholder[T]) fail(err error) {
	var zero T
	p.set(Failed, zero, err)
}

func (p *Placeholder[T]) set(state State, v T, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Pending {
		return
	}
	p.state, p.value, p.err = state, v, err
	close(p.done)
}
