package pipeline

import (
	"errors"
	"fmt"
)

// ErrPipelineClosed is returned by Enqueue and Sync on a closed pipeline and
// is the outcome of placeholders discarded by Close before they were sent.
var ErrPipelineClosed = errors.New("pipeline: closed")

var errNilDecoder = errors.New("nil decoder")

// EncodingError reports a command that could not be encoded. It is returned
// by Enqueue and the command is never queued.
type EncodingError struct {
	Command string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("pipeline: encode %s: %v", e.Command, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ServerError is an application error the server reported for one command,
// such as "value is not an integer". It fails only that command's placeholder.
type ServerError struct {
	Command string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s: %s", e.Command, e.Message)
}

// ProtocolError reports a reply whose shape did not match what the command's
// decoder expected. Like ServerError it is confined to one placeholder.
type ProtocolError struct {
	Command string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionError reports a transport failure. Every placeholder still
// pending when it happened fails with it and the pipeline is closed.
type ConnectionError struct {
	Op  string // "write" or "read"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsServerError reports whether err is or wraps a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsConnectionError reports whether err is or wraps a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
