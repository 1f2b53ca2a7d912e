// Package protocol implements the length-prefixed binary protocol spoken between
// shardpipe clients and servers.
//
// Every message on the wire is one frame:
//   - 4-byte big-endian payload length
//   - payload: a serialized Command (client to server) or Response (server to client)
//
// A connection carries a stream of frames in each direction and the server
// answers commands strictly in the order it read them. Replies carry no request
// identifier, so a client that writes N commands back to back must read exactly
// N reply frames to stay aligned. Pipelining depends on that correspondence.
//
// Example usage:
//
//	cmd, err := protocol.NewCommand("SET", "user:123", "john_doe", time.Hour)
//	if err != nil {
//		log.Fatal(err)
//	}
//	buf := cmd.AppendFrame(nil)
//
//	// ... write buf to the connection, then
//	frame, err := protocol.ReadFrame(conn)
//	resp, err := protocol.DecodeResponse(frame)
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Protocol constants
const (
	// HeaderSize is the length of the frame length prefix.
	HeaderSize = 4
	// MaxFrameSize bounds a single frame payload.
	MaxFrameSize = 1024 * 1024

	maxInt64Value = 9223372036854775807
)

// ErrFrameTooLarge is returned when a frame header announces a payload larger
// than MaxFrameSize. The stream cannot be resynchronized after it.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// ResponseType represents the type of response from the server.
// Different response types carry different data formats.
type ResponseType uint8

// Response type constants define the possible server response formats.
const (
	RespOK     ResponseType = iota // Simple OK response
	RespError                      // Error message response
	RespString                     // String data response
	RespInt                        // Integer data response
	RespArray                      // Array of strings response
	RespNil                        // Null/empty response
)

var responseTypeNames = [...]string{"OK", "ERROR", "STRING", "INT", "ARRAY", "NIL"}

func (t ResponseType) String() string {
	if int(t) < len(responseTypeNames) {
		return responseTypeNames[t]
	}
	return fmt.Sprintf("ResponseType(%d)", uint8(t))
}

// Command represents a client request to the cache server.
// It encapsulates the operation type, target key, arguments, and optional TTL.
type Command struct {
	Key  string        // The target key for the operation
	TTL  time.Duration // Optional time-to-live for expiration
	Type CommandType   // The operation to perform
	Args []string      // Command arguments (values, fields, etc.)
}

// Response represents a server response to a client command.
// The response type determines how the Data field should be interpreted:
//   - RespString: string
//   - RespInt: int64
//   - RespArray: []string
type Response struct {
	Data  interface{}  // The response payload (string, int64, []string)
	Error string       // Error message if Type is RespError
	Type  ResponseType // The type of response data
}

// Serialize converts a Command into its binary payload:
//   - 1 byte: command type
//   - varint: key length + key bytes
//   - varint: args count + (varint: arg length + arg bytes) for each arg
//   - varint: TTL in seconds
func (c *Command) Serialize() ([]byte, error) {
	return c.appendPayload(nil), nil
}

func (c *Command) appendPayload(buf []byte) []byte {
	buf = append(buf, byte(c.Type))
	buf = appendString(buf, c.Key)
	buf = binary.AppendUvarint(buf, uint64(len(c.Args)))
	for _, arg := range c.Args {
		buf = appendString(buf, arg)
	}
	return binary.AppendUvarint(buf, ttlSeconds(c.TTL))
}

// AppendFrame appends the framed encoding of c (header and payload) to dst
// and returns the extended buffer. Several commands appended to one buffer
// form a pipelined batch that can be written with a single call.
func (c *Command) AppendFrame(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = c.appendPayload(dst)
	binary.BigEndian.PutUint32(dst[start:], uint32(len(dst)-start-HeaderSize))
	return dst
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// DeserializeCommand reconstructs a Command from its binary payload.
// This is the inverse operation of Command.Serialize().
func DeserializeCommand(data []byte) (*Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty command data")
	}

	cmd := &Command{}
	offset := 0

	cmd.Type = CommandType(data[offset])
	offset++

	var err error
	cmd.Key, offset, err = deserializeString(data, offset, "key")
	if err != nil {
		return nil, err
	}

	cmd.Args, offset, err = deserializeStringSlice(data, offset)
	if err != nil {
		return nil, err
	}

	cmd.TTL, err = deserializeTTL(data, offset)
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

func deserializeString(data []byte, offset int, fieldName string) (str string, newOffset int, err error) {
	if offset >= len(data) {
		err = fmt.Errorf("missing %s", fieldName)
		return
	}
	strLen, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		err = fmt.Errorf("invalid %s length", fieldName)
		return
	}
	if strLen > uint64(len(data)) {
		err = fmt.Errorf("%s length too large", fieldName)
		return
	}
	offset += n

	strLenInt := int(strLen)
	if offset+strLenInt > len(data) {
		err = fmt.Errorf("%s data truncated", fieldName)
		return
	}
	str = string(data[offset : offset+strLenInt])
	newOffset = offset + strLenInt
	return
}

func deserializeStringSlice(data []byte, offset int) (args []string, newOffset int, err error) {
	if offset >= len(data) {
		err = fmt.Errorf("missing args count")
		return
	}
	argsCount, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		err = fmt.Errorf("invalid args count")
		return
	}
	if argsCount > uint64(len(data)) {
		err = fmt.Errorf("args count too large")
		return
	}
	offset += n

	args = make([]string, argsCount)
	for i := range args {
		args[i], offset, err = deserializeString(data, offset, "arg")
		if err != nil {
			return
		}
	}

	newOffset = offset
	return
}

func deserializeTTL(data []byte, offset int) (time.Duration, error) {
	if offset >= len(data) {
		return 0, fmt.Errorf("missing TTL")
	}
	secs, n := binary.Uvarint(data[offset:])
	if n <= 0 {
		return 0, fmt.Errorf("invalid TTL")
	}
	if secs > uint64(maxInt64Value/int64(time.Second)) {
		return 0, fmt.Errorf("TTL too large")
	}
	return time.Duration(secs) * time.Second, nil
}

// Serialize converts a Response into its binary payload.
// The format varies by response type:
//   - RespOK/RespNil: just the type byte
//   - RespError/RespString: type + varint length + data bytes
//   - RespInt: type + varint-encoded signed integer
//   - RespArray: type + varint count + (varint length + bytes) for each item
func (r *Response) Serialize() ([]byte, error) {
	buf := []byte{byte(r.Type)}

	switch r.Type {
	case RespOK, RespNil:
	case RespError:
		buf = appendString(buf, r.Error)
	case RespString:
		str, ok := r.Data.(string)
		if !ok {
			return nil, fmt.Errorf("string response carries %T", r.Data)
		}
		buf = appendString(buf, str)
	case RespInt:
		num, ok := r.Data.(int64)
		if !ok {
			return nil, fmt.Errorf("integer response carries %T", r.Data)
		}
		buf = binary.AppendVarint(buf, num)
	case RespArray:
		arr, ok := r.Data.([]string)
		if !ok {
			return nil, fmt.Errorf("array response carries %T", r.Data)
		}
		buf = binary.AppendUvarint(buf, uint64(len(arr)))
		for _, item := range arr {
			buf = appendString(buf, item)
		}
	default:
		return nil, fmt.Errorf("unknown response type %d", r.Type)
	}

	return buf, nil
}

// DecodeResponse reconstructs a Response from one reply frame payload.
// This is the inverse operation of Response.Serialize().
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response data")
	}

	resp := &Response{Type: ResponseType(data[0])}
	offset := 1

	switch resp.Type {
	case RespOK, RespNil:
		return resp, nil
	case RespError:
		errorStr, _, err := deserializeString(data, offset, "error")
		if err != nil {
			return nil, err
		}
		resp.Error = errorStr
	case RespString:
		str, _, err := deserializeString(data, offset, "string")
		if err != nil {
			return nil, err
		}
		resp.Data = str
	case RespInt:
		num, n := binary.Varint(data[offset:])
		if n <= 0 {
			return nil, fmt.Errorf("invalid integer")
		}
		resp.Data = num
	case RespArray:
		arr, _, err := deserializeStringSlice(data, offset)
		if err != nil {
			return nil, err
		}
		resp.Data = arr
	default:
		return nil, fmt.Errorf("unknown response type %d", data[0])
	}

	return resp, nil
}

// WriteResponse writes a Response to the given writer as one frame.
func WriteResponse(w io.Writer, resp *Response) error {
	data, err := resp.Serialize()
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// ReadResponse reads one frame from r and decodes it as a Response.
func ReadResponse(r io.Reader) (*Response, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(data)
}

// WriteCommand writes a Command to the given writer as one frame.
func WriteCommand(w io.Writer, cmd *Command) error {
	_, err := w.Write(cmd.AppendFrame(nil))
	return err
}

// ReadCommand reads one frame from r and decodes it as a Command.
func ReadCommand(r io.Reader) (*Command, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DeserializeCommand(data)
}

// ReadFrame reads exactly one frame from r and returns its payload.
// Errors from r are returned unchanged; io.EOF means the peer closed the
// stream cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
