package pipeline

import (
	"fmt"
	"time"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

// Decoder turns one reply into a typed value. It is only called for replies
// that are not server errors; a returned error fails the placeholder with a
// ProtocolError. Decoders are picked at the call site, one per command shape.
type Decoder[T any] func(resp *protocol.Response) (T, error)

func unexpected(resp *protocol.Response, want string) error {
	return fmt.Errorf("unexpected %s reply, want %s", resp.Type, want)
}

// Raw returns the reply as received.
func Raw(resp *protocol.Response) (*protocol.Response, error) {
	return resp, nil
}

// Status decodes a simple acknowledgement: OK becomes "OK" and a string reply
// (PING's "PONG") is returned as is.
func Status(resp *protocol.Response) (string, error) {
	switch resp.Type {
	case protocol.RespOK:
		return "OK", nil
	case protocol.RespString:
		return resp.Data.(string), nil
	default:
		return "", unexpected(resp, "OK")
	}
}

// String decodes a string reply. A nil reply is a protocol error; use
// NullableString for commands that may answer nil.
func String(resp *protocol.Response) (string, error) {
	if resp.Type != protocol.RespString {
		return "", unexpected(resp, "STRING")
	}
	return resp.Data.(string), nil
}

// NullableString decodes a string-or-nil reply. A nil reply yields nil.
func NullableString(resp *protocol.Response) (*string, error) {
	switch resp.Type {
	case protocol.RespNil:
		return nil, nil
	case protocol.RespString:
		s := resp.Data.(string)
		return &s, nil
	default:
		return nil, unexpected(resp, "STRING or NIL")
	}
}

// Int64 decodes an integer reply.
func Int64(resp *protocol.Response) (int64, error) {
	if resp.Type != protocol.RespInt {
		return 0, unexpected(resp, "INT")
	}
	return resp.Data.(int64), nil
}

// Bool decodes an integer reply of 0 or 1.
func Bool(resp *protocol.Response) (bool, error) {
	n, err := Int64(resp)
	if err != nil {
		return false, err
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("integer reply %d is not a bool", n)
	}
}

// Duration decodes an integer reply counted in seconds. Negative sentinel
// values are kept: -1s for a key without expiry, -2s for a missing key.
func Duration(resp *protocol.Response) (time.Duration, error) {
	n, err := Int64(resp)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// Strings decodes an array reply. A nil reply yields a nil slice.
func Strings(resp *protocol.Response) ([]string, error) {
	switch resp.Type {
	case protocol.RespNil:
		return nil, nil
	case protocol.RespArray:
		return resp.Data.([]string), nil
	default:
		return nil, unexpected(resp, "ARRAY")
	}
}

// StringMap decodes an array of alternating fields and values.
func StringMap(resp *protocol.Response) (map[string]string, error) {
	arr, err := Strings(resp)
	if err != nil {
		return nil, err
	}
	if len(arr)%2 != 0 {
		return nil, fmt.Errorf("array reply has odd length %d", len(arr))
	}
	m := make(map[string]string, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		m[arr[i]] = arr[i+1]
	}
	return m, nil
}
