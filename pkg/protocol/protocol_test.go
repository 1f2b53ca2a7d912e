package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args []any
		want *Command
	}{
		{
			name: "set with ttl",
			cmd:  "set",
			args: []any{"user:1", "john", time.Minute},
			want: &Command{Type: CmdSet, Key: "user:1", Args: []string{"john"}, TTL: time.Minute},
		},
		{
			name: "sub-second ttl rounds up",
			cmd:  "SET",
			args: []any{"k", "v", 500 * time.Millisecond},
			want: &Command{Type: CmdSet, Key: "k", Args: []string{"v"}, TTL: time.Second},
		},
		{
			name: "fractional ttl rounds up",
			cmd:  "EXPIRE",
			args: []any{"k", 1500 * time.Millisecond},
			want: &Command{Type: CmdExpire, Key: "k", TTL: 2 * time.Second},
		},
		{
			name: "zero ttl stays zero",
			cmd:  "EXPIRE",
			args: []any{"k", time.Duration(0)},
			want: &Command{Type: CmdExpire, Key: "k"},
		},
		{
			name: "binary key and value",
			cmd:  "SET",
			args: []any{[]byte("k"), []byte{0xff, 0x00}},
			want: &Command{Type: CmdSet, Key: "k", Args: []string{"\xff\x00"}},
		},
		{
			name: "integer argument",
			cmd:  "INCRBY",
			args: []any{"counter", int64(-5)},
			want: &Command{Type: CmdIncrBy, Key: "counter", Args: []string{"-5"}},
		},
		{
			name: "variadic members",
			cmd:  "SADD",
			args: []any{"tags", "go", 1, true, 2.5},
			want: &Command{Type: CmdSAdd, Key: "tags", Args: []string{"go", "1", "1", "2.5"}},
		},
		{
			name: "ping has no key",
			cmd:  "PING",
			want: &Command{Type: CmdPing},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCommand(tt.cmd, tt.args...)
			if err != nil {
				t.Fatalf("NewCommand() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		args    []any
		wantErr string
	}{
		{name: "unknown", cmd: "FLUSHALL", wantErr: "unknown command"},
		{name: "missing key", cmd: "GET", wantErr: "requires a key"},
		{name: "bad key type", cmd: "GET", args: []any{42}, wantErr: "unsupported key type"},
		{name: "bad arg type", cmd: "SET", args: []any{"k", struct{}{}}, wantErr: "unsupported argument type"},
		{name: "ttl not allowed", cmd: "GET", args: []any{"k", time.Second}, wantErr: "does not take a TTL"},
		{name: "negative ttl", cmd: "SET", args: []any{"k", "v", -time.Second}, wantErr: "must not be negative"},
		{name: "too few", cmd: "HSET", args: []any{"k", "f"}, wantErr: "wrong number of arguments"},
		{name: "too many", cmd: "HGET", args: []any{"k", "a", "b"}, wantErr: "wrong number of arguments"},
		{name: "too large", cmd: "SET", args: []any{"k", strings.Repeat("x", MaxFrameSize)}, wantErr: "frame too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommand(tt.cmd, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("NewCommand() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCommandFrameRoundTrip(t *testing.T) {
	cmds := []*Command{
		{Type: CmdSet, Key: "a", Args: []string{"1"}, TTL: 90 * time.Second},
		{Type: CmdGet, Key: "missing"},
		{Type: CmdLPush, Key: "list", Args: []string{"x", "y", "z"}},
		{Type: CmdPing},
	}

	var buf []byte
	for _, c := range cmds {
		buf = c.AppendFrame(buf)
	}

	r := bytes.NewReader(buf)
	for i, want := range cmds {
		got, err := ReadCommand(r)
		if err != nil {
			t.Fatalf("ReadCommand(%d) error = %v", i, err)
		}
		if want.Args == nil {
			want.Args = []string{}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("command %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := ReadCommand(r); !errors.Is(err, io.EOF) {
		t.Errorf("ReadCommand after last frame error = %v, want io.EOF", err)
	}
}

func TestResponseFrames(t *testing.T) {
	resps := []*Response{
		{Type: RespOK},
		{Type: RespNil},
		{Type: RespError, Error: "value is not an integer"},
		{Type: RespString, Data: "hello"},
		{Type: RespInt, Data: int64(-42)},
		{Type: RespArray, Data: []string{"a", "", "c"}},
	}

	var buf bytes.Buffer
	for _, r := range resps {
		if err := WriteResponse(&buf, r); err != nil {
			t.Fatalf("WriteResponse() error = %v", err)
		}
	}

	for i, want := range resps {
		got, err := ReadResponse(&buf)
		if err != nil {
			t.Fatalf("ReadResponse(%d) error = %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("response %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestResponseSerializeRejectsMismatchedData(t *testing.T) {
	if _, err := (&Response{Type: RespInt, Data: "12"}).Serialize(); err == nil {
		t.Error("Serialize() of int response with string data succeeded")
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := map[string][]byte{
		"empty":            nil,
		"unknown type":     {0x7f},
		"truncated string": {byte(RespString), 0x05, 'a'},
		"truncated int":    {byte(RespInt)},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeResponse(data); err == nil {
				t.Errorf("DecodeResponse(%v) succeeded", data)
			}
		})
	}
}

func TestReadFrame(t *testing.T) {
	t.Run("too large", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
		if !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("ReadFrame() error = %v, want ErrFrameTooLarge", err)
		}
	})
	t.Run("truncated payload", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 4, 1}))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("ReadFrame() error = %v, want io.ErrUnexpectedEOF", err)
		}
	})
	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("ReadFrame() error = %v, want io.ErrUnexpectedEOF", err)
		}
	})
}

func TestParseTextCommand(t *testing.T) {
	tests := []struct {
		line string
		want *Command
	}{
		{line: "GET mykey", want: &Command{Type: CmdGet, Key: "mykey"}},
		{line: "set mykey myvalue 60", want: &Command{Type: CmdSet, Key: "mykey", Args: []string{"myvalue"}, TTL: time.Minute}},
		{line: "SET mykey myvalue", want: &Command{Type: CmdSet, Key: "mykey", Args: []string{"myvalue"}}},
		{line: "EXPIRE mykey 10", want: &Command{Type: CmdExpire, Key: "mykey", TTL: 10 * time.Second}},
		{line: "  ping  ", want: &Command{Type: CmdPing}},
		{line: "HSET h f v", want: &Command{Type: CmdHSet, Key: "h", Args: []string{"f", "v"}}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseTextCommand(tt.line)
			if err != nil {
				t.Fatalf("ParseTextCommand() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseTextCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	for _, bad := range []string{"", "NOPE x", "SET k v soon", "GET"} {
		if _, err := ParseTextCommand(bad); err == nil {
			t.Errorf("ParseTextCommand(%q) succeeded", bad)
		}
	}
}

func TestCommandTypeNames(t *testing.T) {
	for i := range commandTable {
		ct := CommandType(i)
		got, ok := LookupCommand(strings.ToLower(ct.String()))
		if !ok || got != ct {
			t.Errorf("LookupCommand(%q) = %v, %v", ct.String(), got, ok)
		}
	}
	if CmdPing.Keyed() {
		t.Error("PING should not be keyed")
	}
	if !CmdHGetAll.Keyed() {
		t.Error("HGETALL should be keyed")
	}
}

func TestSubSecondTTLEncodesAsOneSecond(t *testing.T) {
	cmd := &Command{Type: CmdExpire, Key: "k", TTL: 300 * time.Millisecond}
	data, err := cmd.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeserializeCommand(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.TTL != time.Second {
		t.Errorf("decoded TTL = %v, want 1s", got.TTL)
	}
}
