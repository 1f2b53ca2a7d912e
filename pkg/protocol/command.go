package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandType identifies the operation a Command performs.
type CommandType uint8

// Command type constants define all supported operations.
const (
	CmdGet       CommandType = iota // GET key - retrieve string value
	CmdSet                          // SET key value [ttl] - store string value
	CmdDel                          // DEL key - delete key
	CmdExists                       // EXISTS key - check if key exists
	CmdIncr                         // INCR key - increment integer value
	CmdDecr                         // DECR key - decrement integer value
	CmdIncrBy                       // INCRBY key delta - increment by delta
	CmdDecrBy                       // DECRBY key delta - decrement by delta
	CmdExpire                       // EXPIRE key ttl - set key expiration
	CmdTTL                          // TTL key - get time to live
	CmdPersist                      // PERSIST key - remove expiration
	CmdHGet                         // HGET key field - get hash field
	CmdHSet                         // HSET key field value - set hash field
	CmdHDel                         // HDEL key field - delete hash field
	CmdHGetAll                      // HGETALL key - get all hash fields
	CmdHExists                      // HEXISTS key field - check hash field exists
	CmdLPush                        // LPUSH key value... - push to list head
	CmdRPush                        // RPUSH key value... - push to list tail
	CmdLPop                         // LPOP key - pop from list head
	CmdRPop                         // RPOP key - pop from list tail
	CmdLLen                         // LLEN key - get list length
	CmdSAdd                         // SADD key member... - add to set
	CmdSRem                         // SREM key member... - remove from set
	CmdSMembers                     // SMEMBERS key - get all set members
	CmdSIsMember                    // SISMEMBER key member - check set membership
	CmdPing                         // PING - connectivity test
)

// commandInfo describes the argument shape NewCommand accepts for a command.
// maxArgs < 0 means unbounded.
type commandInfo struct {
	name    string
	keyed   bool
	minArgs int
	maxArgs int
	ttl     bool
}

var commandTable = [...]commandInfo{
	CmdGet:       {name: "GET", keyed: true},
	CmdSet:       {name: "SET", keyed: true, minArgs: 1, maxArgs: 1, ttl: true},
	CmdDel:       {name: "DEL", keyed: true},
	CmdExists:    {name: "EXISTS", keyed: true},
	CmdIncr:      {name: "INCR", keyed: true},
	CmdDecr:      {name: "DECR", keyed: true},
	CmdIncrBy:    {name: "INCRBY", keyed: true, minArgs: 1, maxArgs: 1},
	CmdDecrBy:    {name: "DECRBY", keyed: true, minArgs: 1, maxArgs: 1},
	CmdExpire:    {name: "EXPIRE", keyed: true, ttl: true},
	CmdTTL:       {name: "TTL", keyed: true},
	CmdPersist:   {name: "PERSIST", keyed: true},
	CmdHGet:      {name: "HGET", keyed: true, minArgs: 1, maxArgs: 1},
	CmdHSet:      {name: "HSET", keyed: true, minArgs: 2, maxArgs: 2},
	CmdHDel:      {name: "HDEL", keyed: true, minArgs: 1, maxArgs: 1},
	CmdHGetAll:   {name: "HGETALL", keyed: true},
	CmdHExists:   {name: "HEXISTS", keyed: true, minArgs: 1, maxArgs: 1},
	CmdLPush:     {name: "LPUSH", keyed: true, minArgs: 1, maxArgs: -1},
	CmdRPush:     {name: "RPUSH", keyed: true, minArgs: 1, maxArgs: -1},
	CmdLPop:      {name: "LPOP", keyed: true},
	CmdRPop:      {name: "RPOP", keyed: true},
	CmdLLen:      {name: "LLEN", keyed: true},
	CmdSAdd:      {name: "SADD", keyed: true, minArgs: 1, maxArgs: -1},
	CmdSRem:      {name: "SREM", keyed: true, minArgs: 1, maxArgs: -1},
	CmdSMembers:  {name: "SMEMBERS", keyed: true},
	CmdSIsMember: {name: "SISMEMBER", keyed: true, minArgs: 1, maxArgs: 1},
	CmdPing:      {name: "PING"},
}

var commandsByName = func() map[string]CommandType {
	m := make(map[string]CommandType, len(commandTable))
	for i, info := range commandTable {
		m[info.name] = CommandType(i)
	}
	return m
}()

// String returns the upper-case command name, e.g. "HGETALL".
func (t CommandType) String() string {
	if int(t) < len(commandTable) {
		return commandTable[t].name
	}
	return fmt.Sprintf("CommandType(%d)", uint8(t))
}

// LookupCommand resolves a case-insensitive command name.
func LookupCommand(name string) (CommandType, bool) {
	t, ok := commandsByName[strings.ToUpper(name)]
	return t, ok
}

// Keyed reports whether the command's first argument is a routing key.
func (t CommandType) Keyed() bool {
	return int(t) < len(commandTable) && commandTable[t].keyed
}

// NewCommand builds a Command from a command name and typed arguments.
//
// For keyed commands the first argument is the key. The remaining arguments
// are converted to their wire form: string and []byte verbatim, integer types
// and float64 in decimal, bool as "1"/"0". A time.Duration argument sets the
// command TTL and is only accepted by commands that carry one (SET, EXPIRE).
// Any other type, an unknown name or a wrong argument count is an error; the
// caller learns about it here, before anything is queued or sent.
//
// Example:
//
//	cmd, err := protocol.NewCommand("hset", "user:123", "name", "John")
//	cmd, err = protocol.NewCommand("SET", []byte("k"), "v", 30*time.Second)
//	cmd, err = protocol.NewCommand("INCRBY", "counter", 5)
func NewCommand(name string, args ...any) (*Command, error) {
	t, ok := LookupCommand(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	info := commandTable[t]
	cmd := &Command{Type: t}

	if info.keyed {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s requires a key", info.name)
		}
		key, err := keyArg(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s key: %w", info.name, err)
		}
		cmd.Key = key
		args = args[1:]
	}

	hasTTL := false
	for i, arg := range args {
		if d, ok := arg.(time.Duration); ok {
			if !info.ttl {
				return nil, fmt.Errorf("%s does not take a TTL", info.name)
			}
			if hasTTL {
				return nil, fmt.Errorf("%s takes at most one TTL", info.name)
			}
			if d < 0 {
				return nil, fmt.Errorf("%s TTL must not be negative", info.name)
			}
			hasTTL = true
			cmd.TTL = roundTTL(d)
			continue
		}
		s, err := FormatArg(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", info.name, i+1, err)
		}
		cmd.Args = append(cmd.Args, s)
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if size := cmd.payloadSize(); size > MaxFrameSize {
		return nil, fmt.Errorf("%s: %w: %d bytes", info.name, ErrFrameTooLarge, size)
	}
	return cmd, nil
}

// Validate checks that c names a known command with an acceptable number of
// arguments. Servers use it on decoded commands.
func (c *Command) Validate() error {
	if int(c.Type) >= len(commandTable) {
		return fmt.Errorf("unknown command: %d", c.Type)
	}
	info := commandTable[c.Type]
	if n := len(c.Args); n < info.minArgs || (info.maxArgs >= 0 && n > info.maxArgs) {
		return fmt.Errorf("%s: wrong number of arguments (%d)", info.name, n)
	}
	return nil
}

func keyArg(arg any) (string, error) {
	switch v := arg.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported key type %T", arg)
	}
}

// FormatArg converts one argument to its wire representation.
func FormatArg(arg any) (string, error) {
	switch v := arg.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	default:
		return "", fmt.Errorf("unsupported argument type %T", arg)
	}
}

func (c *Command) payloadSize() int {
	n := 1 + uvarintLen(uint64(len(c.Key))) + len(c.Key) + uvarintLen(uint64(len(c.Args)))
	for _, a := range c.Args {
		n += uvarintLen(uint64(len(a))) + len(a)
	}
	return n + uvarintLen(ttlSeconds(c.TTL))
}

// roundTTL rounds d up to whole seconds, the resolution of the wire format,
// so a positive TTL never encodes as zero.
func roundTTL(d time.Duration) time.Duration {
	return time.Duration(ttlSeconds(d)) * time.Second
}

func ttlSeconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64((d + time.Second - 1) / time.Second)
}

func uvarintLen(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}

// ParseTextCommand parses a whitespace separated command line such as
// "SET mykey myvalue 60" into a Command. For commands that take a TTL a
// trailing integer is read as seconds.
//
// Example:
//
//	cmd, err := protocol.ParseTextCommand("SET mykey myvalue 60")
//	// cmd.Type == CmdSet, cmd.Key == "mykey", cmd.Args == ["myvalue"], cmd.TTL == 60s
func ParseTextCommand(line string) (*Command, error) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	t, ok := LookupCommand(parts[0])
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", strings.ToUpper(parts[0]))
	}

	args := make([]any, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, p)
	}

	info := commandTable[t]
	if info.ttl {
		// The TTL is the trailing argument once the required ones are present.
		required := info.minArgs
		if info.keyed {
			required++
		}
		if len(args) > required {
			secs, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid TTL %q", info.name, parts[len(parts)-1])
			}
			args[len(args)-1] = time.Duration(secs) * time.Second
		}
	}

	return NewCommand(parts[0], args...)
}
