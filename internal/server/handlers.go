package server

import (
	"sort"
	"strconv"

	"github.com/cachemir/shardpipe/pkg/protocol"
)

type handler func(*protocol.Command) *protocol.Response

func (s *Server) commandHandlers() map[protocol.CommandType]handler {
	return map[protocol.CommandType]handler{
		protocol.CmdGet:       s.handleGet,
		protocol.CmdSet:       s.handleSet,
		protocol.CmdDel:       s.handleDel,
		protocol.CmdExists:    s.handleExists,
		protocol.CmdIncr:      s.handleIncr,
		protocol.CmdDecr:      s.handleDecr,
		protocol.CmdIncrBy:    s.handleIncrBy,
		protocol.CmdDecrBy:    s.handleDecrBy,
		protocol.CmdExpire:    s.handleExpire,
		protocol.CmdTTL:       s.handleTTL,
		protocol.CmdPersist:   s.handlePersist,
		protocol.CmdHGet:      s.handleHGet,
		protocol.CmdHSet:      s.handleHSet,
		protocol.CmdHDel:      s.handleHDel,
		protocol.CmdHExists:   s.handleHExists,
		protocol.CmdHGetAll:   s.handleHGetAll,
		protocol.CmdLPush:     s.handleLPush,
		protocol.CmdRPush:     s.handleRPush,
		protocol.CmdLPop:      s.handleLPop,
		protocol.CmdRPop:      s.handleRPop,
		protocol.CmdLLen:      s.handleLLen,
		protocol.CmdSAdd:      s.handleSAdd,
		protocol.CmdSRem:      s.handleSRem,
		protocol.CmdSMembers:  s.handleSMembers,
		protocol.CmdSIsMember: s.handleSIsMember,
		protocol.CmdPing:      s.handlePing,
	}
}

func errorResponse(err error) *protocol.Response {
	return &protocol.Response{Type: protocol.RespError, Error: err.Error()}
}

func intResponse(n int64) *protocol.Response {
	return &protocol.Response{Type: protocol.RespInt, Data: n}
}

func boolResponse(b bool) *protocol.Response {
	if b {
		return intResponse(1)
	}
	return intResponse(0)
}

// valueResponse answers a lookup: the value, or nil when it was not found.
func valueResponse(v string, found bool, err error) *protocol.Response {
	switch {
	case err != nil:
		return errorResponse(err)
	case !found:
		return &protocol.Response{Type: protocol.RespNil}
	default:
		return &protocol.Response{Type: protocol.RespString, Data: v}
	}
}

func countResponse(n int, err error) *protocol.Response {
	if err != nil {
		return errorResponse(err)
	}
	return intResponse(int64(n))
}

func integerResponse(n int64, err error) *protocol.Response {
	if err != nil {
		return errorResponse(err)
	}
	return intResponse(n)
}

func flagResponse(b bool, err error) *protocol.Response {
	if err != nil {
		return errorResponse(err)
	}
	return boolResponse(b)
}

func (s *Server) handlePing(_ *protocol.Command) *protocol.Response {
	return &protocol.Response{Type: protocol.RespString, Data: "PONG"}
}

func (s *Server) handleGet(cmd *protocol.Command) *protocol.Response {
	return valueResponse(s.cache.Get(cmd.Key))
}

func (s *Server) handleSet(cmd *protocol.Command) *protocol.Response {
	s.cache.Set(cmd.Key, cmd.Args[0], cmd.TTL)
	return &protocol.Response{Type: protocol.RespOK}
}

func (s *Server) handleDel(cmd *protocol.Command) *protocol.Response {
	return boolResponse(s.cache.Del(cmd.Key))
}

func (s *Server) handleExists(cmd *protocol.Command) *protocol.Response {
	return boolResponse(s.cache.Exists(cmd.Key))
}

func (s *Server) handleIncr(cmd *protocol.Command) *protocol.Response {
	return integerResponse(s.cache.Incr(cmd.Key))
}

func (s *Server) handleDecr(cmd *protocol.Command) *protocol.Response {
	return integerResponse(s.cache.Decr(cmd.Key))
}

func (s *Server) handleIncrBy(cmd *protocol.Command) *protocol.Response {
	delta, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return &protocol.Response{Type: protocol.RespError, Error: "INCRBY delta is not an integer"}
	}
	return integerResponse(s.cache.IncrBy(cmd.Key, delta))
}

func (s *Server) handleDecrBy(cmd *protocol.Command) *protocol.Response {
	delta, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return &protocol.Response{Type: protocol.RespError, Error: "DECRBY delta is not an integer"}
	}
	return integerResponse(s.cache.IncrBy(cmd.Key, -delta))
}

// handleExpire sets the expiry from the command TTL. A zero TTL deletes the key.
func (s *Server) handleExpire(cmd *protocol.Command) *protocol.Response {
	return boolResponse(s.cache.Expire(cmd.Key, cmd.TTL))
}

// handleTTL answers in whole seconds, -1 without expiry and -2 for a missing key.
func (s *Server) handleTTL(cmd *protocol.Command) *protocol.Response {
	return intResponse(int64(s.cache.TTL(cmd.Key).Seconds()))
}

func (s *Server) handlePersist(cmd *protocol.Command) *protocol.Response {
	return boolResponse(s.cache.Persist(cmd.Key))
}

func (s *Server) handleHGet(cmd *protocol.Command) *protocol.Response {
	return valueResponse(s.cache.HGet(cmd.Key, cmd.Args[0]))
}

// handleHSet answers 1 when the field is new and 0 when it was overwritten.
func (s *Server) handleHSet(cmd *protocol.Command) *protocol.Response {
	return flagResponse(s.cache.HSet(cmd.Key, cmd.Args[0], cmd.Args[1]))
}

func (s *Server) handleHDel(cmd *protocol.Command) *protocol.Response {
	return flagResponse(s.cache.HDel(cmd.Key, cmd.Args[0]))
}

func (s *Server) handleHExists(cmd *protocol.Command) *protocol.Response {
	return flagResponse(s.cache.HExists(cmd.Key, cmd.Args[0]))
}

// handleHGetAll answers alternating field names and values, ordered by field.
func (s *Server) handleHGetAll(cmd *protocol.Command) *protocol.Response {
	hash, err := s.cache.HGetAll(cmd.Key)
	if err != nil {
		return errorResponse(err)
	}
	fields := make([]string, 0, len(hash))
	for k := range hash {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	result := make([]string, 0, 2*len(hash))
	for _, k := range fields {
		result = append(result, k, hash[k])
	}
	return &protocol.Response{Type: protocol.RespArray, Data: result}
}

func (s *Server) handleLPush(cmd *protocol.Command) *protocol.Response {
	return countResponse(s.cache.LPush(cmd.Key, cmd.Args...))
}

func (s *Server) handleRPush(cmd *protocol.Command) *protocol.Response {
	return countResponse(s.cache.RPush(cmd.Key, cmd.Args...))
}

func (s *Server) handleLPop(cmd *protocol.Command) *protocol.Response {
	return valueResponse(s.cache.LPop(cmd.Key))
}

func (s *Server) handleRPop(cmd *protocol.Command) *protocol.Response {
	return valueResponse(s.cache.RPop(cmd.Key))
}

func (s *Server) handleLLen(cmd *protocol.Command) *protocol.Response {
	return countResponse(s.cache.LLen(cmd.Key))
}

func (s *Server) handleSAdd(cmd *protocol.Command) *protocol.Response {
	return countResponse(s.cache.SAdd(cmd.Key, cmd.Args...))
}

func (s *Server) handleSRem(cmd *protocol.Command) *protocol.Response {
	return countResponse(s.cache.SRem(cmd.Key, cmd.Args...))
}

// handleSMembers answers the members in sorted order.
func (s *Server) handleSMembers(cmd *protocol.Command) *protocol.Response {
	members, err := s.cache.SMembers(cmd.Key)
	if err != nil {
		return errorResponse(err)
	}
	sort.Strings(members)
	return &protocol.Response{Type: protocol.RespArray, Data: members}
}

func (s *Server) handleSIsMember(cmd *protocol.Command) *protocol.Response {
	return flagResponse(s.cache.SIsMember(cmd.Key, cmd.Args[0]))
}
