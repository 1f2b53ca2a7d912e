package pipeline

import "time"

// Set queues SET key value, with an expiry when ttl > 0.
func Set(p *Pipeline, key, value string, ttl time.Duration) (*Placeholder[string], error) {
	if ttl > 0 {
		return Enqueue(p, Status, "SET", key, value, ttl)
	}
	return Enqueue(p, Status, "SET", key, value)
}

// Get queues GET key. The placeholder yields nil for a missing key.
func Get(p *Pipeline, key string) (*Placeholder[*string], error) {
	return Enqueue(p, NullableString, "GET", key)
}

// Del queues DEL key.
func Del(p *Pipeline, key string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "DEL", key)
}

// Exists queues EXISTS key.
func Exists(p *Pipeline, key string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "EXISTS", key)
}

// Incr queues INCR key.
func Incr(p *Pipeline, key string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "INCR", key)
}

// Decr queues DECR key.
func Decr(p *Pipeline, key string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "DECR", key)
}

// IncrBy queues INCRBY key delta.
func IncrBy(p *Pipeline, key string, delta int64) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "INCRBY", key, delta)
}

// DecrBy queues DECRBY key delta.
func DecrBy(p *Pipeline, key string, delta int64) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "DECRBY", key, delta)
}

// Expire queues EXPIRE key ttl.
func Expire(p *Pipeline, key string, ttl time.Duration) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "EXPIRE", key, ttl)
}

// TTL queues TTL key.
func TTL(p *Pipeline, key string) (*Placeholder[time.Duration], error) {
	return Enqueue(p, Duration, "TTL", key)
}

// Persist queues PERSIST key.
func Persist(p *Pipeline, key string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "PERSIST", key)
}

// HSet queues HSET key field value. The placeholder reports whether the field
// is new.
func HSet(p *Pipeline, key, field, value string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "HSET", key, field, value)
}

// HGet queues HGET key field. The placeholder yields nil for a missing field.
func HGet(p *Pipeline, key, field string) (*Placeholder[*string], error) {
	return Enqueue(p, NullableString, "HGET", key, field)
}

// HDel queues HDEL key field.
func HDel(p *Pipeline, key, field string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "HDEL", key, field)
}

// HExists queues HEXISTS key field.
func HExists(p *Pipeline, key, field string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "HEXISTS", key, field)
}

// HGetAll queues HGETALL key.
func HGetAll(p *Pipeline, key string) (*Placeholder[map[string]string], error) {
	return Enqueue(p, StringMap, "HGETALL", key)
}

// LPush queues LPUSH key values...
func LPush(p *Pipeline, key string, values ...string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "LPUSH", withKey(key, values)...)
}

// RPush queues RPUSH key values...
func RPush(p *Pipeline, key string, values ...string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "RPUSH", withKey(key, values)...)
}

// LPop queues LPOP key. The placeholder yields nil for an empty list.
func LPop(p *Pipeline, key string) (*Placeholder[*string], error) {
	return Enqueue(p, NullableString, "LPOP", key)
}

// RPop queues RPOP key. The placeholder yields nil for an empty list.
func RPop(p *Pipeline, key string) (*Placeholder[*string], error) {
	return Enqueue(p, NullableString, "RPOP", key)
}

// LLen queues LLEN key.
func LLen(p *Pipeline, key string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "LLEN", key)
}

// SAdd queues SADD key members...
func SAdd(p *Pipeline, key string, members ...string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "SADD", withKey(key, members)...)
}

// SRem queues SREM key members...
func SRem(p *Pipeline, key string, members ...string) (*Placeholder[int64], error) {
	return Enqueue(p, Int64, "SREM", withKey(key, members)...)
}

// SMembers queues SMEMBERS key.
func SMembers(p *Pipeline, key string) (*Placeholder[[]string], error) {
	return Enqueue(p, Strings, "SMEMBERS", key)
}

// SIsMember queues SISMEMBER key member.
func SIsMember(p *Pipeline, key, member string) (*Placeholder[bool], error) {
	return Enqueue(p, Bool, "SISMEMBER", key, member)
}

// Ping queues PING.
func Ping(p *Pipeline) (*Placeholder[string], error) {
	return Enqueue(p, Status, "PING")
}

func withKey(key string, rest []string) []any {
	args := make([]any, 0, len(rest)+1)
	args = append(args, key)
	for _, r := range rest {
		args = append(args, r)
	}
	return args
}
