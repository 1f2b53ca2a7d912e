// Package cache provides the in-memory keyspace served by the reference server.
//
// The cache supports strings, hashes, lists and sets with optional expiry.
// Operations on a key holding a different kind of value fail with
// ErrWrongType, and arithmetic on a string that is not an integer fails with
// ErrNotInteger; the server relays both to clients as error replies.
//
// Example usage:
//
//	c := cache.New()
//	defer c.Close()
//
//	c.Set("user:123", "john_doe", time.Hour)
//	value, ok, err := c.Get("user:123")
//
//	c.HSet("user:123:profile", "name", "John Doe")
//	profile, err := c.HGetAll("user:123:profile")
//
// All operations are safe for concurrent use. Expired keys are invisible to
// readers immediately and are purged by a background sweep.
package cache

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSweepInterval is how often expired keys are purged.
const DefaultSweepInterval = time.Minute

var (
	// ErrWrongType is returned when a key holds a different kind of value.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	// ErrNotInteger is returned by arithmetic on a non-integer string.
	ErrNotInteger = errors.New("value is not an integer or out of range")
)

// Kind is the type of value held by a key.
type Kind uint8

const (
	KindString Kind = iota
	KindHash
	KindList
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// item is one key's value. Only the field matching kind is populated.
type item struct {
	kind      Kind
	str       string
	hash      map[string]string
	list      []string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

// Cache is a concurrency-safe keyspace with per-key expiry.
type Cache struct {
	clock clockwork.Clock
	mu    sync.RWMutex
	data  map[string]*item

	stop chan struct{}
	once sync.Once
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock         clockwork.Clock
	sweepInterval time.Duration
}

// WithClock sets the clock used for expiry. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithSweepInterval sets how often expired keys are purged.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// New creates a Cache and starts its expiry sweep. Call Close to stop it.
func New(opts ...Option) *Cache {
	o := options{clock: clockwork.NewRealClock(), sweepInterval: DefaultSweepInterval}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache{
		clock: o.clock,
		data:  make(map[string]*item),
		stop:  make(chan struct{}),
	}
	go c.sweep(o.sweepInterval)
	return c
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			c.PurgeExpired()
		}
	}
}

// PurgeExpired deletes every expired key and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, it := range c.data {
		if it.expired(now) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// lookup returns the live item at key, nil if there is none, or ErrWrongType
// if it is not of kind. Callers hold c.mu.
func (c *Cache) lookup(key string, kind Kind) (*item, error) {
	it, ok := c.data[key]
	if !ok || it.expired(c.clock.Now()) {
		return nil, nil
	}
	if it.kind != kind {
		return nil, ErrWrongType
	}
	return it, nil
}

// lookupOrCreate is lookup that creates an empty item of kind when absent.
// Callers hold c.mu for writing.
func (c *Cache) lookupOrCreate(key string, kind Kind) (*item, error) {
	it, err := c.lookup(key, kind)
	if err != nil || it != nil {
		return it, err
	}
	it = &item{kind: kind}
	switch kind {
	case KindHash:
		it.hash = make(map[string]string)
	case KindSet:
		it.set = make(map[string]struct{})
	}
	c.data[key] = it
	return it, nil
}

// Get returns the string stored at key.
func (c *Cache) Get(key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindString)
	if it == nil || err != nil {
		return "", false, err
	}
	return it.str, true, nil
}

// Set stores a string at key, replacing any value of any kind. A positive
// ttl sets an expiry; otherwise the key does not expire.
func (c *Cache) Set(key, val string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := &item{kind: KindString, str: val}
	if ttl > 0 {
		it.expiresAt = c.clock.Now().Add(ttl)
	}
	c.data[key] = it
}

// Del deletes key and reports whether it existed.
func (c *Cache) Del(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok {
		return false
	}
	delete(c.data, key)
	return !it.expired(c.clock.Now())
}

// Exists reports whether key holds a live value.
func (c *Cache) Exists(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.data[key]
	return ok && !it.expired(c.clock.Now())
}

// Type returns the kind of value at key.
func (c *Cache) Type(key string) (Kind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.data[key]
	if !ok || it.expired(c.clock.Now()) {
		return 0, false
	}
	return it.kind, true
}

// Incr increments the integer at key by one.
func (c *Cache) Incr(key string) (int64, error) {
	return c.IncrBy(key, 1)
}

// Decr decrements the integer at key by one.
func (c *Cache) Decr(key string) (int64, error) {
	return c.IncrBy(key, -1)
}

// IncrBy adds delta to the integer stored at key, treating a missing key as
// 0. The key's expiry is kept.
func (c *Cache) IncrBy(key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookupOrCreate(key, KindString)
	if err != nil {
		return 0, err
	}

	var current int64
	if it.str != "" {
		current, err = strconv.ParseInt(it.str, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	next := current + delta
	if (delta > 0 && next < current) || (delta < 0 && next > current) {
		return 0, ErrNotInteger
	}
	it.str = strconv.FormatInt(next, 10)
	return next, nil
}

// Expire sets key to expire after ttl. A non-positive ttl deletes the key.
// It reports whether the key existed.
func (c *Cache) Expire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok || it.expired(c.clock.Now()) {
		return false
	}
	if ttl <= 0 {
		delete(c.data, key)
		return true
	}
	it.expiresAt = c.clock.Now().Add(ttl)
	return true
}

// TTL returns the remaining time to live of key, -1s if it has no expiry and
// -2s if it does not exist.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	it, ok := c.data[key]
	if !ok || it.expired(now) {
		return -2 * time.Second
	}
	if it.expiresAt.IsZero() {
		return -1 * time.Second
	}
	return it.expiresAt.Sub(now)
}

// Persist removes the expiry of key and reports whether there was one.
func (c *Cache) Persist(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok || it.expired(c.clock.Now()) || it.expiresAt.IsZero() {
		return false
	}
	it.expiresAt = time.Time{}
	return true
}

// HGet returns one field of the hash at key.
func (c *Cache) HGet(key, field string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindHash)
	if it == nil || err != nil {
		return "", false, err
	}
	val, ok := it.hash[field]
	return val, ok, nil
}

// HSet sets one field of the hash at key and reports whether the field is new.
func (c *Cache) HSet(key, field, val string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookupOrCreate(key, KindHash)
	if err != nil {
		return false, err
	}
	_, existed := it.hash[field]
	it.hash[field] = val
	return !existed, nil
}

// HDel removes one field of the hash at key and reports whether it existed.
// The key is deleted with its last field.
func (c *Cache) HDel(key, field string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookup(key, KindHash)
	if it == nil || err != nil {
		return false, err
	}
	if _, ok := it.hash[field]; !ok {
		return false, nil
	}
	delete(it.hash, field)
	if len(it.hash) == 0 {
		delete(c.data, key)
	}
	return true, nil
}

// HExists reports whether the hash at key has field.
func (c *Cache) HExists(key, field string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindHash)
	if it == nil || err != nil {
		return false, err
	}
	_, ok := it.hash[field]
	return ok, nil
}

// HGetAll returns a copy of the hash at key; empty if it does not exist.
func (c *Cache) HGetAll(key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindHash)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string)
	if it != nil {
		for k, v := range it.hash {
			result[k] = v
		}
	}
	return result, nil
}

// LPush prepends values to the list at key, so the last value ends up first,
// and returns the new length.
func (c *Cache) LPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookupOrCreate(key, KindList)
	if err != nil {
		return 0, err
	}
	list := make([]string, 0, len(values)+len(it.list))
	for i := len(values) - 1; i >= 0; i-- {
		list = append(list, values[i])
	}
	it.list = append(list, it.list...)
	return len(it.list), nil
}

// RPush appends values to the list at key and returns the new length.
func (c *Cache) RPush(key string, values ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookupOrCreate(key, KindList)
	if err != nil {
		return 0, err
	}
	it.list = append(it.list, values...)
	return len(it.list), nil
}

// LPop removes and returns the first element of the list at key.
func (c *Cache) LPop(key string) (string, bool, error) {
	return c.pop(key, true)
}

// RPop removes and returns the last element of the list at key.
func (c *Cache) RPop(key string) (string, bool, error) {
	return c.pop(key, false)
}

func (c *Cache) pop(key string, head bool) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookup(key, KindList)
	if it == nil || err != nil || len(it.list) == 0 {
		return "", false, err
	}

	var v string
	if head {
		v, it.list = it.list[0], it.list[1:]
	} else {
		v, it.list = it.list[len(it.list)-1], it.list[:len(it.list)-1]
	}
	if len(it.list) == 0 {
		delete(c.data, key)
	}
	return v, true, nil
}

// LLen returns the length of the list at key.
func (c *Cache) LLen(key string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindList)
	if it == nil || err != nil {
		return 0, err
	}
	return len(it.list), nil
}

// SAdd adds members to the set at key and returns how many were new.
func (c *Cache) SAdd(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookupOrCreate(key, KindSet)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, m := range members {
		if _, ok := it.set[m]; !ok {
			it.set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SRem removes members from the set at key and returns how many were present.
func (c *Cache) SRem(key string, members ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, err := c.lookup(key, KindSet)
	if it == nil || err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range members {
		if _, ok := it.set[m]; ok {
			delete(it.set, m)
			removed++
		}
	}
	if len(it.set) == 0 {
		delete(c.data, key)
	}
	return removed, nil
}

// SMembers returns the members of the set at key in no particular order.
func (c *Cache) SMembers(key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindSet)
	if err != nil {
		return nil, err
	}
	members := []string{}
	if it != nil {
		for m := range it.set {
			members = append(members, m)
		}
	}
	return members, nil
}

// SIsMember reports whether member is in the set at key.
func (c *Cache) SIsMember(key, member string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, err := c.lookup(key, KindSet)
	if it == nil || err != nil {
		return false, err
	}
	_, ok := it.set[member]
	return ok, nil
}

// Stats returns key counts by kind and the number of expired keys not yet purged.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	kinds := make(map[string]int)
	expired := 0
	for _, it := range c.data {
		kinds[it.kind.String()]++
		if it.expired(now) {
			expired++
		}
	}
	return map[string]interface{}{
		"keys":    len(c.data),
		"types":   kinds,
		"expired": expired,
	}
}
