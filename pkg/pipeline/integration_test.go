package pipeline_test

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cachemir/shardpipe/internal/server"
	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/pipeline"
)

func startServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := server.New(config.DefaultServerConfig())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(t.Context(), l) }()
	t.Cleanup(func() {
		_ = srv.Stop()
		<-done
	})
	return l.Addr().String()
}

func dial(t *testing.T, addr string) *pipeline.Pipeline {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	p := pipeline.New(pipeline.NewConnTransport(conn, pipeline.ConnOptions{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPipelineAgainstServer(t *testing.T) {
	p := dial(t, startServer(t))

	set, _ := pipeline.Set(p, "k1", "v1", 0)
	get, _ := pipeline.Get(p, "k1")
	missing, _ := pipeline.Get(p, "missing")
	setText, _ := pipeline.Set(p, "textkey", "abc", 0)
	incr, _ := pipeline.Incr(p, "textkey")
	counter, _ := pipeline.IncrBy(p, "counter", 41)
	counter2, _ := pipeline.Incr(p, "counter")
	hnew, _ := pipeline.HSet(p, "h", "f1", "a")
	hold, _ := pipeline.HSet(p, "h", "f1", "b")
	pipeline.HSet(p, "h", "f2", "c")
	hall, _ := pipeline.HGetAll(p, "h")
	push, _ := pipeline.RPush(p, "l", "x", "y", "z")
	pop, _ := pipeline.LPop(p, "l")
	sadd, _ := pipeline.SAdd(p, "s", "m1", "m2", "m1")
	members, _ := pipeline.SMembers(p, "s")
	expire, _ := pipeline.Expire(p, "k1", time.Hour)
	ttl, _ := pipeline.TTL(p, "k1")
	noTTL, _ := pipeline.TTL(p, "nothing")
	wrongType, _ := pipeline.LPush(p, "h", "x")
	ping, _ := pipeline.Ping(p)

	if err := p.Sync(t.Context()); err != nil {
		t.Fatalf("Sync() = %v", err)
	}

	check := func(name string, got, want any, err error) {
		t.Helper()
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
			return
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}

	s, err := set.Get()
	check("SET", s, "OK", err)
	v, err := get.Get()
	check("GET", v, ptr("v1"), err)
	v, err = missing.Get()
	check("GET missing", v, (*string)(nil), err)
	s, err = setText.Get()
	check("SET textkey", s, "OK", err)

	if _, err := incr.Get(); !pipeline.IsServerError(err) || !strings.Contains(err.Error(), "not an integer") {
		t.Errorf("INCR textkey = %v, want server error mentioning 'not an integer'", err)
	}

	n, err := counter.Get()
	check("INCRBY", n, int64(41), err)
	n, err = counter2.Get()
	check("INCR", n, int64(42), err)
	b, err := hnew.Get()
	check("HSET new", b, true, err)
	b, err = hold.Get()
	check("HSET existing", b, false, err)
	m, err := hall.Get()
	check("HGETALL", m, map[string]string{"f1": "b", "f2": "c"}, err)
	n, err = push.Get()
	check("RPUSH", n, int64(3), err)
	v, err = pop.Get()
	check("LPOP", v, ptr("x"), err)
	n, err = sadd.Get()
	check("SADD", n, int64(2), err)
	ms, err := members.Get()
	check("SMEMBERS", ms, []string{"m1", "m2"}, err)
	b, err = expire.Get()
	check("EXPIRE", b, true, err)
	d, err := ttl.Get()
	check("TTL", d > 59*time.Minute && d <= time.Hour, true, err)
	d, err = noTTL.Get()
	check("TTL missing", d, -2*time.Second, err)

	var se *pipeline.ServerError
	if _, err := wrongType.Get(); !errors.As(err, &se) || !strings.HasPrefix(se.Message, "WRONGTYPE") {
		t.Errorf("LPUSH on hash = %v, want WRONGTYPE server error", err)
	}

	s, err = ping.Get()
	check("PING", s, "PONG", err)

	// The connection is still aligned for the next batch.
	again, _ := pipeline.Get(p, "k1")
	v, err = again.Get()
	check("GET after batch", v, ptr("v1"), err)
}

func TestPipelineLargeBatch(t *testing.T) {
	p := dial(t, startServer(t))

	const n = 5000
	phs := make([]*pipeline.Placeholder[int64], n)
	for i := range phs {
		phs[i], _ = pipeline.Incr(p, "counter")
	}
	if err := p.Sync(t.Context()); err != nil {
		t.Fatalf("Sync() = %v", err)
	}
	for i, ph := range phs {
		if got, err := ph.Get(); err != nil || got != int64(i+1) {
			t.Fatalf("placeholder %d = %d, %v; want %d", i, got, err, i+1)
		}
	}
}

func TestPipelineServerGoesAway(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := server.New(config.DefaultServerConfig())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(t.Context(), l) }()

	p := dial(t, l.Addr().String())
	warm, _ := pipeline.Ping(p)
	if _, err := warm.Get(); err != nil {
		t.Fatal(err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatal(err)
	}
	<-done

	ph, _ := pipeline.Get(p, "k")
	if _, err := ph.Get(); !pipeline.IsConnectionError(err) {
		t.Errorf("Get() after server stop = %v, want connection error", err)
	}
	if p.State() != pipeline.Closed {
		t.Errorf("State() = %v, want CLOSED", p.State())
	}
}

func TestConnTransportReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	p := pipeline.New(pipeline.NewConnTransport(client, pipeline.ConnOptions{
		ReadTimeout: 20 * time.Millisecond,
	}))
	defer p.Close()

	// Drain the request so the write completes; never answer.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	ph, _ := pipeline.Ping(p)
	err := p.Sync(t.Context())
	var ne net.Error
	if !pipeline.IsConnectionError(err) || !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Sync() = %v, want connection error wrapping a timeout", err)
	}
	if _, err := ph.Get(); !pipeline.IsConnectionError(err) {
		t.Errorf("Get() = %v, want connection error", err)
	}
}

func ptr(s string) *string { return &s }
