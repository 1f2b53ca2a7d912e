package main

import (
	"net"
	"strings"
	"testing"

	"github.com/cachemir/shardpipe/internal/server"
	"github.com/cachemir/shardpipe/pkg/client"
	"github.com/cachemir/shardpipe/pkg/config"
)

func newClusterClient(t *testing.T) *client.Client {
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

	cfg := config.DefaultClientConfig()
	cfg.Nodes = []string{l.Addr().String()}
	c := client.NewWithConfig(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWalkthrough(t *testing.T) {
	c := newClusterClient(t)
	if err := walkthrough(t.Context(), c); err != nil {
		t.Fatalf("walkthrough() = %v", err)
	}
}

func TestWalkthroughReportsHashErrors(t *testing.T) {
	ctx := t.Context()
	c := newClusterClient(t)
	if err := c.Set(ctx, "user:1:profile", "not a hash", 0); err != nil {
		t.Fatal(err)
	}

	err := walkthrough(ctx, c)
	if err == nil || !strings.Contains(err.Error(), "HSET") {
		t.Fatalf("walkthrough() = %v, want HSET error", err)
	}
}

func TestRunBatch(t *testing.T) {
	c := newClusterClient(t)
	if err := runBatch(t.Context(), c, []string{"SET k v 60", "INCR n", "GET k"}); err != nil {
		t.Fatalf("runBatch() = %v", err)
	}
	if err := runBatch(t.Context(), c, []string{"NOPE k"}); err == nil {
		t.Error("runBatch() accepted an unknown command")
	}
}
