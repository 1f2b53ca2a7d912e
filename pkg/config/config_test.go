package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"
)

func TestLoadDefaults(t *testing.T) {
	ctx := t.Context()
	env := envconfig.MapLookuper(nil)

	server := &ServerConfig{}
	if err := load(ctx, "", server, env); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultServerConfig(), server); diff != "" {
		t.Errorf("server defaults mismatch (-want +got):\n%s", diff)
	}

	client := &ClientConfig{}
	if err := load(ctx, "", client, env); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultClientConfig(), client); diff != "" {
		t.Errorf("client defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEnvironment(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"CACHEMIR_NODES":          "a:1,b:2,c:3",
		"CACHEMIR_ROUTING":        "ring",
		"CACHEMIR_CONN_TIMEOUT":   "250ms",
		"CACHEMIR_IDLE_TIMEOUT":   "0s",
		"CACHEMIR_RETRY_ATTEMPTS": "0",
		"NODES":                   "ignored:1",
	})

	cfg := &ClientConfig{}
	if err := load(t.Context(), "", cfg, env); err != nil {
		t.Fatal(err)
	}

	want := DefaultClientConfig()
	want.Nodes = []string{"a:1", "b:2", "c:3"}
	want.Routing = RoutingRing
	want.ConnTimeout = 250 * time.Millisecond
	want.IdleTimeout = 0
	want.RetryAttempts = 0
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := []byte("port: 9001\nhost: 127.0.0.1\nread_timeout: 2s\nlog_level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	env := envconfig.MapLookuper(map[string]string{
		"CACHEMIR_PORT": "9002",
	})

	cfg := &ServerConfig{}
	if err := load(t.Context(), path, cfg, env); err != nil {
		t.Fatal(err)
	}

	want := DefaultServerConfig()
	want.Host = "127.0.0.1"
	want.Port = 9002
	want.ReadTimeout = 2 * time.Second
	want.LogLevel = "debug"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if got, want := cfg.Address(), "127.0.0.1:9002"; got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadServerConfig(t.Context(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr bool
	}{
		{"defaults", func(*ServerConfig) {}, false},
		{"ephemeral port", func(c *ServerConfig) { c.Port = 0 }, false},
		{"port too large", func(c *ServerConfig) { c.Port = 70000 }, true},
		{"no connections", func(c *ServerConfig) { c.MaxConns = 0 }, true},
		{"zero read timeout", func(c *ServerConfig) { c.ReadTimeout = 0 }, true},
		{"zero write timeout", func(c *ServerConfig) { c.WriteTimeout = 0 }, true},
		{"zero sweep", func(c *ServerConfig) { c.SweepInterval = 0 }, true},
		{"bad log level", func(c *ServerConfig) { c.LogLevel = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr bool
	}{
		{"defaults", func(*ClientConfig) {}, false},
		{"ring routing", func(c *ClientConfig) { c.Routing = RoutingRing }, false},
		{"no nodes", func(c *ClientConfig) { c.Nodes = nil }, true},
		{"empty node", func(c *ClientConfig) { c.Nodes = []string{""} }, true},
		{"missing port", func(c *ClientConfig) { c.Nodes = []string{"server1"} }, true},
		{"duplicate node", func(c *ClientConfig) { c.Nodes = []string{"a:1", "a:1"} }, true},
		{"bad routing", func(c *ClientConfig) { c.Routing = "random" }, true},
		{"no connections", func(c *ClientConfig) { c.MaxConnsPerNode = 0 }, true},
		{"zero conn timeout", func(c *ClientConfig) { c.ConnTimeout = 0 }, true},
		{"idle timeout disabled", func(c *ClientConfig) { c.IdleTimeout = 0 }, false},
		{"negative idle timeout", func(c *ClientConfig) { c.IdleTimeout = -time.Second }, true},
		{"negative retries", func(c *ClientConfig) { c.RetryAttempts = -1 }, true},
		{"no virtual nodes", func(c *ClientConfig) { c.VirtualNodes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClientConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}
