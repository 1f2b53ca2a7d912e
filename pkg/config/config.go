// Package config provides configuration for shardpipe servers and clients.
//
// Values are layered with the following precedence:
//  1. Command-line flags (server only, applied by cmd/server)
//  2. Environment variables prefixed with "CACHEMIR_"
//  3. An optional YAML file
//  4. Default values
//
// Example server usage:
//
//	cfg, err := config.LoadServerConfig(ctx, "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv := server.New(cfg)
//
// Example client usage:
//
//	cfg, err := config.LoadClientConfig(ctx, "client.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	c := client.NewWithConfig(cfg)
//
// For example, the server port can be set with CACHEMIR_PORT=8080 and the
// client node list with CACHEMIR_NODES=server1:8080,server2:8080.
package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CACHEMIR_"

// Default configuration constants
const (
	DefaultServerPort      = 8080
	DefaultMaxConnections  = 1000
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultMaxConnsPerNode = 10
	DefaultConnTimeout     = 5 * time.Second
	DefaultIdleTimeout     = 20 * time.Second
	DefaultRetryAttempts   = 3
	DefaultVirtualNodes    = 150
)

// Routing modes for ClientConfig.Routing.
const (
	// RoutingSlot sends a key to nodes[crc32(key) mod len(nodes)].
	RoutingSlot = "slot"
	// RoutingRing places keys on a consistent-hash ring of virtual nodes.
	RoutingRing = "ring"
)

// ServerConfig holds the options of a server instance.
type ServerConfig struct {
	Host          string        `env:"HOST, default=0.0.0.0" yaml:"host"`
	Port          int           `env:"PORT, default=8080" yaml:"port"`
	MaxConns      int           `env:"MAX_CONNS, default=1000" yaml:"max_conns"`
	ReadTimeout   time.Duration `env:"READ_TIMEOUT, default=30s" yaml:"read_timeout"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT, default=10s" yaml:"write_timeout"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL, default=1m" yaml:"sweep_interval"`
	LogLevel      string        `env:"LOG_LEVEL, default=info" yaml:"log_level"`
}

// ClientConfig holds the options of a client instance.
//
// Example:
//
//	cfg := &config.ClientConfig{
//		Nodes:           []string{"server1:8080", "server2:8080"},
//		MaxConnsPerNode: 20,
//		RetryAttempts:   3,
//	}
//
// IdleTimeout retires pooled connections idle for longer than it; keep it
// below the server ReadTimeout. Zero never retires them.
type ClientConfig struct {
	Nodes           []string      `env:"NODES, default=localhost:8080" yaml:"nodes"`
	Routing         string        `env:"ROUTING, default=slot" yaml:"routing"`
	MaxConnsPerNode int           `env:"MAX_CONNS_PER_NODE, default=10" yaml:"max_conns_per_node"`
	ConnTimeout     time.Duration `env:"CONN_TIMEOUT, default=5s" yaml:"conn_timeout"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT, default=30s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT, default=10s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT, default=20s" yaml:"idle_timeout"`
	RetryAttempts   int           `env:"RETRY_ATTEMPTS, default=3" yaml:"retry_attempts"`
	VirtualNodes    int           `env:"VIRTUAL_NODES, default=150" yaml:"virtual_nodes"`
}

// DefaultServerConfig returns a ServerConfig populated with defaults only.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "0.0.0.0",
		Port:          DefaultServerPort,
		MaxConns:      DefaultMaxConnections,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		SweepInterval: DefaultSweepInterval,
		LogLevel:      "info",
	}
}

// DefaultClientConfig returns a ClientConfig populated with defaults only.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Nodes:           []string{"localhost:8080"},
		Routing:         RoutingSlot,
		MaxConnsPerNode: DefaultMaxConnsPerNode,
		ConnTimeout:     DefaultConnTimeout,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		RetryAttempts:   DefaultRetryAttempts,
		VirtualNodes:    DefaultVirtualNodes,
	}
}

// LoadServerConfig reads path (if non-empty) and then the environment.
func LoadServerConfig(ctx context.Context, path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := load(ctx, path, cfg, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClientConfig reads path (if non-empty) and then the environment.
func LoadClientConfig(ctx context.Context, path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := load(ctx, path, cfg, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// load fills target from the YAML file at path, then from environment
// variables found through l. Environment values override the file; defaults
// only fill fields neither source set.
func load(ctx context.Context, path string, target any, l envconfig.Lookuper) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           target,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, l),
		DefaultOverwrite: true,
	}); err != nil {
		return fmt.Errorf("processing environment: %w", err)
	}
	return nil
}

// Address returns the host:port the server binds to.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Validate checks that the ServerConfig holds usable values.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive: %v", c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %v", c.WriteTimeout)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive: %v", c.SweepInterval)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Validate checks that the ClientConfig holds usable values.
func (c *ClientConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be specified")
	}

	seen := make(map[string]bool, len(c.Nodes))
	for _, node := range c.Nodes {
		if node == "" {
			return fmt.Errorf("empty node address")
		}
		if _, _, err := net.SplitHostPort(node); err != nil {
			return fmt.Errorf("invalid node address format: %s", node)
		}
		if seen[node] {
			return fmt.Errorf("duplicate node address: %s", node)
		}
		seen[node] = true
	}

	switch c.Routing {
	case RoutingSlot, RoutingRing:
	default:
		return fmt.Errorf("invalid routing mode: %q", c.Routing)
	}

	if c.MaxConnsPerNode < 1 {
		return fmt.Errorf("max connections per node must be positive: %d", c.MaxConnsPerNode)
	}

	if c.ConnTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive: %v", c.ConnTimeout)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive: %v", c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %v", c.WriteTimeout)
	}

	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative: %v", c.IdleTimeout)
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be non-negative: %d", c.RetryAttempts)
	}

	if c.VirtualNodes < 1 {
		return fmt.Errorf("virtual nodes must be positive: %d", c.VirtualNodes)
	}

	return nil
}
