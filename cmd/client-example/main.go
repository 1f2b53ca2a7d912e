package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cachemir/shardpipe/pkg/client"
	"github.com/cachemir/shardpipe/pkg/config"
	"github.com/cachemir/shardpipe/pkg/pipeline"
	"github.com/cachemir/shardpipe/pkg/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		nodes      []string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "shardpipe-client [command...]",
		Short: "Run commands against a shardpipe cluster",
		Long: `Run commands against a shardpipe cluster.

Each argument is one command line, for example "SET user:1 alice 60".
All commands are sent as one pipelined batch and their replies are printed
in order. Without arguments a short walkthrough of the client API runs.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			ctx = clog.WithLogger(ctx, clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			cfg, err := config.LoadClientConfig(ctx, configPath)
			if err != nil {
				return err
			}
			if len(nodes) > 0 {
				cfg.Nodes = nodes
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			c := client.NewWithConfig(cfg)
			defer c.Close()

			if err := c.Ping(ctx); err != nil {
				clog.FromContext(ctx).Warnf("ping failed: %v", err)
			}
			if len(args) > 0 {
				return runBatch(ctx, c, args)
			}
			return walkthrough(ctx, c)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	f.StringSliceVarP(&nodes, "nodes", "n", nil, "node addresses, overriding the configuration")
	f.BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity")
	return cmd
}

// runBatch parses every line, queues it on a sharded pipeline and prints the
// replies in the order given.
func runBatch(ctx context.Context, c *client.Client, lines []string) error {
	sp := c.Pipelined()
	defer sp.Close()

	replies := make([]*pipeline.Placeholder[*protocol.Response], 0, len(lines))
	for _, line := range lines {
		cmd, err := protocol.ParseTextCommand(line)
		if err != nil {
			return fmt.Errorf("%q: %w", line, err)
		}
		conn, err := sp.For(ctx, cmd.Key)
		if err != nil {
			return err
		}
		ph, err := pipeline.EnqueueCommand(conn.Pipeline, pipeline.Raw, cmd)
		if err != nil {
			return fmt.Errorf("%q: %w", line, err)
		}
		replies = append(replies, ph)
	}

	start := time.Now()
	syncErr := sp.Sync(ctx)
	elapsed := time.Since(start)

	for i, ph := range replies {
		resp, err := ph.Get()
		if err != nil {
			fmt.Printf("%d) %s: (error) %v\n", i+1, lines[i], err)
			continue
		}
		fmt.Printf("%d) %s: %s\n", i+1, lines[i], formatResponse(resp))
	}
	fmt.Printf("%s commands in %v\n", humanize.Comma(int64(len(lines))), elapsed.Round(time.Microsecond))
	return syncErr
}

func formatResponse(resp *protocol.Response) string {
	switch resp.Type {
	case protocol.RespOK:
		if s, ok := resp.Data.(string); ok && s != "" {
			return s
		}
		return "OK"
	case protocol.RespNil:
		return "(nil)"
	case protocol.RespError:
		return "(error) " + resp.Error
	case protocol.RespInt:
		return fmt.Sprintf("(integer) %d", resp.Data)
	case protocol.RespArray:
		items, _ := resp.Data.([]string)
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return fmt.Sprintf("%q", resp.Data)
	}
}

func walkthrough(ctx context.Context, c *client.Client) error {
	fmt.Println("=== shardpipe client example ===")
	fmt.Printf("nodes: %s\n", strings.Join(c.Nodes(), ", "))

	fmt.Println("\n--- String Operations ---")
	if err := c.Set(ctx, "user:1", "john_doe", 0); err != nil {
		return fmt.Errorf("SET: %w", err)
	}
	fmt.Printf("✓ SET user:1 = john_doe (node %s)\n", c.NodeFor("user:1"))
	if value, err := c.Get(ctx, "user:1"); err != nil {
		fmt.Printf("✗ GET user:1: %v\n", err)
	} else {
		fmt.Printf("✓ GET user:1 = %s\n", value)
	}

	fmt.Println("\n--- Expiration ---")
	if err := c.Set(ctx, "temp_key", "temporary", 5*time.Second); err != nil {
		return fmt.Errorf("SET: %w", err)
	}
	if ttl, err := c.TTL(ctx, "temp_key"); err == nil {
		fmt.Printf("✓ TTL temp_key = %v\n", ttl)
	}

	fmt.Println("\n--- Hash Operations ---")
	for field, value := range map[string]string{"name": "John Doe", "email": "john@example.com"} {
		if _, err := c.HSet(ctx, "user:1:profile", field, value); err != nil {
			return fmt.Errorf("HSET: %w", err)
		}
	}
	if profile, err := c.HGetAll(ctx, "user:1:profile"); err == nil {
		fmt.Printf("✓ HGETALL user:1:profile = %v\n", profile)
	}

	fmt.Println("\n--- Pipelined Counters ---")
	sp := c.Pipelined()
	defer sp.Close()
	const pages = 1000
	counters := make([]*pipeline.Placeholder[int64], 0, pages)
	for i := 0; i < pages; i++ {
		ph, err := client.Enqueue(ctx, sp, pipeline.Int64, "INCR", fmt.Sprintf("page:%d:views", i%10))
		if err != nil {
			return err
		}
		counters = append(counters, ph)
	}
	start := time.Now()
	if err := sp.Sync(ctx); err != nil {
		return err
	}
	last, err := counters[len(counters)-1].Get()
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s INCRs across %d nodes in %v, page:9:views = %d\n",
		humanize.Comma(pages), len(c.Nodes()), time.Since(start).Round(time.Microsecond), last)

	fmt.Println("\n--- Cleanup ---")
	for _, key := range []string{"user:1", "temp_key", "user:1:profile"} {
		if deleted, err := c.Del(ctx, key); err == nil {
			fmt.Printf("✓ DEL %s = %t\n", key, deleted)
		}
	}
	fmt.Println("\n=== Example Complete ===")
	return nil
}
