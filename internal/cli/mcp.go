package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/logging"
	mcpAdapter "github.com/aretw0/pergola/pkg/adapters/mcp"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/adapters/process"
	"github.com/aretw0/pergola/pkg/ports"
)

// MCPOptions configures the MCP server mode.
type MCPOptions struct {
	ConfigPath string
	Transport  string
	Port       int
}

// RunMCP exposes the bridge to AI agents over the Model Context Protocol.
// Local programs from the registry attach as peers; without any, the hub
// runs on an in-memory feed and serves catalog and state tools only.
func RunMCP(opts MCPOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	// Stdio transport owns stdout for JSON-RPC; logs go to stderr.
	logger := logging.New(cfg.Level())

	var feeds []ports.Feed
	var host *process.Host
	if cfg.Programs.Path != "" {
		programs, err := process.LoadPrograms(cfg.Programs.Path)
		if err != nil {
			return err
		}
		if len(programs) > 0 {
			host = process.NewHost(
				process.WithRegistry(programs),
				process.WithLogger(logger),
			)
			feeds = append(feeds, host)
		}
	}

	if len(feeds) == 0 {
		// Keeps the dispatch loop alive so state and catalog tools work
		// even with no transport configured.
		feeds = append(feeds, memory.NewFeed())
	}

	var extra []pergola.Option
	if host != nil {
		extra = append(extra, pergola.WithOrigins(host.Origins()...))
	}

	hub, err := buildHub(cfg, logger, ports.Merge(feeds...), extra...)
	if err != nil {
		return err
	}
	defer hub.Close()

	sc := NewSignalContext(context.Background())
	defer sc.Cancel()

	go func() {
		if err := hub.Run(sc); err != nil {
			logger.Error("bridge loop failed", "error", err)
			sc.Cancel()
		}
	}()

	if host != nil {
		defer host.Close()
		if err := host.StartAll(sc, hub); err != nil {
			return fmt.Errorf("starting local programs: %w", err)
		}
	}

	srv := mcpAdapter.NewServer(hub)

	switch opts.Transport {
	case "stdio":
		logger.Info("starting MCP server (stdio)")
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("MCP server execution failed: %w", err)
		}
	case "sse":
		logger.Info("starting MCP server (SSE)", "port", opts.Port)
		if err := srv.ServeSSE(sc, opts.Port); err != nil {
			// Ignore server closed error if it was caused by context cancellation
			if err != http.ErrServerClosed {
				return fmt.Errorf("MCP server execution failed: %w", err)
			}
		}
		logger.Info("MCP server stopped gracefully")
	default:
		return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", opts.Transport)
	}
	return nil
}
