package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	applog "github.com/Sriram-PR/web-to-sheets/pkg/log"
	"github.com/Sriram-PR/web-to-sheets/pkg/mcp"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
)

// mcpFlags holds the mcp-server options.
type mcpFlags struct {
	run       runFlags
	transport string
	port      int
}

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	var f mcpFlags
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	f.run.registerCommon(fs)
	fs.StringVar(&f.transport, "transport", "stdio", "Transport type (stdio, sse)")
	fs.IntVar(&f.port, "port", 8080, "HTTP port (for sse transport)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: web-to-sheets mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for Claude Desktop)
  web-to-sheets mcp-server -config-dir sites

  # Start with SSE transport on port 8080
  web-to-sheets mcp-server -transport sse -port 8080

Available MCP Tools:
  list_sites      List all configured sites with their last run
  validate_site   Validate a site definition
  run_site        Start a background run for a site
  get_job_status  Get the status of a run job
  cancel_job      Cancel a running job
  search_records  Search exported records
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(f, os.Stdout, os.Stderr))
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(f mcpFlags, stdout, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	levelStr := applog.ResolveLevel(f.run.logLevel)
	if _, err := logrus.ParseLevel(levelStr); err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", levelStr)
		return 1
	}
	logger := applog.New(levelStr, stderr)

	base, err := baseOptions(f.run, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}

	server, err := mcp.NewServer(&mcp.ServerConfig{
		ConfigDir: f.run.configDir,
		Transport: f.transport,
		Port:      f.port,
		Version:   version,
		Logger:    logger,
		Run:       base,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	ctx, stop := signalContext(logger)
	defer stop()
	startMetricsServer(ctx, f.run.metricsAddr, base.Metrics, logger)

	logger.Infof("Starting MCP server (transport: %s)", f.transport)
	runErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Jobs still running at shutdown: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}
