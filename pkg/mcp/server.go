// Package mcp exposes site runs as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/fetch"
	"github.com/Sriram-PR/web-to-sheets/pkg/runner"
)

const serverName = "web-to-sheets"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	ConfigDir string
	Transport string // "stdio" or "sse"
	Port      int
	Version   string
	Logger    *logrus.Logger
	// Run is the template for every run_site job; Site and Demo are set per job.
	Run runner.Options
}

// Server wraps the MCP server with web-to-sheets tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	hostPool   *fetch.HostSemaphorePool
	jobs       sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = config.DefaultSitesDir
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	log := cfg.Logger.WithField("component", "mcp")

	pool := cfg.Run.HostPool
	if pool == nil {
		pool = fetch.NewHostSemaphorePool(fetch.DefaultMaxPerHost, log)
		cfg.Run.HostPool = pool
	}
	if cfg.Run.Logger == nil {
		cfg.Run.Logger = cfg.Logger
	}
	if cfg.Run.ConfigDir == "" {
		cfg.Run.ConfigDir = cfg.ConfigDir
	}

	mcpServer := server.NewMCPServer(
		serverName,
		cfg.Version,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		hostPool:   pool,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	tools := []server.ServerTool{
		{
			Tool: mcp.NewTool("list_sites",
				mcp.WithDescription("List all site definitions with their last run outcome"),
			),
			Handler: s.handleListSites,
		},
		{
			Tool: mcp.NewTool("validate_site",
				mcp.WithDescription("Validate a site definition and report every problem found"),
				mcp.WithString("site",
					mcp.Required(),
					mcp.Description("Site name (file name under the sites directory, without .yaml)"),
				),
			),
			Handler: s.handleValidateSite,
		},
		{
			Tool: mcp.NewTool("run_site",
				mcp.WithDescription("Start a background run for a site. Returns immediately with a job ID."),
				mcp.WithString("site",
					mcp.Required(),
					mcp.Description("Site name, e.g. 'quotes'"),
				),
				mcp.WithBoolean("demo",
					mcp.Description("Replay the site's local fixture instead of fetching live pages"),
				),
			),
			Handler: s.handleRunSite,
		},
		{
			Tool: mcp.NewTool("get_job_status",
				mcp.WithDescription("Get the status and result of a run job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by run_site"),
				),
			),
			Handler: s.handleGetJobStatus,
		},
		{
			Tool: mcp.NewTool("cancel_job",
				mcp.WithDescription("Cancel a pending or running job"),
				mcp.WithString("job_id",
					mcp.Required(),
					mcp.Description("The job ID returned by run_site"),
				),
			),
			Handler: s.handleCancelJob,
		},
		{
			Tool: mcp.NewTool("search_records",
				mcp.WithDescription("Search exported records using case-insensitive text matching"),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Search query (case-insensitive substring match)"),
				),
				mcp.WithString("site",
					mcp.Description("Limit search to one site (optional)"),
				),
				mcp.WithNumber("max_results",
					mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
				),
			),
			Handler: s.handleSearchRecords,
		},
	}
	s.mcpServer.AddTools(tools...)
	s.log.Infof("Registered %d MCP tools", len(tools))
}

// Run serves the configured transport until it stops or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go s.hostPool.RunEviction(ctx, 0)

	switch s.cfg.Transport {
	case "stdio", "":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)

		errCh := make(chan error, 1)
		go func() { errCh <- sseServer.Start(addr) }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			return sseServer.Shutdown(context.WithoutCancel(ctx))
		}
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
