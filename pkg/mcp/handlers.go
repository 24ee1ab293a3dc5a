package mcp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/export"
	"github.com/Sriram-PR/web-to-sheets/pkg/runner"
)

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := config.ListSites(s.cfg.ConfigDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sites: %v", err)), nil
	}

	sites := make([]map[string]any, 0, len(names))
	for _, name := range names {
		siteInfo := map[string]any{"name": name}

		site, err := config.LoadSite(s.cfg.ConfigDir, name)
		if err != nil {
			siteInfo["valid"] = false
			siteInfo["error"] = err.Error()
		} else {
			siteInfo["valid"] = true
			siteInfo["urls_count"] = len(site.URLs)
			siteInfo["pagination"] = site.Pagination.Kind().String()
			siteInfo["sheet_tab"] = site.Output.SheetTab
			if summary, ok := lastRun(site); ok {
				siteInfo["last_run"] = map[string]any{
					"run_id":       summary.RunID,
					"status":       summary.Status,
					"finished_at":  summary.FinishedAt.Format(time.RFC3339),
					"records_kept": summary.RecordsKept,
				}
			}
		}

		if s.jobManager.IsRunning(name) {
			siteInfo["status"] = "running"
		}
		sites = append(sites, siteInfo)
	}

	result := map[string]any{
		"sites":       sites,
		"config_dir":  s.cfg.ConfigDir,
		"total_sites": len(sites),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleValidateSite handles the validate_site tool
func (s *Server) handleValidateSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("site", "")
	if name == "" {
		return mcp.NewToolResultError("site parameter is required"), nil
	}

	path := config.SitePath(s.cfg.ConfigDir, name)
	problems := config.ValidateFile(path)
	var warnings []string
	if len(problems) == 0 {
		if site, err := config.Load(path); err == nil {
			warnings, _ = site.Validate()
		}
	}

	result := map[string]any{
		"site":     name,
		"path":     path,
		"valid":    len(problems) == 0,
		"errors":   nonNil(problems),
		"warnings": nonNil(warnings),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRunSite handles the run_site tool
func (s *Server) handleRunSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("site", "")
	if name == "" {
		return mcp.NewToolResultError("site parameter is required"), nil
	}
	demo := request.GetBool("demo", false)

	available, err := config.ListSites(s.cfg.ConfigDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sites: %v", err)), nil
	}
	if !slices.Contains(available, name) {
		return mcp.NewToolResultError(fmt.Sprintf("site '%s' not found. Available sites: %v", name, available)), nil
	}

	job, created := s.jobManager.CreateJob(name, demo)
	if !created {
		result := map[string]any{
			"status":  "already_running",
			"message": "A run is already in progress for this site",
			"job_id":  job.ID,
			"site":    name,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobs.Add(1)
	go s.runJob(job.ID, name, demo)

	result := map[string]any{
		"status":  "started",
		"message": "Run started successfully",
		"job_id":  job.ID,
		"site":    name,
		"demo":    demo,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]any{
		"job_id":     job.ID,
		"site":       job.Site,
		"status":     job.Status,
		"demo":       job.Demo,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != nil {
		result["run_id"] = job.Result.RunID
		result["exit_code"] = int(job.Result.ExitCode)
		result["run_status"] = job.Result.Status.String()
		result["pages_fetched"] = job.Result.PagesFetched
		result["records_extracted"] = job.Result.RecordsExtracted
		result["records_kept"] = job.Result.RecordsKept
		result["seed_failures"] = job.Result.SeedFailures
		result["seeds_denied"] = job.Result.SeedsDenied
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	cancelled := s.jobManager.CancelJob(jobID)
	result := map[string]any{
		"job_id":    jobID,
		"cancelled": cancelled,
		"status":    s.jobManager.GetJob(jobID).Status,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearchRecords handles the search_records tool
func (s *Server) handleSearchRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	siteName := request.GetString("site", "")
	maxResults := request.GetInt("max_results", 10)
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	var names []string
	if siteName != "" {
		names = []string{siteName}
	} else {
		var err error
		if names, err = config.ListSites(s.cfg.ConfigDir); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list sites: %v", err)), nil
		}
	}

	var results []map[string]any
	for _, name := range names {
		site, err := config.LoadSite(s.cfg.ConfigDir, name)
		if err != nil {
			if siteName != "" {
				return mcp.NewToolResultError(fmt.Sprintf("site '%s' not available: %v", name, err)), nil
			}
			continue
		}
		results = append(results, s.searchCSV(query, site, maxResults-len(results))...)
		if len(results) >= maxResults {
			break
		}
	}

	response := map[string]any{
		"query":         query,
		"results":       nonNilMaps(results),
		"total_matches": len(results),
	}
	if siteName != "" {
		response["site"] = siteName
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// runJob runs a site in the background and records its result
func (s *Server) runJob(jobID, name string, demo bool) {
	defer s.jobs.Done()
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")

	opts := s.cfg.Run
	opts.Site = name
	opts.Demo = demo

	result := runner.Run(s.jobManager.GetContext(jobID), opts)
	s.jobManager.Finish(jobID, result)
	s.log.WithField("job_id", jobID).Infof("Job for site '%s' finished with exit code %d", name, result.ExitCode)
}

// searchCSV scans a site's CSV export for rows containing query
func (s *Server) searchCSV(query string, site *config.SiteConfig, limit int) []map[string]any {
	if limit <= 0 {
		return nil
	}
	path := export.NewCSVSink(site.Output.CSVDir, site.Name, nil).Path()
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil
	}

	queryLower := strings.ToLower(query)
	var results []map[string]any
	for row := 1; len(results) < limit; row++ {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.log.WithField("file", path).Debugf("Stopping search on malformed CSV: %v", err)
			break
		}

		for i, v := range values {
			if !strings.Contains(strings.ToLower(v), queryLower) {
				continue
			}
			record := make(map[string]string, len(header))
			for j, col := range header {
				if j < len(values) {
					record[col] = values[j]
				}
			}
			column := ""
			if i < len(header) {
				column = header[i]
			}
			results = append(results, map[string]any{
				"site":    site.Name,
				"row":     row,
				"column":  column,
				"snippet": extractSnippet(v, query, 150),
				"record":  record,
			})
			break
		}
	}
	return results
}

// lastRun reads the summary written after the site's most recent run
func lastRun(site *config.SiteConfig) (export.RunSummary, bool) {
	var summary export.RunSummary
	data, err := os.ReadFile(export.SummaryPath(site))
	if err != nil {
		return summary, false
	}
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return summary, false
	}
	return summary, true
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	// Find match position in runes
	idx := -1
	for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
		if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
			idx = i
			break
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMaps(m []map[string]any) []map[string]any {
	if m == nil {
		return []map[string]any{}
	}
	return m
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
