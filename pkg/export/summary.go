package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// RunSummary is the YAML document written next to the exports after each run.
type RunSummary struct {
	Site              string         `yaml:"site"`
	RunID             string         `yaml:"run_id"`
	Status            string         `yaml:"status"`
	ExitCode          int            `yaml:"exit_code"`
	StartedAt         time.Time      `yaml:"started_at"`
	FinishedAt        time.Time      `yaml:"finished_at"`
	Seeds             int            `yaml:"seeds"`
	SeedFailures      int            `yaml:"seed_failures"`
	SeedsDenied       int            `yaml:"seeds_denied"`
	PagesFetched      int            `yaml:"pages_fetched"`
	RecordsExtracted  int            `yaml:"records_extracted"`
	RecordsKept       int            `yaml:"records_kept"`
	Sinks             []string       `yaml:"sinks,omitempty"`
	Error             string         `yaml:"error,omitempty"`
	SiteConfiguration map[string]any `yaml:"site_configuration,omitempty"`
}

// SummaryPath returns where WriteSummary puts the summary for a site.
func SummaryPath(site *config.SiteConfig) string {
	return filepath.Join(site.Output.CSVDir, utils.SanitizeFilename(site.Name)+".run.yaml")
}

// WriteSummary records the outcome of a run, including a snapshot of the site
// configuration it ran with.
func WriteSummary(site *config.SiteConfig, result models.RunResult, sinks []string, log *logrus.Entry) error {
	path := SummaryPath(site)

	// Cookie values are often session secrets.
	snapshot := site.Clone()
	snapshot.Cookies = nil

	var siteConfigMap map[string]any
	if raw, err := yaml.Marshal(snapshot); err != nil {
		log.Warnf("Could not marshal site configuration for run summary: %v", err)
	} else if err := yaml.Unmarshal(raw, &siteConfigMap); err != nil {
		log.Warnf("Could not unmarshal site configuration into map for run summary: %v", err)
		siteConfigMap = nil
	}

	summary := RunSummary{
		Site:              result.Site,
		RunID:             result.RunID,
		Status:            result.Status.String(),
		ExitCode:          int(result.ExitCode),
		StartedAt:         result.StartedAt,
		FinishedAt:        result.StartedAt.Add(result.Duration),
		Seeds:             result.Seeds,
		SeedFailures:      result.SeedFailures,
		SeedsDenied:       result.SeedsDenied,
		PagesFetched:      result.PagesFetched,
		RecordsExtracted:  result.RecordsExtracted,
		RecordsKept:       result.RecordsKept,
		Sinks:             sinks,
		Error:             result.Error,
		SiteConfiguration: siteConfigMap,
	}

	data, err := yaml.Marshal(&summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary for site '%s': %w", site.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create output dir: %w", utils.ErrFilesystem, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write run summary '%s': %w", utils.ErrFilesystem, path, err)
	}

	log.Infof("Successfully wrote run summary to %s", path)
	return nil
}
