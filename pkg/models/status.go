package models

import "time"

// RunStatus is the outcome of one site run.
type RunStatus string

const (
	RunStatusUnset            RunStatus = ""                  // Zero value = unset/unknown
	RunStatusSuccess          RunStatus = "success"           // Records exported
	RunStatusInsufficientData RunStatus = "insufficient_data" // Fewer than min_rows survived dedupe
	RunStatusConfigError      RunStatus = "config_error"      // Site definition missing or invalid
	RunStatusSiteError        RunStatus = "site_error"        // Network, export or storage failure
)

// String implements fmt.Stringer for logging
func (s RunStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known terminal value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusSuccess, RunStatusInsufficientData, RunStatusConfigError, RunStatusSiteError:
		return true
	}
	return false
}

// ExitCode is the process exit code reported for a run.
type ExitCode int

const (
	ExitOK               ExitCode = 0
	ExitInsufficientData ExitCode = 2
	ExitConfigError      ExitCode = 3
	ExitSiteError        ExitCode = 4
)

// ExitCode maps a status to its process exit code.
func (s RunStatus) ExitCode() ExitCode {
	switch s {
	case RunStatusSuccess:
		return ExitOK
	case RunStatusInsufficientData:
		return ExitInsufficientData
	case RunStatusConfigError:
		return ExitConfigError
	default:
		return ExitSiteError
	}
}

// RunResult summarises one site run.
type RunResult struct {
	Site             string        `json:"site"`
	RunID            string        `json:"run_id"`
	Status           RunStatus     `json:"status"`
	ExitCode         ExitCode      `json:"exit_code"`
	Seeds            int           `json:"seeds"`
	SeedFailures     int           `json:"seed_failures"`
	SeedsDenied      int           `json:"seeds_denied"`
	PagesFetched     int           `json:"pages_fetched"`
	RecordsExtracted int           `json:"records_extracted"`
	RecordsKept      int           `json:"records_kept"`
	Error            string        `json:"error,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// Success reports whether the run exited cleanly.
func (r RunResult) Success() bool { return r.ExitCode == ExitOK }
