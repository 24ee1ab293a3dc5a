package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const stateFileName = "watch_state.json"

// SiteState contains the last run information for a site
type SiteState struct {
	LastRunTime  time.Time        `json:"last_run_time"`
	LastRunID    string           `json:"last_run_id,omitempty"`
	LastStatus   models.RunStatus `json:"last_status"`
	LastExitCode models.ExitCode  `json:"last_exit_code"`
	RecordsKept  int              `json:"records_kept"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Succeeded reports whether the last run exited cleanly.
func (s SiteState) Succeeded() bool { return s.LastExitCode == models.ExitOK }

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	now       func() time.Time
	mu        sync.RWMutex
}

// NewStateManager creates a state manager backed by <stateDir>/watch_state.json.
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
		now: time.Now,
	}
}

// Path returns the state file location.
func (m *StateManager) Path() string { return m.statePath }

// Load loads the state from disk. A missing file means a fresh start.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{Sites: make(map[string]SiteState)}
			return nil
		}
		return fmt.Errorf("%w: failed to read state file: %w", utils.ErrFilesystem, err)
	}

	var loaded WatchState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: failed to parse state file: %w", utils.ErrParsing, err)
	}
	if loaded.Sites == nil {
		loaded.Sites = make(map[string]SiteState)
	}
	m.state = loaded
	return nil
}

// Save writes the state atomically: a temp file is renamed over the old one.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write state file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: failed to replace state file: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(site string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[site]
	return state, ok
}

// RecordResult stores the outcome of a finished run.
func (m *StateManager) RecordResult(result models.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Sites[result.Site] = SiteState{
		LastRunTime:  m.now(),
		LastRunID:    result.RunID,
		LastStatus:   result.Status,
		LastExitCode: result.ExitCode,
		RecordsKept:  result.RecordsKept,
		ErrorMessage: result.Error,
	}
}

// ShouldRun checks if a site should run based on the interval
func (m *StateManager) ShouldRun(site string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[site]
	if !ok {
		return true
	}
	return m.now().Sub(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site should next run
func (m *StateManager) GetNextRunTime(site string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[site]
	if !ok {
		return m.now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSiteStates returns a copy of all site states
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SiteState, len(m.state.Sites))
	for k, v := range m.state.Sites {
		result[k] = v
	}
	return result
}
