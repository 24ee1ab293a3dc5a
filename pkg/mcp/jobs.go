package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
)

// JobStatus represents the current state of a run job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Active reports whether a job with this status may still change.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background site run
type Job struct {
	ID           string            `json:"id"`
	Site         string            `json:"site"`
	Demo         bool              `json:"demo"`
	Status       JobStatus         `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
	Result       *models.RunResult `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// snapshot copies the exported fields so callers never share mutable state.
func (j *Job) snapshot() *Job {
	out := *j
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	out.ctx, out.cancel = nil, nil
	return &out
}

// JobManager manages background run jobs. At most one active job exists per site.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bysite map[string]string // site -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bysite: make(map[string]string),
	}
}

// CreateJob creates a pending job for site. When the site already has an
// active job, that job is returned and created is false.
func (m *JobManager) CreateJob(site string, demo bool) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, exists := m.bysite[site]; exists {
		if existing := m.jobs[existingID]; existing != nil && existing.Status.Active() {
			return existing.snapshot(), false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        uuid.New().String(),
		Site:      site,
		Demo:      demo,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[j.ID] = j
	m.bysite[site] = j.ID
	return j.snapshot(), true
}

// GetJob returns a copy of the job, or nil.
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.snapshot()
	}
	return nil
}

// GetJobBySite returns a copy of the site's active job, or nil.
func (m *JobManager) GetJobBySite(site string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[site]; exists {
		if j := m.jobs[jobID]; j != nil {
			return j.snapshot()
		}
	}
	return nil
}

// IsRunning checks if an active job exists for a site
func (m *JobManager) IsRunning(site string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[site]; exists {
		j := m.jobs[jobID]
		return j != nil && j.Status.Active()
	}
	return false
}

// UpdateStatus moves a job to status. Finished jobs are immutable.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[jobID]
	if !exists || !j.Status.Active() {
		return
	}
	m.setStatusLocked(j, status, errorMsg)
}

func (m *JobManager) setStatusLocked(j *Job, status JobStatus, errorMsg string) {
	j.Status = status
	if !status.Active() {
		j.CompletedAt = time.Now()
		delete(m.bysite, j.Site)
		j.cancel()
	}
	if errorMsg != "" {
		j.ErrorMessage = errorMsg
	}
}

// Finish stores the run result and derives the final status from it. A job
// cancelled meanwhile keeps its cancelled status but still records the result.
func (m *JobManager) Finish(jobID string, result models.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[jobID]
	if !exists {
		return
	}
	r := result
	j.Result = &r
	if !j.Status.Active() {
		return
	}
	if result.Success() {
		m.setStatusLocked(j, JobStatusCompleted, "")
		return
	}
	m.setStatusLocked(j, JobStatusFailed, result.Error)
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, exists := m.jobs[jobID]; exists && j.Status.Active() {
		m.setStatusLocked(j, JobStatusCancelled, "")
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Status.Active() {
			m.setStatusLocked(j, JobStatusCancelled, "")
		}
	}
}

// ListJobs returns copies of all jobs, oldest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.snapshot())
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].StartedAt.Before(jobs[b].StartedAt) })
	return jobs
}

// GetContext returns the context a job runs under; it is cancelled when the job ends.
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if j, exists := m.jobs[jobID]; exists {
		return j.ctx
	}
	return context.Background()
}
