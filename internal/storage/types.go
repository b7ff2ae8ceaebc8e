package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownJobType is returned for job types outside the closed set.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrInvalidTrigger is returned for definitions failing field validation.
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// JobType is the closed set of automation job kinds.
type JobType string

const (
	JobHealthCheck   JobType = "health-check"
	JobDriveSync     JobType = "drive-sync"
	JobBackup        JobType = "backup"
	JobAIReport      JobType = "ai-report"
	JobCleanup       JobType = "cleanup"
	JobEmailCheck    JobType = "email-check"
	JobCustomCommand JobType = "custom-command"
)

// JobTypes lists every valid job type, in catalog order.
func JobTypes() []JobType {
	return []JobType{
		JobHealthCheck, JobDriveSync, JobBackup, JobAIReport,
		JobCleanup, JobEmailCheck, JobCustomCommand,
	}
}

func (t JobType) Valid() bool {
	switch t {
	case JobHealthCheck, JobDriveSync, JobBackup, JobAIReport,
		JobCleanup, JobEmailCheck, JobCustomCommand:
		return true
	}
	return false
}

// Trigger is a persisted schedule-plus-task definition.
type Trigger struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Schedule string         `json:"cron"`
	Type     JobType        `json:"type"`
	Config   map[string]any `json:"config"`
	Enabled  bool           `json:"enabled"`

	LastRun   *time.Time `json:"last_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TriggerUpdate is a partial merge over a Trigger. Nil fields are left alone.
type TriggerUpdate struct {
	Name     *string
	Schedule *string
	Config   map[string]any
	Enabled  *bool
}

// Execution statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecutionRecord is one immutable row of execution history.
// JobID may reference a trigger that has since been deleted (kept for audit).
type ExecutionRecord struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"job_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"duration_ms"`
	ExecutedAt time.Time `json:"executed_at"`
}

// MetricSample is one system health measurement.
type MetricSample struct {
	ID             int64     `json:"id"`
	CPULoad        float64   `json:"cpu_load"`
	MemUsedPercent float64   `json:"mem_used_percent"`
	Temperature    *float64  `json:"temperature,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Notification is a stored message for the dashboard inbox.
type Notification struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the serializable view used by the backup handler.
type Snapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Triggers      []Trigger         `json:"triggers"`
	Executions    []ExecutionRecord `json:"executions"`
	Metrics       []MetricSample    `json:"metrics"`
	Notifications []Notification    `json:"notifications"`
}

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
	// DedupCapacity bounds the processed-item ledger. 0 means default (500).
	DedupCapacity int
	// SeedDefaults inserts the default trigger set when the table is empty.
	SeedDefaults bool
}
