package domain

import "time"

// TaskKind tells scheduled runs apart from runs started on demand.
type TaskKind string

const (
	TaskScheduled TaskKind = "scheduled"
	TaskManual    TaskKind = "manual"
)

// TaskStatus enumerates the lifecycle of an ingestion run.
type TaskStatus string

const (
	StatusStarting  TaskStatus = "starting"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the run still occupies the single ingestion slot.
func (s TaskStatus) Active() bool {
	return s == StatusStarting || s == StatusRunning
}

// TaskStats accumulates while the run walks the feed list.
type TaskStats struct {
	ProcessedFeeds    int `json:"processed_feeds"`
	TotalFound        int `json:"total_found"`
	ProcessedArticles int `json:"processed_articles"`
}

// Add returns the sum of both stats.
func (s TaskStats) Add(delta TaskStats) TaskStats {
	return TaskStats{
		ProcessedFeeds:    s.ProcessedFeeds + delta.ProcessedFeeds,
		TotalFound:        s.TotalFound + delta.TotalFound,
		ProcessedArticles: s.ProcessedArticles + delta.ProcessedArticles,
	}
}

// TaskResult is the new/duplicate/error tally of a run.
type TaskResult struct {
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Add returns the sum of both results.
func (r TaskResult) Add(delta TaskResult) TaskResult {
	return TaskResult{
		New:        r.New + delta.New,
		Duplicates: r.Duplicates + delta.Duplicates,
		Errors:     r.Errors + delta.Errors,
	}
}

// Task is a point-in-time snapshot of one ingestion run.
type Task struct {
	ID            string     `json:"id"`
	Kind          TaskKind   `json:"kind"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"status_message"`
	Progress      int        `json:"progress"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	Stats         TaskStats  `json:"stats"`
	Result        TaskResult `json:"result"`
	Error         string     `json:"error,omitempty"`
}

// ProgressUpdate is what a running pipeline reports to the task that owns it.
// Stats and Result are deltas added to the running totals.
type ProgressUpdate struct {
	Message  string
	Progress int
	Stats    TaskStats
	Result   TaskResult
}
