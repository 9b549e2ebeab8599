// Package job implements the generation job state machine and its
// SQLite-backed store. A job moves pending -> processing -> completed
// or failed; terminal states are never re-executed.
package job

import "time"

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one generation request for an app.
type Job struct {
	ID     string `json:"id"`
	AppID  string `json:"appId"`
	Prompt string `json:"prompt"`

	// IsFollowUp distinguishes an edit to an existing app from initial
	// generation.
	IsFollowUp bool `json:"isFollowUp"`

	// UseDiffBased selects diff-based editing for follow-ups; initial
	// generation always produces complete files.
	UseDiffBased bool `json:"useDiffBased"`

	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch is one persisted file diff produced by a completed run.
type Patch struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"jobId"`
	Filename    string    `json:"filename"`
	UnifiedDiff string    `json:"unifiedDiff"`
	CreatedAt   time.Time `json:"createdAt"`
}
