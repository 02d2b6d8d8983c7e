// Package models defines the persistent and in-process data shapes of the
// job execution core: Job, JobBatch, JobProgressRecord, and JobDefinition.
package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle status of a Job. Transitions form the monotonic
// DAG PENDING -> PROGRESS -> {SUCCESS, FAILURE}; retries never walk backwards.
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusProgress JobStatus = "PROGRESS"
	JobStatusSuccess  JobStatus = "SUCCESS"
	JobStatusFailure  JobStatus = "FAILURE"

	// JobStatusStarted is an alias accepted (but never emitted as a stored
	// status) for PROGRESS, used historically by one tagging sub-status.
	JobStatusStarted JobStatus = "STARTED"
)

// IsTerminal reports whether the status ends a Job's lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// Progress is the progress snapshot carried on a Job and published through
// the Progress Channel.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message,omitempty"`
}

// ComputeProgress derives a Progress snapshot, applying the
// percent = floor(100 * current / total) contract (0 when total is 0).
func ComputeProgress(current, total int, phase, message string) Progress {
	percent := 0
	if total > 0 {
		percent = (100 * current) / total
	}
	return Progress{Current: current, Total: total, Percent: percent, Phase: phase, Message: message}
}

// Job is the persistent record of one job run.
type Job struct {
	ID          string          `json:"id"`
	CatalogID   string          `json:"catalog_id,omitempty"`
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Progress    Progress        `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// JobUpdate is a partial update applied to a Job by the Job Store. Nil fields
// are left unchanged.
type JobUpdate struct {
	Status   *JobStatus
	Progress *Progress
	Result   json.RawMessage
	Error    *string
}

// JobFilter restricts ListJobs queries.
type JobFilter struct {
	CatalogID string
	Limit     int
}
