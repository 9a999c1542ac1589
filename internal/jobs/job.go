// Package jobs runs indexing passes in the background and tracks their state.
package jobs

import (
	"errors"
	"time"

	"github.com/merlian/merlian/internal/indexer"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

var (
	ErrNotFound  = errors.New("job not found")
	ErrJobActive = errors.New("an index job is already running")
	ErrClosed    = errors.New("job supervisor is closed")
)

// Job is a snapshot of one indexing job.
type Job struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Folders    []string        `json:"folders"`
	Processed  int             `json:"processed"`
	Total      int             `json:"total"`
	Message    string          `json:"message"`
	Error      string          `json:"error,omitempty"`
	Counts     *indexer.Counts `json:"counts,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (j Job) clone() Job {
	j.Folders = append([]string(nil), j.Folders...)
	if j.Counts != nil {
		c := *j.Counts
		j.Counts = &c
	}
	return j
}
