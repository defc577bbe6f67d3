package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Stage labels written alongside progress updates.
const (
	StageQueued     = "queued"
	StageClaimed    = "claimed"
	StageGenerating = "generating"
	StageRendering  = "rendering"
	StageStoring    = "storing"
	StageRetrying   = "retry_scheduled"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// Job is one request to render a prompt into a PDF document.
type Job struct {
	ID                string
	OwnerID           *string
	Prompt            string
	PromptHash        *string
	Tier              string
	ImageDigest       *string
	Status            JobStatus
	Attempts          int
	Progress          int
	Stage             string
	ErrorMessage      *string
	ResultRef         *string
	RegenerationCount int
	ParentJobID       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusQueued},
}

// CheckTransition returns ErrInvalidTransition unless from -> to is an edge
// of the job state machine.
func CheckTransition(from, to JobStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Reusable reports whether the job may stand in for an identical new request.
// Failed jobs never qualify so that a retry always creates new work.
func (j *Job) Reusable() bool {
	switch j.Status {
	case JobStatusQueued, JobStatusProcessing:
		return true
	case JobStatusCompleted:
		return j.ResultRef != nil
	}
	return false
}
