package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// JobKind enumerates the background job definitions a requester can submit.
type JobKind string

const (
	JobKindThumbnail JobKind = "thumbnail_generation"
	JobKindContent   JobKind = "content_generation"
)

// Event names emitted into the workflow engine, one per job kind.
const (
	EventGenerateThumbnail = "ai/generate-thumbnail"
	EventGenerateContent   = "ai/generate-content"
)

// EventName returns the engine event that triggers the job kind.
func (k JobKind) EventName() string {
	switch k {
	case JobKindThumbnail:
		return EventGenerateThumbnail
	case JobKindContent:
		return EventGenerateContent
	default:
		return ""
	}
}

// ParseJobKind accepts the canonical kind or its short form ("thumbnail", "content").
func ParseJobKind(raw string) (JobKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(JobKindThumbnail), "thumbnail":
		return JobKindThumbnail, true
	case string(JobKindContent), "content":
		return JobKindContent, true
	default:
		return "", false
	}
}

// RunStatus enumerates JobRun lifecycle states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "Running"
	RunStatusCompleted RunStatus = "Completed"
	RunStatusFailed    RunStatus = "Failed"
	RunStatusCancelled RunStatus = "Cancelled"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus enumerates StepRecord lifecycle states.
type StepStatus string

const (
	StepStatusPending   StepStatus = "Pending"
	StepStatusSucceeded StepStatus = "Succeeded"
	StepStatusFailed    StepStatus = "Failed"
)

// Attachment is a binary upload carried by a JobRequest.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
}

// JobRequest identifies the work to perform. It is immutable once dispatched.
type JobRequest struct {
	Kind              JobKind
	RequesterIdentity string
	Plan              string
	Locale            string
	// Content is the free-text input: the thumbnail description or the content topic.
	Content        string
	ReferenceImage *Attachment
	FaceImage      *Attachment
}

// RunHandle correlates a dispatched job with later status queries.
type RunHandle struct {
	RunID string `json:"runId"`
}

// StepRecord is the unit of work inside a run.
type StepRecord struct {
	Name      string          `json:"name"`
	Status    StepStatus      `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempt   int             `json:"attempt"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobRun is the aggregate execution state of one JobRequest.
type JobRun struct {
	RunID     string          `json:"run_id"`
	Function  string          `json:"function"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"-"`
	Status    RunStatus       `json:"status"`
	Steps     []StepRecord    `json:"steps"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Step returns the named step record, if the run reached it.
func (r *JobRun) Step(name string) (StepRecord, bool) {
	if r == nil {
		return StepRecord{}, false
	}
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}
