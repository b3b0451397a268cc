package model

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions happen from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type SubStepStatus string

const (
	SubStepPending   SubStepStatus = "pending"
	SubStepRunning   SubStepStatus = "running"
	SubStepCompleted SubStepStatus = "completed"
)

// Names of the per-page ingestion sub-steps.
const (
	SubStepExtract = "Extracting & Chunking"
	SubStepEmbed   = "Generating Embeddings"
	SubStepUpsert  = "Upserting to Vector Store"
)

type SubStep struct {
	Name   string        `json:"name"`
	Status SubStepStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// PageSubSteps returns the fresh sub-step list for one page.
func PageSubSteps() []SubStep {
	return []SubStep{
		{Name: SubStepExtract, Status: SubStepPending},
		{Name: SubStepEmbed, Status: SubStepPending},
		{Name: SubStepUpsert, Status: SubStepPending},
	}
}

// Job is the progress record of one ingestion run.
type Job struct {
	ID           string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	MainProgress string    `json:"main_progress"`
	SubSteps     []SubStep `json:"sub_steps"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob creates a pending job.
func NewJob(id string) *Job {
	now := time.Now()
	return &Job{
		ID:           id,
		Status:       JobStatusPending,
		MainProgress: "Initializing...",
		SubSteps:     []SubStep{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy that can be handed out to pollers.
func (j *Job) Clone() *Job {
	c := *j
	c.SubSteps = make([]SubStep, len(j.SubSteps))
	copy(c.SubSteps, j.SubSteps)
	return &c
}
