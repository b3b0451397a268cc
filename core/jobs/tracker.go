package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
)

// Tracker keeps the progress records of ingestion jobs in memory.
// The registry holds at most capacity jobs, each for ttl after its last update.
type Tracker struct {
	mu   sync.Mutex
	jobs *expirable.LRU[string, *model.Job]
}

func NewTracker(capacity int, ttl time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Tracker{
		jobs: expirable.NewLRU[string, *model.Job](capacity, nil, ttl),
	}
}

// Create registers a new pending job and returns its id.
func (t *Tracker) Create() string {
	job := model.NewJob(uuid.New().String())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs.Add(job.ID, job)

	return job.ID
}

// Get returns a copy of the job.
func (t *Tracker) Get(id string) (*model.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs.Get(id)
	if !ok {
		return nil, helper.NewError("get job "+id, model.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// SetStatus updates the status of a job. An empty progress keeps the current
// progress text and nil sub-steps keep the current list, any other list
// replaces it. Unknown ids are ignored.
func (t *Tracker) SetStatus(id string, status model.JobStatus, progress string, subSteps []model.SubStep) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs.Peek(id)
	if !ok {
		return
	}

	job.Status = status
	if progress != "" {
		job.MainProgress = progress
	}
	if subSteps != nil {
		job.SubSteps = make([]model.SubStep, len(subSteps))
		copy(job.SubSteps, subSteps)
	}
	job.UpdatedAt = time.Now()
	t.jobs.Add(id, job)
}

// SetSubStep updates the first sub-step with the given name.
// Unknown ids and names are ignored.
func (t *Tracker) SetSubStep(id string, name string, status model.SubStepStatus, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs.Peek(id)
	if !ok {
		return
	}

	for i := range job.SubSteps {
		if job.SubSteps[i].Name == name {
			job.SubSteps[i].Status = status
			job.SubSteps[i].Detail = detail
			job.UpdatedAt = time.Now()
			t.jobs.Add(id, job)
			return
		}
	}
}

// List returns copies of all tracked jobs, oldest first.
func (t *Tracker) List() []*model.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := []*model.Job{}
	for _, id := range t.jobs.Keys() {
		if job, ok := t.jobs.Peek(id); ok {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs
}

func (t *Tracker) Len() int {
	return t.jobs.Len()
}
