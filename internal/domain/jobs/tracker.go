// Package jobs tracks the state and results of asynchronous invoice analyses.
package jobs

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
)

const defaultMaxJobs = 10000

// ErrNotFound is returned for unknown or evicted job ids.
var ErrNotFound = errors.New("job not found")

// Record is the externally visible state of one job.
type Record struct {
	ID           string          `json:"job_id"`
	Status       model.JobStatus `json:"status"`
	PracticeArea string          `json:"practice_area,omitempty"`
	LineCount    int             `json:"line_count"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Result       *types.Analysis `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxJobs bounds retained records; the oldest submission is dropped
// first. Values <= 0 are ignored.
func WithMaxJobs(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxJobs = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker keeps a bounded set of job records in submission order.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*list.Element
	order   *list.List
	maxJobs int
	now     func() time.Time
}

// NewTracker creates a tracker retaining up to 10000 jobs by default.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records: make(map[string]*list.Element),
		order:   list.New(),
		maxJobs: defaultMaxJobs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a queued job, replacing any record with the same id.
func (t *Tracker) Add(job model.Job) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.records[job.ID]; ok {
		t.order.Remove(el)
		delete(t.records, job.ID)
	}
	for len(t.records) >= t.maxJobs {
		front := t.order.Front()
		t.order.Remove(front)
		delete(t.records, front.Value.(*Record).ID)
	}

	submitted := job.SubmittedAt
	if submitted.IsZero() {
		submitted = t.now()
	}
	rec := &Record{
		ID:           job.ID,
		Status:       model.JobQueued,
		PracticeArea: job.PracticeArea,
		LineCount:    len(job.Items),
		SubmittedAt:  submitted,
	}
	t.records[job.ID] = t.order.PushBack(rec)
	return *rec
}

// Remove forgets a job, e.g. when the queue refused it.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.records[id]; ok {
		t.order.Remove(el)
		delete(t.records, id)
	}
}

// Start marks a job running.
func (t *Tracker) Start(id string) {
	t.update(id, func(r *Record) {
		now := t.now()
		r.Status = model.JobRunning
		r.StartedAt = &now
	})
}

// Complete stores the analysis of a finished job.
func (t *Tracker) Complete(id string, a types.Analysis) {
	t.update(id, func(r *Record) {
		now := t.now()
		r.Status = model.JobDone
		r.FinishedAt = &now
		r.Result = &a
		r.Error = ""
	})
}

// Fail records why a job could not be analysed.
func (t *Tracker) Fail(id string, err error) {
	t.update(id, func(r *Record) {
		now := t.now()
		r.Status = model.JobFailed
		r.FinishedAt = &now
		if err != nil {
			r.Error = err.Error()
		}
	})
}

func (t *Tracker) update(id string, fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.records[id]; ok {
		fn(el.Value.(*Record))
	}
}

// Get returns a copy of the job record.
func (t *Tracker) Get(id string) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	el, ok := t.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *el.Value.(*Record), nil
}

// Len returns the number of retained records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Counts returns the number of retained records per status.
func (t *Tracker) Counts() map[model.JobStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.JobStatus]int, 4)
	for _, el := range t.records {
		out[el.Value.(*Record).Status]++
	}
	return out
}
