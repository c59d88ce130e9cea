package model

import "time"

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

// Job states. A job moves queued -> running -> done|failed.
const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Job is an invoice queued for asynchronous analysis.
type Job struct {
	ID           string
	PracticeArea string
	Items        []LineItem
	SubmittedAt  time.Time
}
