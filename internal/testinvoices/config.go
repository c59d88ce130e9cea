// Package testinvoices drives a running service with synthetic invoices
// through the asynchronous job API and checks the results it returns.
package testinvoices

import (
	"time"

	"github.com/okian/invoicerisk/internal/domain/jobs"
	"github.com/okian/invoicerisk/internal/domain/types"
)

// Config holds configuration for an invoice run.
type Config struct {
	BaseURL         string        // Base URL of the service
	NumInvoices     int           // Number of invoices to submit
	LinesPerInvoice int           // Line items per invoice
	AnomalyRate     float64       // Share of lines made deliberately suspicious
	Workers         int           // Number of concurrent submitters
	Timeout         time.Duration // HTTP request timeout
	PollInterval    time.Duration // Delay between job status polls
	WaitTimeout     time.Duration // Upper bound on waiting for jobs to finish
	Seed            uint64        // Generator seed; runs with equal seeds are identical
	OutputFile      string        // Optional JSON dump of the generated invoices
	Verbose         bool
}

// Invoice is one generated submission.
type Invoice = types.JobRequest

// JobAck is the response to a submission.
type JobAck struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// JobRecord is the job as reported by the service.
type JobRecord = jobs.Record

// Stats holds run statistics.
type Stats struct {
	InvoicesGenerated int
	LinesGenerated    int
	Submitted         int
	Accepted          int
	Duplicate         int
	Throttled         int
	Failed            int
	Completed         int
	JobsFailed        int
	LinesFlagged      int
	Violations        int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
