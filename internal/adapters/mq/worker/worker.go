// Package worker runs queued invoice analyses.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/invoicerisk/internal/domain/model"
	"github.com/okian/invoicerisk/internal/domain/types"
	"github.com/okian/invoicerisk/pkg/logger"
	"github.com/okian/invoicerisk/pkg/metrics"
)

const (
	defaultJobTimeout   = 30 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Analyzer scores an invoice and compares it to market rates.
type Analyzer interface {
	Analyze(ctx context.Context, practiceArea string, items []model.LineItem) (types.Analysis, error)
}

// Recorder receives job state transitions.
type Recorder interface {
	Start(id string)
	Complete(id string, a types.Analysis)
	Fail(id string, err error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue() <-chan model.Job
}

var errPanic = errors.New("analysis panicked")

// InMemoryWorker drains jobs from a queue until it is closed or stopped.
type InMemoryWorker struct {
	queue    Queue
	analyzer Analyzer
	recorder Recorder
	settings settings

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, a Analyzer, r Recorder, opts ...Option) *InMemoryWorker {
	s := newSettings(opts)
	s.logger = s.logger.Named(s.name)
	return &InMemoryWorker{
		queue:    q,
		analyzer: a,
		recorder: r,
		settings: s,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run processes jobs until ctx ends, Shutdown is called or the queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.settings.logger.Warn(ctx, "analysis job failed",
					logger.String("jobID", job.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker after the job in hand and waits for it.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s shutdown: %w", w.settings.name, ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job model.Job) (err error) {
	start := time.Now()
	w.recorder.Start(job.ID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
		metrics.RecordJobLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.RecordJobProcessed("failure")
			metrics.RecordErrorByComponent("worker", "analysis_error")
			w.recorder.Fail(job.ID, err)
			return
		}
		metrics.RecordJobProcessed("success")
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.settings.jobTimeout)
	defer cancel()

	analysis, err := w.analyzer.Analyze(jobCtx, job.PracticeArea, job.Items)
	if err != nil {
		return fmt.Errorf("analyze job %s: %w", job.ID, err)
	}
	w.recorder.Complete(job.ID, analysis)
	return nil
}

// Pool manages a fixed set of workers on one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
	wg      sync.WaitGroup
}

// NewPool creates count workers. A count < 1 uses runtime.NumCPU().
func NewPool(count int, q Queue, a Analyzer, r Recorder, opts ...Option) *Pool {
	if count < 1 {
		count = runtime.NumCPU()
	}
	s := newSettings(opts)
	p := &Pool{
		workers: make([]*InMemoryWorker, count),
		queue:   q,
		logger:  s.logger.Named("pool"),
	}
	for i := range p.workers {
		wopts := append(append([]Option{}, opts...), WithName(s.name+"-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, a, r, wopts...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start runs every worker in its own goroutine.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	metrics.UpdateActiveWorkers(len(p.workers))
}

// Shutdown closes the queue so workers drain what is left, then waits for
// them. Workers still busy when ctx (bounded to 30s) ends are told to stop.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "workers did not drain in time, stopping them")
		for _, w := range p.workers {
			w.shutdownOnce.Do(func() { close(w.shutdown) })
		}
		err = fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	metrics.UpdateActiveWorkers(0)
	return err
}
