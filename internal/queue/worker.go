// Package queue contains the worker pools feeding the pipeline: the
// separation pool, the persistent download queue, and the folder batch
// manager.
package queue

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/EdisAganovic/musicremoval/internal/jobs"
	"github.com/EdisAganovic/musicremoval/internal/pipeline"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// submission pairs a created job with its run options.
type submission struct {
	job  *jobs.Job
	ctx  context.Context
	opts pipeline.Options
}

// SeparationPool runs separation jobs on a bounded set of workers.
// Separators are RAM-heavy, so the default worker count is 1.
type SeparationPool struct {
	jobQueue    chan submission
	workerCount int
	pipeline    *pipeline.Pipeline
	manager     *jobs.Manager
}

// NewSeparationPool creates a pool over the shared pipeline.
func NewSeparationPool(workerCount int, pl *pipeline.Pipeline, manager *jobs.Manager) *SeparationPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &SeparationPool{
		jobQueue:    make(chan submission, 100),
		workerCount: workerCount,
		pipeline:    pl,
		manager:     manager,
	}
}

// Start launches the workers.
func (sp *SeparationPool) Start() {
	log.Printf("Starting separation pool with %d workers", sp.workerCount)
	for i := 0; i < sp.workerCount; i++ {
		go sp.worker(i)
	}
}

// Submit creates a queued separation job and returns its id without
// blocking on the pipeline.
func (sp *SeparationPool) Submit(input string, opts pipeline.Options) string {
	jobID := uuid.New().String()
	job := sp.manager.Create(jobID, types.KindSeparate, input, opts.Model)

	ctx, cancel := context.WithCancel(context.Background())
	sp.manager.BindCancel(jobID, cancel)

	sp.jobQueue <- submission{job: job, ctx: ctx, opts: opts}
	log.Printf("Separation job %s enqueued (model: %s, input: %s)", jobID, opts.Model, input)
	return jobID
}

// worker processes submissions from the queue.
func (sp *SeparationPool) worker(id int) {
	log.Printf("Separation worker %d started", id)

	for sub := range sp.jobQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %d: PANIC processing job %s: %v\n%s",
						id, sub.job.ID, r, string(debug.Stack()))
					sp.manager.Fail(sub.job.ID, fmt.Errorf("worker panic: %v", r))
				}
			}()
			sp.processJob(id, sub)
		}()
	}
}

func (sp *SeparationPool) processJob(workerID int, sub submission) {
	// Cancelled while still queued: nothing to do.
	if err := sub.ctx.Err(); err != nil {
		return
	}

	log.Printf("Worker %d: processing separation job %s", workerID, sub.job.ID)
	sp.manager.Start(sub.job.ID)

	if err := sp.pipeline.Run(sub.ctx, sub.job, sub.opts); err != nil {
		log.Printf("Worker %d: job %s failed: %v", workerID, sub.job.ID, err)
		sp.manager.Fail(sub.job.ID, err)
		return
	}
	log.Printf("Worker %d: job %s completed", workerID, sub.job.ID)
}
