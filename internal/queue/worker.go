package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"civicsync/internal/fault"
)

// Handler processes one job. Returning an error re-schedules the job with
// backoff until its attempts are exhausted. Handlers must be idempotent: the
// same job can run more than once.
type Handler func(ctx context.Context, job *Job) error

// Soft deadlines per queue. Expiry cancels the handler context; the job is
// retried like any other failure. There is no hard kill.
var queueDeadlines = map[string]time.Duration{
	QueueIngest:    5 * time.Minute,
	QueueNormalize: 30 * time.Second,
	QueueMetrics:   60 * time.Second,
	QueueFeed:      30 * time.Second,
}

// Pool runs one named queue with a fixed concurrency. Each worker goroutine
// processes one job at a time to completion.
type Pool struct {
	client      *Client
	queueName   string
	concurrency int
	handlers    map[string]Handler
	opts        Options
	mu          sync.RWMutex
}

func NewPool(client *Client, queueName string, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		client:      client,
		queueName:   queueName,
		concurrency: concurrency,
		handlers:    make(map[string]Handler),
		opts:        (*Options)(nil).withDefaults(),
	}
}

// Register binds a job name to its handler. Must be called before Start.
func (p *Pool) Register(jobName string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobName] = h
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	log.Printf("[queue:%s] starting pool (concurrency=%d)", p.queueName, p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runLoop(ctx, worker)
		}(i)
	}
}

func (p *Pool) runLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			log.Printf("[queue:%s] worker %d stopping", p.queueName, worker)
			return
		}

		if err := p.client.promoteDue(ctx, p.queueName); err != nil && ctx.Err() == nil {
			log.Printf("[queue:%s] promote error: %v", p.queueName, err)
		}

		job, err := p.client.pop(ctx, p.queueName, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[queue:%s] pop error: %v", p.queueName, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job *Job) {
	p.mu.RLock()
	handler, ok := p.handlers[job.Name]
	p.mu.RUnlock()

	if !ok {
		p.failJob(ctx, job, fmt.Errorf("no handler registered for %q", job.Name))
		return
	}

	deadline := queueDeadlines[p.queueName]
	if deadline == 0 {
		deadline = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	err := handler(jobCtx, job)
	if err != nil {
		log.Printf("[queue:%s] job %s (%s, attempt %d/%d) failed after %s: %v",
			p.queueName, job.Name, job.ID, job.Attempt+1, job.MaxAttempts, time.Since(start).Round(time.Millisecond), err)
		p.failJob(ctx, job, err)
		return
	}

	if err := p.client.complete(ctx, job, p.opts.RemoveOnComplete); err != nil && ctx.Err() == nil {
		log.Printf("[queue:%s] complete bookkeeping failed for %s: %v", p.queueName, job.ID, err)
	}
}

// failJob routes a handler failure. Only transient faults re-enter backoff;
// schema, auth and not-found failures dead-letter immediately since replaying
// them cannot change the outcome. Bookkeeping must survive job-context
// expiry, so it runs on the pool ctx.
func (p *Pool) failJob(ctx context.Context, job *Job, cause error) {
	if !fault.Retryable(cause) {
		job.Attempt++
		job.LastError = cause.Error()
		if err := p.client.deadLetter(ctx, job, p.opts.RemoveOnFail); err != nil && ctx.Err() == nil {
			log.Printf("[queue:%s] dead-letter bookkeeping failed for %s: %v", p.queueName, job.ID, err)
		}
		return
	}
	if err := p.client.retry(ctx, job, cause, p.opts.RemoveOnFail); err != nil && ctx.Err() == nil {
		log.Printf("[queue:%s] retry bookkeeping failed for %s: %v", p.queueName, job.ID, err)
	}
}
