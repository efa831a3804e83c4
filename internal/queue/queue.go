// Package queue defines the asynchronous work queue capability consumed by
// the pipeline. The queue is always passed in explicitly; nothing in this
// module reaches for ambient queue state.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Job is one schedulable unit: a registered callable reference plus its
// string arguments.
type Job struct {
	Ref  string            `json:"ref"`
	Args map[string]string `json:"args,omitempty"`
}

// Queue accepts jobs for asynchronous execution on a named lane and reports
// lane occupancy.
type Queue interface {
	// Schedule enqueues the job on the given lane.
	Schedule(ctx context.Context, lane string, job Job) error
	// HasPendingOrRunning reports whether the lane has queued or in-flight work.
	HasPendingOrRunning(ctx context.Context, lane string) (bool, error)
}

// Dispatcher resolves and runs one job. The pipeline's callable registry
// satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// MemQueue is an in-process Queue for tests and dev environments. Jobs
// accumulate per lane until Drain runs them through the dispatcher, so tests
// control exactly when "asynchronous" work happens.
type MemQueue struct {
	mu         sync.Mutex
	dispatcher Dispatcher
	lanes      map[string][]Job
	running    int
}

// NewMemQueue creates an empty in-process queue.
func NewMemQueue(dispatcher Dispatcher) *MemQueue {
	return &MemQueue{
		dispatcher: dispatcher,
		lanes:      make(map[string][]Job),
	}
}

func (q *MemQueue) Schedule(ctx context.Context, lane string, job Job) error {
	if job.Ref == "" {
		return fmt.Errorf("job ref is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lanes[lane] = append(q.lanes[lane], job)
	return nil
}

func (q *MemQueue) HasPendingOrRunning(ctx context.Context, lane string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[lane]) > 0 || q.running > 0, nil
}

// Drain runs every queued job, including jobs scheduled while draining.
// The first dispatch error aborts the drain; remaining jobs stay queued.
func (q *MemQueue) Drain(ctx context.Context) error {
	for {
		job, lane, ok := q.pop()
		if !ok {
			return nil
		}
		err := q.dispatcher.Dispatch(ctx, job)
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
		if err != nil {
			return fmt.Errorf("job %s on lane %s: %w", job.Ref, lane, err)
		}
	}
}

// Pending reports the number of queued jobs on a lane.
func (q *MemQueue) Pending(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[lane])
}

func (q *MemQueue) pop() (Job, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for lane, jobs := range q.lanes {
		if len(jobs) == 0 {
			continue
		}
		job := jobs[0]
		q.lanes[lane] = jobs[1:]
		q.running++
		return job, lane, true
	}
	return Job{}, "", false
}
