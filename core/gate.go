package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	gateJobQueued int32 = iota
	gateJobExecuting
	gateJobAbandoned
)

type gateJob struct {
	ctx  context.Context
	run  func(context.Context)
	skip func()

	state atomic.Int32
	done  chan struct{}
}

func newGateJob(ctx context.Context, run func(context.Context), skip func()) *gateJob {
	return &gateJob{ctx: ctx, run: run, skip: skip, done: make(chan struct{})}
}

// abandon removes a job that has not started yet from consideration. It
// reports false if the job is already executing.
func (j *gateJob) abandon() bool {
	return j.state.CompareAndSwap(gateJobQueued, gateJobAbandoned)
}

// replyGate admits one job at a time, in the order jobs were enqueued.
//
// Enqueueing never blocks: jobs are appended to an unbounded queue and a
// single worker drains it. The worker is the only place jobs run, so two
// jobs can never execute concurrently.
type replyGate struct {
	mu     sync.Mutex
	queue  []*gateJob
	closed bool

	wake    chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	executing atomic.Bool
}

func newReplyGate() *replyGate {
	return &replyGate{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// enqueue adds a job behind every job enqueued before it. It reports false
// once the gate is closed.
func (g *replyGate) enqueue(job *gateJob) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.queue = append(g.queue, job)
	g.mu.Unlock()

	g.startOnce.Do(func() { go g.work() })

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return true
}

// queued reports how many jobs are waiting behind the one executing.
func (g *replyGate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *replyGate) busy() bool {
	return g.executing.Load()
}

func (g *replyGate) pop() *gateJob {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) == 0 {
		return nil
	}
	job := g.queue[0]
	g.queue[0] = nil
	g.queue = g.queue[1:]
	return job
}

func (g *replyGate) work() {
	defer close(g.done)

	for {
		for job := g.pop(); job != nil; job = g.pop() {
			g.execute(job)
		}

		select {
		case <-g.wake:
		case <-g.closeCh:
			// Jobs enqueued before close still run, their contexts decide
			// how quickly they return.
			for job := g.pop(); job != nil; job = g.pop() {
				g.execute(job)
			}
			return
		}
	}
}

func (g *replyGate) execute(job *gateJob) {
	defer close(job.done)

	if !job.state.CompareAndSwap(gateJobQueued, gateJobExecuting) {
		if job.skip != nil {
			job.skip()
		}
		return
	}

	g.executing.Store(true)
	defer g.executing.Store(false)
	job.run(job.ctx)
}

// close stops accepting jobs and waits until the queued ones are drained.
func (g *replyGate) close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		close(g.closeCh)
		// Make sure the worker exists so done is always closed.
		g.startOnce.Do(func() { go g.work() })
	})
	<-g.done
}
