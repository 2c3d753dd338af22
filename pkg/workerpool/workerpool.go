package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andrej220/capstan/pkg/lg"
)

const TotalMaxWorkers = 10

var ErrPoolStopped = errors.New("worker pool is shutting down")

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs submitted jobs with at most maxWorkers in flight. Jobs are never
// retried: a dispatch must not run its commands twice.
type Pool[T any] struct {
	Jobs          chan Job[T]
	activeWorkers int32
	slots         chan struct{}
	wg            sync.WaitGroup
	quit          chan struct{}
	done          chan struct{} // closed when dispatch returns
	stopOnce      sync.Once
	maxWorkers    int

	mu         sync.Mutex // orders Submit against close(quit)
	submitting sync.WaitGroup
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	pool := &Pool[T]{
		Jobs:       make(chan Job[T], maxWorkers),
		slots:      make(chan struct{}, maxWorkers),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		maxWorkers: maxWorkers,
	}
	go pool.dispatch()
	return pool
}

// Stop rejects new jobs and waits for running ones to finish. Jobs still
// queued are dropped and their CleanupFunc runs.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.quit)
		p.mu.Unlock()
		p.submitting.Wait()
		<-p.done
		p.drain()
		p.wg.Wait()
	})
}

func (p *Pool[T]) Submit(job Job[T]) error {
	logger := lg.FromContext(job.Ctx)
	p.mu.Lock()
	select {
	case <-p.quit:
		p.mu.Unlock()
		logger.Info("Worker pool is shutting down, job rejected")
		return ErrPoolStopped
	default:
	}
	p.submitting.Add(1)
	p.mu.Unlock()
	defer p.submitting.Done()

	select {
	case p.Jobs <- job:
		logger.Debug("Job submitted", lg.Any("job", job.Payload))
		return nil
	case <-p.quit:
		logger.Info("Worker pool is shutting down, job rejected")
		return ErrPoolStopped
	}
}

func (p *Pool[T]) dispatch() {
	defer close(p.done)
	for {
		select {
		case job := <-p.Jobs:
			select {
			case p.slots <- struct{}{}:
			case <-p.quit:
				p.reject(job)
				return
			}
			p.wg.Add(1)
			atomic.AddInt32(&p.activeWorkers, 1)
			go p.worker(job)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool[T]) drain() {
	for {
		select {
		case job := <-p.Jobs:
			p.reject(job)
		default:
			return
		}
	}
}

func (p *Pool[T]) reject(job Job[T]) {
	lg.FromContext(job.Ctx).Info("Worker pool is shutting down, queued job dropped")
	if job.CleanupFunc != nil {
		job.CleanupFunc()
	}
}

func (p *Pool[T]) worker(job Job[T]) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer func() {
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger := lg.FromContext(job.Ctx).With(lg.Any("job", job.Payload))
	logger.Debug("Worker started", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))

	if err := job.Ctx.Err(); err != nil {
		logger.Info("Job canceled before start", lg.Err(err))
		return
	}
	if err := job.Fn(job.Ctx, job.Payload); err != nil {
		logger.Error("Worker error", lg.Err(err))
		return
	}
	logger.Debug("Worker finished", lg.Int32("workers", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}
