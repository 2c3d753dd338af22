package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrej220/capstan/pkg/lg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctx() context.Context { return lg.Attach(context.Background(), lg.Discard) }

func TestPoolRunsEveryJobOnce(t *testing.T) {
	p := NewPool[int](3)
	var wg sync.WaitGroup
	var calls, cleanups int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(Job[int]{
			Payload: i,
			Ctx:     ctx(),
			Fn: func(context.Context, int) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
			CleanupFunc: func() {
				atomic.AddInt32(&cleanups, 1)
				wg.Done()
			},
		})
		require.NoError(t, err)
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(10), atomic.LoadInt32(&cleanups))
	assert.Equal(t, int32(0), p.ActiveWorkers())
}

func TestPoolBoundsWorkers(t *testing.T) {
	p := NewPool[int](2)
	defer p.Stop()
	var inFlight, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(Job[int]{
			Payload: i,
			Ctx:     ctx(),
			Fn: func(context.Context, int) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			},
			CleanupFunc: wg.Done,
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCanceledJobIsNotRun(t *testing.T) {
	p := NewPool[string](1)
	defer p.Stop()
	c, cancel := context.WithCancel(ctx())
	cancel()
	done := make(chan struct{})
	ran := false

	require.NoError(t, p.Submit(Job[string]{
		Payload:     "late",
		Ctx:         c,
		Fn:          func(context.Context, string) error { ran = true; return nil },
		CleanupFunc: func() { close(done) },
	}))
	<-done
	assert.False(t, ran)
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool[int](1)
	p.Stop()
	p.Stop()
	err := p.Submit(Job[int]{Payload: 1, Ctx: ctx(), Fn: func(context.Context, int) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestStopDropsQueuedJobs(t *testing.T) {
	p := NewPool[string](1)
	started, release := make(chan struct{}), make(chan struct{})
	var ran, cleanups int32
	job := func(name string) Job[string] {
		return Job[string]{
			Payload: name,
			Ctx:     ctx(),
			Fn: func(_ context.Context, name string) error {
				atomic.AddInt32(&ran, 1)
				if name == "running" {
					close(started)
					<-release
				}
				return nil
			},
			CleanupFunc: func() { atomic.AddInt32(&cleanups, 1) },
		}
	}

	require.NoError(t, p.Submit(job("running")))
	<-started
	require.NoError(t, p.Submit(job("waiting-for-slot")))
	require.NoError(t, p.Submit(job("buffered")))

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&cleanups) == 2 },
		time.Second, 5*time.Millisecond, "queued jobs are dropped while one still runs")
	close(release)
	<-stopped

	assert.Equal(t, int32(3), atomic.LoadInt32(&cleanups))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.ErrorIs(t, p.Submit(job("late")), ErrPoolStopped)
}
