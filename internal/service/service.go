// Package service runs dispatch requests for one deployment, from the HTTP
// API, from Kafka or from the command line, and keeps their reports.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/andrej220/capstan/pkg/deploy"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/lg"
	dm "github.com/andrej220/capstan/pkg/shared-models"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/andrej220/capstan/pkg/workerpool"
	"github.com/google/uuid"
)

const (
	DefaultJobTimeout = 30 * time.Minute
	recordTimeout     = 10 * time.Second
)

var ErrDuplicateExecution = errors.New("execution is already queued or running")

// Publisher sends a finished report somewhere, usually a Kafka topic.
type Publisher interface {
	Publish(ctx context.Context, key []byte, v any) error
}

// ReportStore keeps finished reports by execution id.
type ReportStore interface {
	Save(id uuid.UUID, report any) error
	Load(id uuid.UUID, out any) error
}

// RequestReader yields dispatch requests, usually from a Kafka topic.
type RequestReader interface {
	Read(ctx context.Context) (dm.Request, error)
}

type Options struct {
	Reports    ReportStore // nil keeps no reports
	Publisher  Publisher   // nil publishes nothing
	Workers    int
	JobTimeout time.Duration
	Logger     lg.Logger
}

type Service struct {
	dispatcher  *task.Dispatcher
	hosts       []inventory.Host
	state       deploy.State
	reports     ReportStore
	publisher   Publisher
	pool        *workerpool.Pool[dm.Request]
	cancelFuncs sync.Map
	jobTimeout  time.Duration
	logger      lg.Logger
}

func New(dispatcher *task.Dispatcher, hosts []inventory.Host, state deploy.State, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = lg.Discard
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	return &Service{
		dispatcher: dispatcher,
		hosts:      hosts,
		state:      state,
		reports:    opts.Reports,
		publisher:  opts.Publisher,
		pool:       workerpool.NewPool[dm.Request](opts.Workers),
		jobTimeout: opts.JobTimeout,
		logger:     opts.Logger,
	}
}

// Execute runs req to completion. The returned report is never nil; when the
// dispatch failed before running anything it only carries the error.
func (s *Service) Execute(ctx context.Context, req dm.Request) (*task.Report, error) {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	started := time.Now()

	key, err := task.ParseKey(req.Task)
	var report *task.Report
	if err == nil {
		report, err = s.dispatcher.Dispatch(task.WithExecutionID(ctx, req.ExecutionUID), key, s.hostsFor(req), s.stateFor(req))
	}
	if report == nil {
		report = &task.Report{
			ID:         req.ExecutionUID,
			Task:       req.Task,
			Hosts:      []string{},
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
	}
	s.record(ctx, report)
	return report, err
}

// Submit queues req on the worker pool and returns its execution id. Jobs
// outlive the caller's request but not parent.
func (s *Service) Submit(parent context.Context, req dm.Request) (uuid.UUID, error) {
	if _, err := task.ParseKey(req.Task); err != nil {
		return uuid.Nil, err
	}
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	id := req.ExecutionUID

	ctx, cancel := context.WithTimeout(lg.Attach(parent, s.logger.With(lg.String("exuid", id.String()))), s.jobTimeout)
	if _, loaded := s.cancelFuncs.LoadOrStore(id, cancel); loaded {
		cancel()
		return uuid.Nil, fmt.Errorf("%w: %s", ErrDuplicateExecution, id)
	}

	job := workerpool.Job[dm.Request]{
		Payload: req,
		Fn: func(ctx context.Context, r dm.Request) error {
			_, err := s.Execute(ctx, r)
			return err
		},
		Ctx:         ctx,
		CleanupFunc: func() { s.release(id) },
	}
	if err := s.pool.Submit(job); err != nil {
		s.release(id)
		return uuid.Nil, err
	}
	return id, nil
}

// Cancel stops a queued or running execution. Commands already started on a
// host are interrupted by closing their connection.
func (s *Service) Cancel(id uuid.UUID) bool {
	return s.release(id)
}

func (s *Service) release(id uuid.UUID) bool {
	cancel, ok := s.cancelFuncs.LoadAndDelete(id)
	if ok {
		cancel.(context.CancelFunc)()
	}
	return ok
}

// Consume submits every request read from r until ctx is done.
func (s *Service) Consume(ctx context.Context, r RequestReader) error {
	for {
		req, err := r.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Read request failed", lg.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		s.logger.Debug("Received request", lg.Any("request", req))
		if _, err := s.Submit(ctx, req); err != nil {
			if errors.Is(err, workerpool.ErrPoolStopped) {
				return nil
			}
			s.logger.Error("Request rejected", lg.String("task", req.Task), lg.Err(err))
		}
	}
}

// Stop waits for running jobs; queued ones are dropped.
func (s *Service) Stop() {
	s.pool.Stop()
}

func (s *Service) Definitions() []task.Definition {
	return s.dispatcher.Registry().Definitions()
}

func (s *Service) Report(id uuid.UUID, out any) error {
	if s.reports == nil {
		return errors.New("reports are not kept")
	}
	return s.reports.Load(id, out)
}

func (s *Service) hostsFor(req dm.Request) []inventory.Host {
	if len(req.Roles) == 0 {
		return s.hosts
	}
	return inventory.Filter(s.hosts, req.Roles)
}

func (s *Service) stateFor(req dm.Request) deploy.State {
	st := s.state
	st.Flags = maps.Clone(s.state.Flags)
	if st.Flags == nil {
		st.Flags = make(map[string]bool, len(req.Facts))
	}
	maps.Copy(st.Flags, req.Facts)
	if req.Release != "" {
		st.CurrentRelease = req.Release
	}
	return st
}

func (s *Service) record(ctx context.Context, report *task.Report) {
	// the job context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if s.reports != nil {
		if err := s.reports.Save(report.ID, report); err != nil {
			s.logger.Error("Save report failed", lg.String("exuid", report.ID.String()), lg.Err(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, []byte(report.ID.String()), report); err != nil {
			s.logger.Error("Publish report failed", lg.String("exuid", report.ID.String()), lg.Err(err))
		}
	}
}
