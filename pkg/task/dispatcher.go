package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/lg"
	"github.com/google/uuid"
)

// Report is the aggregated outcome of one dispatch.
type Report struct {
	ID         uuid.UUID         `json:"exuid"`
	Task       string            `json:"task"`
	Skipped    bool              `json:"skipped"`
	Hosts      []string          `json:"hosts"`
	Results    []executor.Result `json:"results"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// OK reports whether the body completed and every host succeeded.
func (r *Report) OK() bool {
	return r.Error == "" && len(executor.Failed(r.Results)) == 0
}

func (r *Report) Failed() []executor.Result { return executor.Failed(r.Results) }

func (r *Report) Fallbacks() int {
	n := 0
	for _, res := range r.Results {
		if res.FallbackUsed {
			n++
		}
	}
	return n
}

// Observer is told about every dispatch, successful or not. report is nil
// when the dispatch failed before running anything.
type Observer interface {
	ObserveDispatch(key Key, report *Report, err error)
}

type execIDKey struct{}

// WithExecutionID makes the next dispatch with ctx use id as its report id.
func WithExecutionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, execIDKey{}, id)
}

func executionID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(execIDKey{}).(uuid.UUID); ok && id != uuid.Nil {
		return id
	}
	return uuid.New()
}

type Dispatcher struct {
	registry *Registry
	runner   executor.Runner
	logger   lg.Logger
	observer Observer

	// Timeout bounds a whole dispatch, none if zero.
	Timeout time.Duration
}

func NewDispatcher(registry *Registry, runner executor.Runner, logger lg.Logger) *Dispatcher {
	if logger == nil {
		logger = lg.Discard
	}
	return &Dispatcher{registry: registry, runner: runner, logger: logger}
}

func (d *Dispatcher) SetObserver(o Observer) { d.observer = o }

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs the task registered under key against the hosts it applies to.
//
// state must not be nil. Unknown tasks, a nil state, predicate errors and an
// empty host set fail before anything runs and return a nil report. Per-host failures are in the report; the
// dispatcher does not turn them into an error. A failing body returns the
// report collected so far along with an ErrBodyFailed error.
func (d *Dispatcher) Dispatch(ctx context.Context, key Key, hosts []inventory.Host, state State) (*Report, error) {
	report, err := d.dispatch(ctx, key, hosts, state)
	if d.observer != nil {
		d.observer.ObserveDispatch(key, report, err)
	}
	return report, err
}

func (d *Dispatcher) dispatch(ctx context.Context, key Key, hosts []inventory.Host, state State) (*Report, error) {
	logger := d.logger.With(lg.String("task", key.String()))

	def, ok := d.registry.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if state == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNoState)
	}

	excluded, err := def.Except.Eval(state.Facts())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	report := &Report{
		ID:        executionID(ctx),
		Task:      key.String(),
		Hosts:     []string{},
		Results:   []executor.Result{},
		StartedAt: time.Now(),
	}
	logger = logger.With(lg.String("exuid", report.ID.String()))

	if excluded {
		report.Skipped = true
		report.FinishedAt = report.StartedAt
		logger.Info("task skipped", lg.String("except", def.Except.String()))
		return report, nil
	}

	targets := inventory.Filter(hosts, def.Roles)
	if len(targets) == 0 && !def.zeroHostTolerant() {
		return nil, fmt.Errorf("%w: %s roles %v", ErrNoMatchingHosts, key, def.Roles)
	}
	report.Hosts = inventory.Addresses(targets)

	if def.Empty() {
		report.FinishedAt = time.Now()
		logger.Debug("empty task", lg.Int("hosts", len(targets)))
		return report, nil
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	inv := &Invocation{Key: key, Hosts: targets, State: state, runner: d.runner}
	logger.Info("task started", lg.Strings("hosts", report.Hosts))
	bodyErr := runBody(ctx, def.Body, inv)

	report.Results = inv.Results()
	report.FinishedAt = time.Now()

	failed := report.Failed()
	logger.Info("task finished",
		lg.Int("results", len(report.Results)),
		lg.Int("failed", len(failed)),
		lg.Int("fallbacks", report.Fallbacks()),
		lg.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	for _, f := range failed {
		logger.Warn("host failed", lg.String("host", f.Host), lg.String("status", string(f.Status)), lg.Err(f.Err))
	}

	if bodyErr != nil {
		report.Error = bodyErr.Error()
		logger.Error("task body failed", lg.Err(bodyErr))
		return report, bodyErr
	}
	return report, nil
}

// runBody calls the body, turning a panic into an error.
func runBody(ctx context.Context, body Body, inv *Invocation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrBodyFailed, inv.Key, p)
		}
	}()
	if err := body(ctx, inv); err != nil {
		if errors.Is(err, ErrBodyFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrBodyFailed, inv.Key, err)
	}
	return nil
}
