package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/lg"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 7
	probeCommand       = "true"
)

type Config struct {
	Concurrency int           // max hosts in flight, DefaultConcurrency if <= 0
	Timeout     time.Duration // whole batch, none if zero
	Elevator    Elevator
}

// Executor runs one command on many hosts, each host independently.
type Executor struct {
	transport Transport
	cfg       Config
	caps      *capabilities
	logger    lg.Logger
}

var _ Runner = (*Executor)(nil)

func New(transport Transport, cfg Config, logger lg.Logger) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = lg.Discard
	}
	return &Executor{
		transport: transport,
		cfg:       cfg,
		caps:      newCapabilities(),
		logger:    logger,
	}
}

// Run executes command unprivileged on every host.
func (e *Executor) Run(ctx context.Context, command string, hosts []inventory.Host) []Result {
	results := make([]Result, len(hosts))
	e.fanOut(ctx, hosts, func(ctx context.Context, i int, h inventory.Host) {
		results[i] = e.exec(ctx, h, command, command)
	}, func(i int, h inventory.Host, err error) {
		results[i] = timedOut(h, command, err)
	})
	return results
}

// RunPrivileged executes command elevated on every host, falling back to an
// unprivileged run where elevation is unavailable or refused. A host with no
// known capability is checked with an elevated no-op first, so the command
// itself runs exactly once per host and its own failures never cause a
// fallback.
func (e *Executor) RunPrivileged(ctx context.Context, command string, hosts []inventory.Host) []Result {
	results := make([]Result, len(hosts))
	e.fanOut(ctx, hosts, func(ctx context.Context, i int, h inventory.Host) {
		results[i] = e.runPrivileged(ctx, h, command)
	}, func(i int, h inventory.Host, err error) {
		results[i] = timedOut(h, command, err)
	})
	return results
}

// Probe resolves the elevation capability of hosts that do not declare one and
// returns the hosts with the flag filled in. Unreachable hosts stay unknown.
func (e *Executor) Probe(ctx context.Context, hosts []inventory.Host) []inventory.Host {
	out := make([]inventory.Host, len(hosts))
	copy(out, hosts)
	e.fanOut(ctx, hosts, func(ctx context.Context, i int, h inventory.Host) {
		capability, err := e.resolve(ctx, h)
		if err != nil {
			e.logger.Debug("elevation probe failed", lg.String("host", h.Address), lg.Err(err))
			return
		}
		out[i].Elevation = capability
	}, func(int, inventory.Host, error) {})
	return out
}

// resolve returns what is known about elevation on h and runs the elevated
// no-op when nothing is. Any non-zero exit of the no-op means the prefix
// refused, whatever it printed.
func (e *Executor) resolve(ctx context.Context, h inventory.Host) (inventory.Elevation, error) {
	if cached := e.caps.get(h); cached != inventory.ElevationUnknown {
		return cached, nil
	}
	out, err := e.transport.Exec(ctx, h, e.cfg.Elevator.Wrap(probeCommand))
	if err != nil {
		return inventory.ElevationUnknown, err
	}
	capability := inventory.ElevationAvailable
	if out.ExitStatus != 0 {
		capability = inventory.ElevationUnavailable
		e.logger.Warn("elevation refused, running unprivileged",
			lg.String("host", h.Address), lg.Err(ErrElevationUnavailable),
			lg.Int("exit_status", out.ExitStatus), lg.Strings("stderr", out.Stderr))
	}
	e.caps.set(h, capability)
	return capability, nil
}

func (e *Executor) runPrivileged(ctx context.Context, h inventory.Host, command string) Result {
	capability, err := e.resolve(ctx, h)
	if err != nil {
		return classify(ctx, h, command, Output{}, err, 0)
	}
	if capability == inventory.ElevationUnavailable {
		res := e.exec(ctx, h, command, command)
		res.FallbackUsed = true
		return res
	}
	res := e.exec(ctx, h, command, e.cfg.Elevator.Wrap(command))
	res.Elevated = res.Status == StatusOK || res.Status == StatusCommandFailed
	return res
}

func (e *Executor) exec(ctx context.Context, h inventory.Host, label, command string) Result {
	start := time.Now()
	out, err := e.transport.Exec(ctx, h, command)
	return classify(ctx, h, label, out, err, time.Since(start))
}

func classify(ctx context.Context, h inventory.Host, command string, out Output, err error, took time.Duration) Result {
	res := Result{
		Host:       h.Address,
		Command:    command,
		ExitStatus: out.ExitStatus,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		Duration:   took,
	}
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		res.Status = StatusTimedOut
		res.Err = fmt.Errorf("%w: %v", ErrTimedOut, err)
	case err != nil && errors.Is(err, ErrHostUnreachable):
		res.Status = StatusUnreachable
		res.Err = err
	case err != nil:
		res.Status = StatusUnreachable
		res.Err = fmt.Errorf("%w: %v", ErrHostUnreachable, err)
	case out.ExitStatus != 0:
		res.Status = StatusCommandFailed
		res.Err = fmt.Errorf("%w: exit status %d", ErrCommandFailed, out.ExitStatus)
	default:
		res.Status = StatusOK
	}
	return res
}

func timedOut(h inventory.Host, command string, cause error) Result {
	return Result{
		Host:    h.Address,
		Command: command,
		Status:  StatusTimedOut,
		Err:     fmt.Errorf("%w: %v", ErrTimedOut, cause),
	}
}

// fanOut calls work for every host with at most cfg.Concurrency in flight.
// Hosts whose turn comes after the context is done get skipped instead.
// Each index is written by exactly one goroutine.
func (e *Executor) fanOut(ctx context.Context, hosts []inventory.Host,
	work func(ctx context.Context, i int, h inventory.Host),
	skipped func(i int, h inventory.Host, err error)) {

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, h := range hosts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				skipped(i, h, err)
				return nil
			}
			work(ctx, i, h)
			return nil
		})
	}
	_ = g.Wait()
}
