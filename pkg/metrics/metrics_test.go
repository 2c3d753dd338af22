package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDispatch(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())
	key := task.NewKey("deploy", "restart")
	now := time.Now()

	m.ObserveDispatch(key, &task.Report{
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Results: []executor.Result{
			{Host: "a", Status: executor.StatusOK, FallbackUsed: true},
			{Host: "b", Status: executor.StatusCommandFailed},
		},
	}, nil)
	m.ObserveDispatch(key, &task.Report{Skipped: true}, nil)
	m.ObserveDispatch(task.NewKey("deploy", "migrate"), nil, task.ErrUnknownTask)
	m.ObserveDispatch(task.NewKey("x", "y"), nil, fmt.Errorf("%w: x:y", task.ErrUnknownTask))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("deploy:restart", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("deploy:restart", "skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatches.WithLabelValues("unknown", "unknown_task")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.dispatches), "unknown keys share one series")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hosts.WithLabelValues("deploy:restart", "command_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("deploy:restart")))
}

func TestMustNewPanicsOnDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNew(reg)
	assert.Panics(t, func() { MustNew(reg) })
}
