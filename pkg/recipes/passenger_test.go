package recipes

import (
	"context"
	"sync"
	"testing"

	"github.com/andrej220/capstan/pkg/deploy"
	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string][]string
}

func (r *recorder) Exec(_ context.Context, h inventory.Host, cmd string) (executor.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string][]string)
	}
	r.calls[h.Address] = append(r.calls[h.Address], cmd)
	return executor.Output{}, nil
}

func newDispatcher(t *testing.T, names ...string) (*task.Dispatcher, *recorder) {
	t.Helper()
	reg := task.NewRegistry()
	require.NoError(t, Apply(reg, names...))
	rec := &recorder{}
	return task.NewDispatcher(reg, executor.New(rec, executor.Config{}, nil), nil), rec
}

var cluster = []inventory.Host{
	{Address: "h1", Roles: []string{"app"}},
	{Address: "h2", Roles: []string{"db"}},
}

func TestPassengerStartIsSkippedWithoutRelease(t *testing.T) {
	d, rec := newDispatcher(t, "passenger")
	noRelease := deploy.State{DeployTo: "/srv/shop"}

	for _, ev := range []string{"start", "stop", "status"} {
		rep, err := d.Dispatch(context.Background(), task.NewKey(Namespace, ev), cluster, noRelease)
		require.NoError(t, err, ev)
		assert.True(t, rep.OK())
		assert.Empty(t, rep.Results)
	}
	assert.Empty(t, rec.calls)
}

func TestPassengerLifecycleHooksAreEmpty(t *testing.T) {
	d, rec := newDispatcher(t, "default", "passenger")
	state := deploy.State{DeployTo: "/srv/shop", CurrentRelease: "20261017120000"}

	for _, ev := range []string{"start", "stop", "status"} {
		rep, err := d.Dispatch(context.Background(), task.NewKey(Namespace, ev), cluster, state)
		require.NoError(t, err, ev)
		assert.False(t, rep.Skipped)
		assert.Equal(t, []string{"h1"}, rep.Hosts)
		assert.Empty(t, rep.Results)
	}
	assert.Empty(t, rec.calls, "passenger overrides the default scripts")
}

func TestPassengerRestartTouchesOnlyAppHosts(t *testing.T) {
	d, rec := newDispatcher(t, "default", "passenger")
	state := deploy.State{DeployTo: "/srv/shop", CurrentRelease: "20261017120000"}

	rep, err := d.Dispatch(context.Background(), task.NewKey(Namespace, "restart"), cluster, state)

	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "h1", rep.Results[0].Host)
	assert.True(t, rep.Results[0].Elevated)
	assert.Equal(t, "touch /srv/shop/current/tmp/restart.txt", rep.Results[0].Command)
	assert.Equal(t, []string{
		"sudo -n -- sh -c 'true'",
		"sudo -n -- sh -c 'touch /srv/shop/current/tmp/restart.txt'",
	}, rec.calls["h1"])
	assert.NotContains(t, rec.calls, "h2")
}

func TestDefaultRecipeRunsScripts(t *testing.T) {
	d, rec := newDispatcher(t, "default")
	state := deploy.State{DeployTo: "/srv/shop", CurrentRelease: "1"}

	rep, err := d.Dispatch(context.Background(), task.NewKey(Namespace, "restart"), cluster, state)
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "sh /srv/shop/current/script/process/reaper", rep.Results[0].Command)
	assert.Equal(t, []string{
		"sudo -n -- sh -c 'true'",
		"sudo -n -- sh -c 'sh /srv/shop/current/script/process/reaper'",
	}, rec.calls["h1"])
}

func TestUnknownRecipe(t *testing.T) {
	err := Apply(task.NewRegistry(), "default", "mongrel")
	assert.Error(t, err)
	assert.Equal(t, []string{"default", "passenger"}, Names())
}
