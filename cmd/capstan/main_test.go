package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/andrej220/capstan/pkg/config"
	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/lg"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
application: shop
deploy_to: /srv/shop
current_release: "20261017120000"
ssh:
  user: deploy
  password: secret
  insecure_ignore_host_key: true
hosts:
  - {address: web1, roles: [app]}
  - {address: web2, roles: [app]}
  - {address: db1, roles: [db], elevation: unavailable}
recipes: [default, passenger]
tasks:
  - namespace: maintenance
    name: vacuum
    description: vacuum the database
    roles: [db]
    command: vacuumdb --all
    privileged: true
`

type recorder struct {
	mu    sync.Mutex
	calls map[string][]string
	fail  map[string]bool
}

func (r *recorder) exec(_ context.Context, h inventory.Host, command string) (executor.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string][]string)
	}
	r.calls[h.Address] = append(r.calls[h.Address], command)
	if r.fail[h.Address] {
		return executor.Output{ExitStatus: 1, Stderr: []string{"boom"}}, nil
	}
	return executor.Output{}, nil
}

func execute(t *testing.T, rec *recorder, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capstan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))

	cmd := newCommand(&rootOptions{
		newTransport: func(*config.Deployment, lg.Logger) (executor.Transport, error) {
			return executor.TransportFunc(rec.exec), nil
		},
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", path, "--log-format", "console"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPassengerRestart(t *testing.T) {
	rec := &recorder{}
	out, err := execute(t, rec, "run", "deploy:restart")
	require.NoError(t, err)

	var report task.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "deploy:restart", report.Task)
	assert.Equal(t, []string{"web1", "web2"}, report.Hosts)
	assert.True(t, report.OK())
	assert.Equal(t, []string{
		"sudo -n -- sh -c 'true'",
		"sudo -n -- sh -c 'touch /srv/shop/current/tmp/restart.txt'",
	}, rec.calls["web1"])
	assert.Empty(t, rec.calls["db1"])
}

func TestRunDeclaredUnavailableFallsBack(t *testing.T) {
	rec := &recorder{}
	out, err := execute(t, rec, "run", "maintenance:vacuum")
	require.NoError(t, err)

	var report task.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].FallbackUsed)
	assert.Equal(t, []string{"vacuumdb --all"}, rec.calls["db1"])
}

func TestRunHostFailureExitsNonZero(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"web2": true}}
	out, err := execute(t, rec, "run", "deploy:restart")
	assert.ErrorIs(t, err, errHostsFailed)
	assert.Contains(t, out, `"command_failed"`)
}

func TestRunNoOpAndSkip(t *testing.T) {
	rec := &recorder{}
	_, err := execute(t, rec, "run", "deploy:start")
	require.NoError(t, err)

	out, err := execute(t, rec, "run", "deploy:restart", "--fact", "no_release=true")
	require.NoError(t, err)
	assert.Contains(t, out, `"skipped": true`)
	assert.Empty(t, rec.calls)
}

func TestRunErrors(t *testing.T) {
	_, err := execute(t, &recorder{}, "run", "deploy:migrate")
	assert.ErrorIs(t, err, task.ErrUnknownTask)

	_, err = execute(t, &recorder{}, "run", "deploy:restart", "--role", "db")
	assert.ErrorIs(t, err, task.ErrNoMatchingHosts)

	_, err = execute(t, &recorder{}, "run", "deploy:restart", "--fact", "no_release=maybe")
	assert.Error(t, err)
}

func TestRunStoresReport(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, &recorder{}, "run", "deploy:status", "--report-dir", dir)
	require.NoError(t, err)

	var report task.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	_, err = os.Stat(filepath.Join(dir, report.ID.String()+".json"))
	assert.NoError(t, err)
}

func TestTasksAndCheck(t *testing.T) {
	out, err := execute(t, &recorder{}, "tasks")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[1], "deploy:restart")
	assert.Contains(t, out, "maintenance:vacuum")
	assert.Contains(t, out, "(no-op)")

	out, err = execute(t, &recorder{}, "check")
	require.NoError(t, err)
	assert.Equal(t, "shop: 3 hosts, 5 tasks, recipes default,passenger\n", out)
}

func TestProbe(t *testing.T) {
	out, err := execute(t, &recorder{fail: map[string]bool{"web2": true}}, "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "web1:22")
	assert.Regexp(t, `web1:22\s+app\s+available`, out)
	assert.Regexp(t, `web2:22\s+app\s+unavailable`, out)
	assert.Regexp(t, `db1:22\s+db\s+unavailable`, out)
}

func TestEnqueueNeedsBrokers(t *testing.T) {
	_, err := execute(t, &recorder{}, "enqueue", "deploy:restart")
	assert.ErrorIs(t, err, errNoBrokers)

	_, err = execute(t, &recorder{}, "enqueue", "restart")
	assert.ErrorIs(t, err, task.ErrInvalidKey)
}
