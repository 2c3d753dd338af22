package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrej220/capstan/pkg/config/filestore"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: "1"
application: shop
deploy_to: /srv/shop
current_release: "20261017120000"
facts:
  maintenance: false
ssh:
  user: deploy
  password: secret
  insecure_ignore_host_key: true
  timeout: 5s
executor:
  concurrency: 4
  timeout: 2m
  sudo_user: app
hosts:
  - address: web1.example.com
    roles: [app, web]
  - address: 10.0.0.5
    port: 2222
    roles: [db]
    elevation: unavailable
recipes: [default, passenger]
tasks:
  - namespace: deploy
    name: status
    roles: [app]
    except: no_release || maintenance
    command: passenger-status
    privileged: true
  - namespace: maintenance
    name: cleanup
    allow_no_hosts: true
    command: rm -rf ${current_path}/tmp/cache
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	store, err := NewStore(FileStore, &FileConfig{Path: writeConfig(t, sampleYAML)})
	require.NoError(t, err)

	d, err := Load(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, "shop", d.Application)
	assert.Equal(t, 5*time.Second, d.SSH.Timeout)
	assert.Equal(t, 2*time.Minute, d.ExecutorConfig().Timeout)
	assert.Equal(t, "app", d.ExecutorConfig().Elevator.User)
	require.Len(t, d.Hosts, 2)
	assert.Equal(t, "10.0.0.5:2222", d.Hosts[1].Endpoint())
	assert.Equal(t, inventory.ElevationUnavailable, d.Hosts[1].Elevation)

	state := d.State()
	assert.Equal(t, "/srv/shop/current", state.Current())
	assert.False(t, state.NoRelease())
}

func TestRegistryOverrides(t *testing.T) {
	store := filestore.New(writeConfig(t, sampleYAML))
	d, err := Load(context.Background(), store)
	require.NoError(t, err)

	reg, err := d.Registry()
	require.NoError(t, err)

	status, ok := reg.Lookup(task.NewKey("deploy", "status"))
	require.True(t, ok)
	assert.False(t, status.Empty(), "config task overrides the passenger no-op")
	assert.Equal(t, "no_release || maintenance", status.Except.String())

	start, ok := reg.Lookup(task.NewKey("deploy", "start"))
	require.True(t, ok)
	assert.True(t, start.Empty(), "passenger overrides the default start")

	cleanup, ok := reg.Lookup(task.NewKey("maintenance", "cleanup"))
	require.True(t, ok)
	assert.True(t, cleanup.AllowNoHosts)
	assert.Equal(t, 5, reg.Len())
}

func TestDefaultsApplied(t *testing.T) {
	body := `
application: shop
deploy_to: /srv/shop
ssh: {user: deploy, key_file: /home/deploy/.ssh/id_ed25519}
hosts: [{address: web1, roles: [app]}]
`
	d, err := Load(context.Background(), filestore.New(writeConfig(t, body)))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, d.Version)
	assert.Equal(t, []string{"default"}, d.Recipes)
	assert.True(t, d.State().NoRelease())
	assert.Equal(t, "8084", d.Service.Port)
	assert.Equal(t, "reports", d.Service.ReportDir)
	assert.Empty(t, d.Service.Kafka.RequestTopic, "kafka stays off without brokers")
}

func TestKafkaDefaults(t *testing.T) {
	body := `
application: shop
deploy_to: /srv/shop
ssh: {user: deploy, password: secret}
hosts: [{address: web1, roles: [app]}]
service:
  port: "9090"
  kafka:
    brokers: ["localhost:9092"]
  report_mongo:
    uri: mongodb://localhost:27017
`
	d, err := Load(context.Background(), filestore.New(writeConfig(t, body)))
	require.NoError(t, err)
	assert.Equal(t, "9090", d.Service.Port)
	assert.Equal(t, "capstan", d.Service.Kafka.GroupID)
	assert.Equal(t, "capstan-requests", d.Service.Kafka.RequestTopic)
	assert.Equal(t, "capstan-reports", d.Service.Kafka.ReportTopic)
	require.NotNil(t, d.Service.ReportMongo)
	assert.Equal(t, "reports", d.Service.ReportMongo.CollName)
}

func TestValidationErrors(t *testing.T) {
	base := func() *Deployment {
		return &Deployment{
			Version:     "1",
			Application: "shop",
			DeployTo:    "/srv/shop",
			SSH:         SSHSettings{User: "deploy", Password: "x"},
			Hosts:       []inventory.Host{{Address: "web1", Roles: []string{"app"}}},
			Recipes:     []string{"passenger"},
		}
	}
	tests := []struct {
		name   string
		mutate func(d *Deployment)
	}{
		{"relative deploy_to", func(d *Deployment) { d.DeployTo = "srv/shop" }},
		{"no hosts", func(d *Deployment) { d.Hosts = nil }},
		{"bad host role", func(d *Deployment) { d.Hosts[0].Roles = []string{"App"} }},
		{"no ssh auth", func(d *Deployment) { d.SSH.Password = "" }},
		{"unknown recipe", func(d *Deployment) { d.Recipes = []string{"unicorn"} }},
		{"bad task name", func(d *Deployment) { d.Tasks = []TaskSpec{{Namespace: "deploy", Name: "Re start"}} }},
		{"bad predicate", func(d *Deployment) {
			d.Tasks = []TaskSpec{{Namespace: "deploy", Name: "restart", Except: "no_release &&"}}
		}},
		{"bad fact name", func(d *Deployment) { d.Facts = map[string]bool{"Has Release": true} }},
		{"negative concurrency", func(d *Deployment) { d.Executor.Concurrency = -1 }},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestFileStoreSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deploy.yaml")
	store := filestore.New(path)
	in := &Deployment{
		Version:     "1",
		Application: "shop",
		DeployTo:    "/srv/shop",
		SSH:         SSHSettings{User: "deploy", Password: "x"},
		Hosts:       []inventory.Host{{Address: "web1", Roles: []string{"app"}}},
	}

	require.NoError(t, store.Save(context.Background(), in))
	out, err := Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, in.Hosts, out.Hosts)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNewStoreRejectsWrongConfig(t *testing.T) {
	_, err := NewStore(FileStore, &MongoConfig{})
	assert.Error(t, err)
	_, err = NewStore(StoreType(42), nil)
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}
