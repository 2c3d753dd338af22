package main

import (
	"context"
	"fmt"

	"github.com/andrej220/capstan/internal/service"
	"github.com/andrej220/capstan/pkg/config"
	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/lg"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/spf13/cobra"
)

const serviceName = "capstan"

type rootOptions struct {
	configPath string
	mongo      config.MongoConfig
	debug      bool
	logFormat  string

	// newTransport is replaced in tests.
	newTransport func(d *config.Deployment, logger lg.Logger) (executor.Transport, error)
}

func newRootCmd() *cobra.Command {
	return newCommand(&rootOptions{newTransport: sshTransport})
}

func newCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capstan",
		Short: "Capstan - deployment task runner",
		Long: `Capstan runs named deployment tasks ("deploy:restart") on the hosts of a
deployment over SSH. Recipes register the standard lifecycle tasks and the
configuration may override any of them.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "capstan.yaml", "deployment configuration file")
	cmd.PersistentFlags().StringVar(&opts.mongo.URI, "mongo-uri", "", "load the configuration from MongoDB instead of a file")
	cmd.PersistentFlags().StringVar(&opts.mongo.DBName, "mongo-db", "capstan", "MongoDB database")
	cmd.PersistentFlags().StringVar(&opts.mongo.CollName, "mongo-coll", "deployments", "MongoDB collection")
	cmd.PersistentFlags().StringVar(&opts.mongo.ID, "mongo-id", "", "configuration document id")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log encoding: json or console")

	cmd.AddCommand(
		newRunCmd(opts),
		newTasksCmd(opts),
		newCheckCmd(opts),
		newProbeCmd(opts),
		newServeCmd(opts),
		newEnqueueCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() lg.Logger {
	return lg.New(&lg.Config{ServiceName: serviceName, Debug: o.debug, Format: o.logFormat})
}

// load reads and validates the deployment from MongoDB when --mongo-uri is
// set and from the configuration file otherwise.
func (o *rootOptions) load(ctx context.Context) (*config.Deployment, error) {
	var (
		storeType = config.FileStore
		storeCfg  any
	)
	if o.mongo.URI != "" {
		storeType, storeCfg = config.MongoStore, &o.mongo
	} else {
		storeCfg = &config.FileConfig{Path: o.configPath}
	}

	store, err := config.NewStore(storeType, storeCfg)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close(context.Context) error }); ok {
		defer c.Close(ctx)
	}
	d, err := config.Load(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return d, nil
}

func sshTransport(d *config.Deployment, logger lg.Logger) (executor.Transport, error) {
	return executor.NewSSHTransport(d.SSHConfig(), executor.DefaultResilienceConfig(), logger)
}

// app is one deployment wired for dispatching.
type app struct {
	deployment *config.Deployment
	executor   *executor.Executor
	dispatcher *task.Dispatcher
	logger     lg.Logger
}

func (o *rootOptions) newApp(ctx context.Context, logger lg.Logger) (*app, error) {
	d, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := d.Registry()
	if err != nil {
		return nil, err
	}
	transport, err := o.newTransport(d, logger)
	if err != nil {
		return nil, err
	}
	exec := executor.New(transport, d.ExecutorConfig(), logger)
	dispatcher := task.NewDispatcher(registry, exec, logger)
	dispatcher.Timeout = d.Executor.DispatchTimeout

	a := &app{deployment: d, executor: exec, dispatcher: dispatcher, logger: logger}
	if d.Executor.Probe {
		d.Hosts = exec.Probe(ctx, d.Hosts)
	}
	return a, nil
}

func (a *app) service(opts service.Options) *service.Service {
	opts.Logger = a.logger
	return service.New(a.dispatcher, a.deployment.Hosts, a.deployment.State(), opts)
}
