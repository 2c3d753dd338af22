package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/andrej220/capstan/internal/service"
	"github.com/andrej220/capstan/pkg/lg"
	"github.com/andrej220/capstan/pkg/metrics"
	"github.com/andrej220/capstan/pkg/persistence"
	"github.com/andrej220/capstan/pkg/queue"
	"github.com/andrej220/capstan/pkg/serverutil"
	dm "github.com/andrej220/capstan/pkg/shared-models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dispatch API",
		Long: `Serve accepts dispatch requests over HTTP (POST /dispatch) and, when
Kafka brokers are configured, from the request topic. Reports are written to
the report directory and published to the report topic. Metrics are served on
/metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port, overrides service.port")
	return cmd
}

func serve(ctx context.Context, root *rootOptions, port string) error {
	logger := root.logger()
	defer logger.Sync()
	ctx = lg.Attach(ctx, logger)

	a, err := root.newApp(ctx, logger)
	if err != nil {
		return err
	}
	settings := a.deployment.Service
	if port != "" {
		settings.Port = port
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.dispatcher.SetObserver(metrics.MustNew(reg))

	opts := service.Options{Workers: settings.Workers}
	if m := settings.ReportMongo; m != nil {
		store, err := persistence.NewMongoReportStore(m.URI, m.DBName, m.CollName)
		if err != nil {
			return err
		}
		defer store.Close(context.WithoutCancel(ctx))
		opts.Reports = store
	} else {
		opts.Reports = persistence.NewReportStore(settings.ReportDir)
	}
	kafka := settings.Kafka
	if len(kafka.Brokers) > 0 {
		publisher := queue.NewPublisher(kafka.Brokers, kafka.ReportTopic, logger)
		defer publisher.Close()
		opts.Publisher = publisher
	}
	svc := a.service(opts)
	defer svc.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", svc.Handler(ctx))

	serverCfg := serverutil.DefaultServerConfig()
	serverCfg.Port = settings.Port
	serverCfg.Logger = logger

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serverutil.RunServer(ctx, mux, serverCfg) })
	if len(kafka.Brokers) > 0 {
		consumer := queue.NewConsumer[dm.Request](queue.Config{
			Brokers: kafka.Brokers,
			GroupID: kafka.GroupID,
			Topic:   kafka.RequestTopic,
		})
		defer consumer.Close()
		logger.Info("Consuming requests", lg.Strings("brokers", kafka.Brokers), lg.String("topic", kafka.RequestTopic))
		g.Go(func() error { return svc.Consume(ctx, consumer) })
	}
	return g.Wait()
}
