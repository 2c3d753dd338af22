package main

import (
	"errors"
	"fmt"

	"github.com/andrej220/capstan/pkg/queue"
	dm "github.com/andrej220/capstan/pkg/shared-models"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errNoBrokers = errors.New("service.kafka.brokers is not configured")

func newEnqueueCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue namespace:task",
		Short: "Queue a dispatch request for a running service",
		Long: `Enqueue publishes a dispatch request to the request topic consumed by
"capstan serve" and prints its execution id. The report is published to the
report topic once the task has run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := task.ParseKey(args[0]); err != nil {
				return err
			}
			facts, err := parseFacts(opts.facts)
			if err != nil {
				return err
			}
			d, err := root.load(cmd.Context())
			if err != nil {
				return err
			}
			kafka := d.Service.Kafka
			if len(kafka.Brokers) == 0 {
				return errNoBrokers
			}

			logger := root.logger()
			defer logger.Sync()
			publisher := queue.NewPublisher(kafka.Brokers, kafka.RequestTopic, logger)
			defer publisher.Close()

			req := dm.Request{
				Task:         args[0],
				Release:      opts.release,
				Roles:        opts.roles,
				Facts:        facts,
				ExecutionUID: uuid.New(),
			}
			if err := publisher.Publish(cmd.Context(), []byte(req.ExecutionUID.String()), req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.ExecutionUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.release, "release", "", "current release, overrides the configuration")
	cmd.Flags().StringSliceVar(&opts.roles, "role", nil, "only consider hosts with one of these roles")
	cmd.Flags().StringToStringVar(&opts.facts, "fact", nil, "set a boolean fact, name=true|false")
	return cmd
}
