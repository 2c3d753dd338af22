package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/andrej220/capstan/internal/service"
	"github.com/andrej220/capstan/pkg/persistence"
	dm "github.com/andrej220/capstan/pkg/shared-models"
	"github.com/spf13/cobra"
)

var errHostsFailed = errors.New("task failed")

type runOptions struct {
	release   string
	roles     []string
	facts     map[string]string
	reportDir string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run namespace:task",
		Short: "Dispatch one task and print its report",
		Long: `Run dispatches the task to the hosts whose roles match, prints the JSON
report and exits non-zero if the task did not succeed on every host.

Example:
  capstan run deploy:restart
  capstan run deploy:restart --release 20261017120000 --role web
  capstan run maintenance:cleanup --fact maintenance=true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.release, "release", "", "current release, overrides the configuration")
	cmd.Flags().StringSliceVar(&opts.roles, "role", nil, "only consider hosts with one of these roles")
	cmd.Flags().StringToStringVar(&opts.facts, "fact", nil, "set a boolean fact, name=true|false")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "also store the report in this directory")
	return cmd
}

func runTask(cmd *cobra.Command, root *rootOptions, opts *runOptions, name string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	facts, err := parseFacts(opts.facts)
	if err != nil {
		return err
	}

	logger := root.logger()
	defer logger.Sync()

	a, err := root.newApp(ctx, logger)
	if err != nil {
		return err
	}
	var svcOpts service.Options
	if opts.reportDir != "" {
		svcOpts.Reports = persistence.NewReportStore(opts.reportDir)
	}
	svc := a.service(svcOpts)
	defer svc.Stop()

	report, err := svc.Execute(ctx, dm.Request{
		Task:    name,
		Release: opts.release,
		Roles:   opts.roles,
		Facts:   facts,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		return encErr
	}
	if err != nil {
		return err
	}
	if !report.OK() {
		return errHostsFailed
	}
	return nil
}

func parseFacts(raw map[string]string) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	facts := make(map[string]bool, len(raw))
	for k, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", k, err)
		}
		facts[k] = b
	}
	return facts, nil
}
