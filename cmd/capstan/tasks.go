package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/andrej220/capstan/internal/service"
	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/spf13/cobra"
)

func newTasksCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := root.load(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := d.Registry()
			if err != nil {
				return err
			}
			infos := service.Describe(reg.Definitions())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tROLES\tEXCEPT\tDESCRIPTION")
			for _, info := range infos {
				desc := info.Description
				if info.Empty {
					desc = strings.TrimSpace(desc + " (no-op)")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Task, orDash(strings.Join(info.Roles, ",")), orDash(info.Except), desc)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := root.load(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := d.Registry()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d hosts, %d tasks, recipes %s\n",
				d.Application, len(d.Hosts), reg.Len(), strings.Join(d.Recipes, ","))
			return nil
		},
	}
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check which hosts allow non-interactive elevation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := root.logger()
			defer logger.Sync()
			ctx := cmd.Context()

			d, err := root.load(ctx)
			if err != nil {
				return err
			}
			transport, err := root.newTransport(d, logger)
			if err != nil {
				return err
			}
			hosts := executor.New(transport, d.ExecutorConfig(), logger).Probe(ctx, d.Hosts)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tROLES\tELEVATION")
			for _, h := range hosts {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Endpoint(), strings.Join(h.Roles, ","), orDash(string(elevation(h))))
			}
			return w.Flush()
		},
	}
}

func elevation(h inventory.Host) inventory.Elevation {
	if h.Elevation == "" {
		return "unknown"
	}
	return h.Elevation
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
