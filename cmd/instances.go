package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newInstancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect and refresh the mirror instance pool",
	}
	cmd.AddCommand(newInstancesListCmd(), newInstancesRefreshCmd())
	return cmd
}

func newInstancesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the instance pool fetches would use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, instance := range a.Instances() {
				fmt.Fprintln(cmd.OutOrStdout(), instance)
			}
			return nil
		},
	}
}

func newInstancesRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Probe candidate mirrors and save the healthy ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			healthy, results, err := a.RefreshInstances(cmd.Context())

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.SetTitle(fmt.Sprintf("%d of %d healthy", len(healthy), len(results)))
			t.AppendHeader(table.Row{"Instance", "Status", "Latency", "Verdict"})
			for _, r := range results {
				verdict := "ok"
				if !r.Healthy {
					verdict = r.Reason
				}
				t.AppendRow(table.Row{r.Instance, r.StatusCode, r.Latency.Round(time.Millisecond), verdict})
			}
			t.Render()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d instances to %s\n", len(healthy), a.Config().Instances.Path)
			return nil
		},
	}
}
