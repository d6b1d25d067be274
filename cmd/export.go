package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lixiansky/Colorful-State/internal/export"
)

func newExportCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write data.json and stats.json for the static site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			exp, dry, err := a.Exporter(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			res, err := exp.Run(cmd.Context())
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.SetTitle("export")
			t.AppendHeader(table.Row{"Tweets", "With Video", "With Images", "Authors"})
			t.AppendRow(table.Row{
				res.Stats.TotalTweets,
				res.Stats.TweetsWithVideo,
				res.Stats.TweetsWithImages,
				res.Stats.UniqueAuthors,
			})
			t.Render()

			if dry != nil {
				obj, _ := dry.Get(export.StatsFile)
				fmt.Fprintf(cmd.OutOrStdout(), "dry run, nothing written. %s would be:\n%s", export.StatsFile, obj.Data)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", res.DataURL, res.StatsURL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build the files in memory without writing them")
	return cmd
}
