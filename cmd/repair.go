package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lixiansky/Colorful-State/internal/monitor"
)

func newRepairCmd() *cobra.Command {
	var lowRes, force bool
	cmd := &cobra.Command{
		Use:   "repair [post-url...]",
		Short: "Re-fetch stored posts",
		Long: `--low-res re-fetches stored posts whose images are thumbnails.
--force re-fetches the given post URLs, or every stored post when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lowRes == force {
				return errors.New("exactly one of --low-res or --force is required")
			}
			if lowRes && len(args) > 0 {
				return errors.New("--low-res takes no arguments")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			m, err := a.Monitor(cmd.Context(), nil)
			if err != nil {
				return err
			}
			var sum monitor.Summary
			if lowRes {
				sum, err = m.RepairLowRes(cmd.Context())
			} else {
				sum, err = m.Rescrape(cmd.Context(), args)
			}
			monitor.RenderSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().BoolVar(&lowRes, "low-res", false, "re-fetch posts stored with thumbnail images")
	cmd.Flags().BoolVar(&force, "force", false, "re-fetch regardless of stored status")
	return cmd
}
