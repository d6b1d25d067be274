package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lixiansky/Colorful-State/internal/monitor"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [post-url...]",
		Short: "Show which post URLs are already stored",
		Long:  "Checks the given post URLs, or every URL in the configured URL file, against the post store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var (
				entries []monitor.Entry
				invalid []string
			)
			if len(args) > 0 {
				entries, invalid = monitor.ParseEntries(args)
			} else {
				path := a.Config().Monitor.URLFile
				entries, invalid, err = monitor.ReadURLFile(path)
				if err != nil {
					return fmt.Errorf("read url file: %w", err)
				}
			}
			for _, line := range invalid {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping invalid post url: %s\n", line)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no post urls to check")
				return nil
			}

			store, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			stored, pending := monitor.CheckStatus(cmd.Context(), store, entries, a.Logger())
			monitor.RenderStatus(cmd.OutOrStdout(), stored, pending)
			return nil
		},
	}
}
