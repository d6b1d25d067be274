package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lixiansky/Colorful-State/internal/config"
)

func newSetupDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-db",
		Short: "Create the tweets table and its indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			driver := a.Config().StoreDriver()
			if driver == config.DriverNone {
				return fmt.Errorf("no database configured: set DATABASE_URL or db.driver")
			}
			store, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema ready\n", driver)
			return nil
		},
	}
}
