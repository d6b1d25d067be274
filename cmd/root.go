// Package cmd defines the colorful-state CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/app"
	"github.com/lixiansky/Colorful-State/internal/config"
	"github.com/lixiansky/Colorful-State/internal/logging"
)

type appKeyType struct{}

// newApp is the application factory. Tests replace it to inject a
// preconfigured App.
var newApp = func(cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger), nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "colorful-state",
		Short: "Monitor X accounts through Nitter mirrors",
		Long: `colorful-state fetches the latest posts of watched accounts, searches and
specific post URLs through public Nitter mirrors with a headless browser,
validates their media, translates them and stores them.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := resolveApp(cmd.Context()); err == nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newFetchCmd(),
		newRunCmd(),
		newStatusCmd(),
		newExportCmd(),
		newSetupDBCmd(),
		newRepairCmd(),
		newInstancesCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	a, ok := ctx.Value(appKeyType{}).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI with ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
