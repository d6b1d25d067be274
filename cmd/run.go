package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lixiansky/Colorful-State/internal/api"
	"github.com/lixiansky/Colorful-State/internal/monitor"
)

func newRunCmd() *cobra.Command {
	var loop, once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a monitor cycle: the URL file first, then the watched targets",
		Long: `Runs one cycle, or loops every monitor.interval_seconds when loop mode is
enabled (LOOP_MODE=true or --loop). In loop mode the status server is started
when server.enabled is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			looping := (cfg.Monitor.Loop || loop) && !once

			ctx := cmd.Context()
			m, err := a.Monitor(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !looping {
				sum, err := m.Cycle(ctx)
				monitor.RenderSummary(cmd.OutOrStdout(), sum)
				if err != nil {
					return fmt.Errorf("run cycle: %w", err)
				}
				return nil
			}

			var srv *api.Server
			if cfg.Server.Enabled {
				store, err := a.Store(ctx)
				if err != nil {
					return err
				}
				srv = api.NewServer(store, m, a.Logger().Named("api"))
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return m.Run(gctx) })
			if srv != nil {
				g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Port) })
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("run loop: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running cycles every interval")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle even when loop mode is configured")
	return cmd
}
