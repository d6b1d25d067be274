package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/monitor"
	"github.com/lixiansky/Colorful-State/internal/scraper"
)

func newFetchCmd() *cobra.Command {
	var store bool
	cmd := &cobra.Command{
		Use:   "fetch [target...]",
		Short: "Fetch the latest post of each target and print it as JSON",
		Long: `Targets are handles, "search:<keyword>" or post URLs. Without arguments the
configured users are fetched. With --store each found post is translated,
stored and announced like a monitor cycle would.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := fetchTargets(args, a.Config().Targets)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			engine, err := a.Engine(ctx)
			if err != nil {
				return err
			}
			var m *monitor.Monitor
			if store {
				if m, err = a.Monitor(ctx, nil); err != nil {
					return err
				}
			}
			instances := a.Instances()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			var missing int
			for _, target := range targets {
				record, err := engine.FetchLatest(ctx, target, instances)
				if errors.Is(err, scraper.ErrNotFound) {
					missing++
					a.Logger().Warn("no post found", zap.String("target", target.String()))
					continue
				}
				if err != nil {
					return fmt.Errorf("fetch %s: %w", target, err)
				}
				if m != nil {
					if _, err := m.Store(ctx, record); err != nil {
						return err
					}
				}
				if err := enc.Encode(record); err != nil {
					return fmt.Errorf("encode record: %w", err)
				}
			}
			if missing == len(targets) {
				return scraper.ErrNotFound
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&store, "store", false, "translate, store and announce found posts")
	return cmd
}

func fetchTargets(args []string, configured func() ([]scraper.Target, error)) ([]scraper.Target, error) {
	if len(args) == 0 {
		targets, err := configured()
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, errors.New("no targets given and none configured")
		}
		return targets, nil
	}
	targets := make([]scraper.Target, 0, len(args))
	for _, arg := range args {
		target, err := scraper.ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}
