package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/counts"
)

func newCountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts [localities...]",
		Short: "Record each locality's total sold-listing count",
		Long: `Opens each locality's landing page, reads the advertised number of sold
listings, and checkpoints the tally to the counts CSV in the output directory.
Localities come from the arguments or from crawl.localities.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			localities := args
			if len(localities) == 0 {
				localities = cfg.Crawl.Localities
			}
			if len(localities) == 0 {
				return fmt.Errorf("no localities: pass them as arguments or set crawl.localities")
			}

			sessions, err := appInstance.Sessions()
			if err != nil {
				return err
			}
			prober, err := appInstance.Prober(sessions)
			if err != nil {
				return err
			}
			tally, err := prober.Probe(ctx, localities)
			if err != nil {
				return fmt.Errorf("probe counts: %w", err)
			}
			unknown := 0
			for _, c := range tally {
				if c.Listings == counts.Unknown {
					unknown++
				}
			}
			appInstance.Logger().Info("counts recorded",
				zap.Int("localities", len(tally)),
				zap.Int("unknown", unknown),
				zap.String("path", appInstance.Store().CountsPath()),
			)
			return nil
		},
	}
}
