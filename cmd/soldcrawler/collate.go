package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/app"
	"github.com/JakeFAU/sold-listings-crawler/internal/collate"
)

func newCollateCmd() *cobra.Command {
	var (
		day   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "collate",
		Short: "Merge a day's page artifacts into one CSV",
		Long: `Concatenates every page artifact for the day, in file-name order, into the
collated file under the output directory, then runs the configured exporters
(GCS when storage.gcs_bucket is set, Postgres when db.dsn is set).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := resolveDay(day, appInstance.Clock().Today())
			if err != nil {
				return err
			}
			return collateDay(cmd.Context(), cmd.OutOrStdout(), appInstance, d, collate.Options{Force: force})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day to collate (YYYYMMDD); defaults to today in crawl.timezone")
	cmd.Flags().BoolVar(&force, "force", false, "collate even while a crawl holds the day's lock")
	return cmd
}

func collateDay(ctx context.Context, out io.Writer, appInstance *app.App, day string, opts collate.Options) error {
	col, err := appInstance.Collator(ctx)
	if err != nil {
		return err
	}
	res, err := col.Collate(ctx, day, opts)
	if errors.Is(err, collate.ErrNothingToCollate) {
		appInstance.Logger().Info("nothing to collate", zap.String("day", day))
		return nil
	}
	if err != nil {
		return fmt.Errorf("collate %s: %w", day, err)
	}
	fmt.Fprintf(out, "%s\t%d rows\tsha256:%s\n", res.Path, res.Rows, res.Digest)
	return nil
}
