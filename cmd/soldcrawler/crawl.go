package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/collate"
	"github.com/JakeFAU/sold-listings-crawler/internal/config"
	"github.com/JakeFAU/sold-listings-crawler/internal/counts"
	"github.com/JakeFAU/sold-listings-crawler/internal/crawl"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

type crawlFlags struct {
	cutoff      string
	pageCap     int
	startPage   int
	maxPages    int
	day         string
	concurrency int
	collate     bool
	progress    bool
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl [localities...]",
		Short: "Crawl sold listings for one or more localities",
		Long: `Crawls each locality page by page until a page's earliest sold date falls
before the cutoff or the page cap is reached. Localities come from the
arguments, else crawl.localities, else the scrape-flagged rows of
crawl.localities_file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.cutoff, "cutoff", "", "earliest sold date to keep crawling for (YYYY-MM-DD)")
	flags.IntVar(&f.pageCap, "pages", 0, "highest result page to fetch")
	flags.IntVar(&f.startPage, "start", 0, "first result page to fetch")
	flags.IntVar(&f.maxPages, "max-pages", 0, "pages per locality; 0 means up to --pages")
	flags.StringVar(&f.day, "day", "", "run day (YYYYMMDD); defaults to today in crawl.timezone")
	flags.IntVar(&f.concurrency, "concurrency", 0, "localities crawled at once")
	flags.BoolVar(&f.collate, "collate", false, "collate the day once every locality has been crawled")
	flags.BoolVar(&f.progress, "progress", false, "show a progress bar over localities")
	return cmd
}

func runCrawl(cmd *cobra.Command, args []string, f crawlFlags) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	cc, err := crawlConfig(cmd, cfg, f)
	if err != nil {
		return err
	}
	localities, err := resolveLocalities(args, cfg)
	if err != nil {
		return err
	}
	day, err := resolveDay(f.day, appInstance.Clock().Today())
	if err != nil {
		return err
	}
	concurrency := cfg.Crawl.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = f.concurrency
	}

	sessions, err := appInstance.Sessions()
	if err != nil {
		return err
	}
	orch, err := appInstance.Crawler(cc, sessions)
	if err != nil {
		return err
	}
	if err := startServer(ctx, appInstance); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if f.progress || cfg.Crawl.ProgressBar {
		bar = progressbar.Default(int64(len(localities)), "localities")
	}
	report, err := orch.Run(ctx, appInstance.Store(), day, localities, crawl.RunOptions{
		Concurrency: concurrency,
		OnLocality: func(crawl.LocalityResult) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	for _, res := range report.Results {
		logger.Info("locality summary",
			zap.String("locality", res.Summary.Locality),
			zap.Int("pages", res.Summary.Pages),
			zap.Int("records", res.Summary.Records),
			zap.Int("quarantined", res.Summary.Quarantined),
			zap.String("stop", string(res.Summary.StopReason)),
			zap.Error(res.Err),
		)
	}
	if !report.Completed {
		logger.Warn("run incomplete; day not marked complete",
			zap.String("day", day),
			zap.Strings("skipped", report.Skipped),
		)
		return ctx.Err()
	}
	if f.collate {
		return collateDay(ctx, cmd.OutOrStdout(), appInstance, day, collate.Options{})
	}
	if failed := report.Failed(); len(failed) > 0 {
		logger.Warn("some localities failed", zap.Int("failed", len(failed)))
	}
	return nil
}

// crawlConfig starts from the configured crawl settings and applies any flag
// the operator set explicitly.
func crawlConfig(cmd *cobra.Command, cfg config.Config, f crawlFlags) (crawl.Config, error) {
	cc, err := cfg.CrawlerConfig()
	if err != nil {
		return crawl.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("cutoff") {
		cutoff, err := time.Parse(listing.DateLayout, f.cutoff)
		if err != nil {
			return crawl.Config{}, fmt.Errorf("--cutoff must be YYYY-MM-DD: %w", err)
		}
		cc.Cutoff = cutoff
	}
	if flags.Changed("pages") {
		cc.PageCap = f.pageCap
	}
	if flags.Changed("start") {
		cc.StartPage = f.startPage
	}
	if flags.Changed("max-pages") {
		cc.MaxPages = f.maxPages
	}
	if err := cc.Validate(); err != nil {
		return crawl.Config{}, err
	}
	return cc, nil
}

func resolveLocalities(args []string, cfg config.Config) ([]string, error) {
	switch {
	case len(args) > 0:
		return args, nil
	case len(cfg.Crawl.Localities) > 0:
		return cfg.Crawl.Localities, nil
	case cfg.Crawl.LocalitiesFile != "":
		locs, err := counts.LoadLocalities(cfg.Crawl.LocalitiesFile)
		if err != nil {
			return nil, err
		}
		if len(locs) == 0 {
			return nil, fmt.Errorf("no localities flagged for scraping in %s", cfg.Crawl.LocalitiesFile)
		}
		return locs, nil
	default:
		return nil, errors.New("no localities: pass them as arguments or set crawl.localities or crawl.localities_file")
	}
}

func resolveDay(flagDay, today string) (string, error) {
	if flagDay == "" {
		return today, nil
	}
	if _, err := time.Parse(listing.DayLayout, flagDay); err != nil {
		return "", fmt.Errorf("--day must be YYYYMMDD: %w", err)
	}
	return flagDay, nil
}
