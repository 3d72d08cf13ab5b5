// Package collate merges a day's page artifacts into one dataset.
package collate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
)

var (
	// ErrNothingToCollate is returned when a day has no page artifacts.
	ErrNothingToCollate = errors.New("nothing to collate")
	// ErrCrawlInProgress is returned while a crawl holds the day's lock.
	ErrCrawlInProgress = errors.New("crawl in progress")
)

// Exporter ships a freshly collated dataset somewhere downstream.
type Exporter interface {
	Name() string
	Export(ctx context.Context, res Result, records []listing.Record) error
}

// Options tune a single collation.
type Options struct {
	// Force collates even while a crawl holds the day's lock.
	Force bool
}

// Result describes the collated output.
type Result struct {
	Day   string
	Files []string
	// Skipped lists page artifacts that could not be read and were left out.
	Skipped []string
	Rows    int
	Path    string
	Digest  string
	// Complete reports whether the day's crawl finished every locality.
	Complete bool
}

// Collator merges page artifacts read from an artifact.Store.
type Collator struct {
	store     *artifact.Store
	hasher    *sha256.Hasher
	exporters []Exporter
	emitter   progress.Emitter
	runID     [16]byte
	logger    *zap.Logger
}

// New builds a Collator. Exporters run in order after the collated file is
// written.
func New(store *artifact.Store, emitter progress.Emitter, runID [16]byte, logger *zap.Logger, exporters ...Exporter) (*Collator, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collator{
		store:     store,
		hasher:    sha256.New(),
		exporters: exporters,
		emitter:   emitter,
		runID:     runID,
		logger:    logger,
	}, nil
}

// PageFiles returns the page artifacts for day in lexicographic order,
// skipping quarantine markers and auxiliary files.
func (c *Collator) PageFiles(day string) ([]string, error) {
	pattern, err := pagePattern(day)
	if err != nil {
		return nil, err
	}
	names, err := c.store.DayFiles(day)
	if err != nil {
		return nil, err
	}
	var pages []string
	for _, name := range names {
		if artifact.IsAuxiliary(name) || !pattern.MatchString(name) {
			continue
		}
		pages = append(pages, name)
	}
	return pages, nil
}

// Collate concatenates every page artifact for day into the collated file,
// replacing any previous one. Rerunning over the same artifacts rewrites
// byte-identical output.
func (c *Collator) Collate(ctx context.Context, day string, opts Options) (Result, error) {
	start := time.Now()
	res := Result{Day: day, Path: c.store.CollatedPath(day)}
	log := c.logger.With(zap.String("day", day))

	files, err := c.PageFiles(day)
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNothingToCollate, day)
	}

	// Holding the crawl lock keeps a crawl from writing pages mid-collation.
	if !opts.Force {
		lock, err := c.store.LockDay(day)
		if errors.Is(err, artifact.ErrLocked) {
			return res, fmt.Errorf("%w: %s", ErrCrawlInProgress, day)
		}
		if err != nil {
			return res, err
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("release collate lock failed", zap.Error(err))
			}
		}()
		if files, err = c.PageFiles(day); err != nil {
			return res, err
		}
	}

	res.Complete, err = c.store.Completed(day)
	if err != nil {
		return res, err
	}
	if !res.Complete {
		log.Warn("collating a day whose crawl did not complete")
	}

	var records []listing.Record
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("collate %s: %w", day, err)
		}
		rows, err := c.store.ReadRecords(filepath.Join(c.store.DayDir(day), name))
		if err != nil {
			log.Warn("skipping unreadable page artifact", zap.String("file", name), zap.Error(err))
			res.Skipped = append(res.Skipped, name)
			continue
		}
		res.Files = append(res.Files, name)
		records = append(records, rows...)
	}
	if len(res.Files) == 0 {
		return res, fmt.Errorf("%w: %s: no readable page artifacts", ErrNothingToCollate, day)
	}
	res.Rows = len(records)

	if err := c.store.WriteAtomic(res.Path, func(w io.Writer) error {
		return artifact.EncodeRecords(w, records)
	}); err != nil {
		return res, fmt.Errorf("write collated %s: %w", day, err)
	}
	res.Digest, err = c.hasher.HashFile(res.Path)
	if err != nil {
		return res, err
	}
	log.Info("day collated",
		zap.Int("files", len(res.Files)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("records", res.Rows),
		zap.String("path", res.Path),
		zap.String("digest", res.Digest),
	)

	var exportErrs []error
	for _, exp := range c.exporters {
		if err := exp.Export(ctx, res, records); err != nil {
			log.Error("export failed", zap.String("exporter", exp.Name()), zap.Error(err))
			exportErrs = append(exportErrs, fmt.Errorf("export %s: %w", exp.Name(), err))
			continue
		}
		log.Info("collated dataset exported", zap.String("exporter", exp.Name()))
	}

	c.emitter.Emit(progress.Event{
		RunID:   c.runID,
		TS:      time.Now(),
		Stage:   progress.StageCollateDone,
		Records: res.Rows,
		Dur:     time.Since(start),
		Note:    day,
	})
	return res, errors.Join(exportErrs...)
}

func pagePattern(day string) (*regexp.Regexp, error) {
	if _, err := time.Parse(listing.DayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: day %q", listing.ErrInvalidUnit, day)
	}
	return regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*_\d{2,}_` + regexp.QuoteMeta(day) + `\.csv$`), nil
}
