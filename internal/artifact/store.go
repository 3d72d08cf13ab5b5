// Package artifact owns the on-disk layout of a crawl: one CSV per page unit,
// header-only quarantine markers, the collated day file, and the run-scope
// lock and completion marker. Every write lands atomically via rename, so a
// reader never sees a partial file.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

const (
	errorsDir      = "errors"
	lockFile       = ".crawl.lock"
	completeMarker = "_CRAWL_COMPLETE"
	countsFile     = "domain-listing-counts.csv"
	collatedPrefix = "collated_sales_"
	csvExt         = ".csv"
	dirPerm        = 0o750
	filePerm       = 0o640
	tempPattern    = ".tmp-*"
	writableProbe  = ".writable_test"
)

// ErrOutsideRoot is returned for paths that would escape the store root.
var ErrOutsideRoot = errors.New("path escapes artifact root")

// Store reads and writes artifacts beneath a root directory.
type Store struct {
	root   string
	logger *zap.Logger
}

// New creates root if needed and checks it is writable.
func New(root string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage.output_dir must be set")
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(root, dirPerm); err != nil {
			return nil, fmt.Errorf("create artifact root: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat artifact root: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("artifact root %s is not a directory", root)
	}
	probe := filepath.Join(root, writableProbe)
	if err := os.WriteFile(probe, []byte("ok"), filePerm); err != nil {
		return nil, fmt.Errorf("artifact root is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove writable probe: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: filepath.Clean(root), logger: logger}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// DayDir is the directory holding one day's artifacts.
func (s *Store) DayDir(day string) string {
	return filepath.Join(s.root, day)
}

// PagePath is where a unit's page artifact lives.
func (s *Store) PagePath(unit listing.PageUnit) string {
	name := fmt.Sprintf("%s_%s_%s%s", unit.Locality, unit.PaddedPage(), unit.Day, csvExt)
	return filepath.Join(s.DayDir(unit.Day), name)
}

// QuarantinePath is where a unit's quarantine marker lives.
func (s *Store) QuarantinePath(unit listing.PageUnit) string {
	name := fmt.Sprintf("%s_%s%s", unit.Locality, unit.PaddedPage(), csvExt)
	return filepath.Join(s.DayDir(unit.Day), errorsDir, name)
}

// CollatedName is the file name of the collated output for day.
func CollatedName(day string) string {
	return collatedPrefix + day + csvExt
}

// CollatedPath is where the collated output for day lives.
func (s *Store) CollatedPath(day string) string {
	return filepath.Join(s.DayDir(day), CollatedName(day))
}

// CountsPath is the listing-count checkpoint file.
func (s *Store) CountsPath() string {
	return filepath.Join(s.root, countsFile)
}

// IsAuxiliary reports whether name is a collated, count-tracking, or
// bookkeeping file rather than a page artifact.
func IsAuxiliary(name string) bool {
	return strings.HasPrefix(name, collatedPrefix) ||
		strings.HasPrefix(name, strings.TrimSuffix(countsFile, csvExt)) ||
		strings.HasPrefix(name, ".") ||
		name == completeMarker
}

// WritePage persists records as the unit's page artifact and removes any
// quarantine marker for the same unit.
func (s *Store) WritePage(ctx context.Context, unit listing.PageUnit, records []listing.Record) (string, error) {
	if err := unit.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write page canceled: %w", err)
	}
	target := s.PagePath(unit)
	if err := s.WriteAtomic(target, func(w io.Writer) error {
		return EncodeRecords(w, records)
	}); err != nil {
		return "", err
	}
	if err := removeIfExists(s.QuarantinePath(unit)); err != nil {
		return target, fmt.Errorf("clear quarantine for %s: %w", unit, err)
	}
	return target, nil
}

// WriteQuarantine writes the header-only marker for unit and removes any page
// artifact for the same unit.
func (s *Store) WriteQuarantine(unit listing.PageUnit) (string, error) {
	if err := unit.Validate(); err != nil {
		return "", err
	}
	target := s.QuarantinePath(unit)
	if err := s.WriteAtomic(target, func(w io.Writer) error {
		return EncodeRecords(w, nil)
	}); err != nil {
		return "", err
	}
	if err := removeIfExists(s.PagePath(unit)); err != nil {
		return target, fmt.Errorf("clear page for %s: %w", unit, err)
	}
	return target, nil
}

// WriteAtomic streams fill into a temp file beside path and renames it into
// place once fully written and synced.
func (s *Store) WriteAtomic(path string, fill func(io.Writer) error) error {
	if err := s.contains(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := fill(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	committed = true
	return nil
}

// ReadRecords decodes a page or collated artifact.
func (s *Store) ReadRecords(path string) ([]listing.Record, error) {
	if err := s.contains(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path) // #nosec G304 -- path checked against root above
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	records, err := DecodeRecords(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// DayFiles lists the regular files directly under day's directory, sorted by
// name. A missing directory yields an empty list.
func (s *Store) DayFiles(day string) ([]string, error) {
	return listFiles(s.DayDir(day))
}

// QuarantineFiles lists the quarantine markers for day, sorted by name.
func (s *Store) QuarantineFiles(day string) ([]string, error) {
	return listFiles(filepath.Join(s.DayDir(day), errorsDir))
}

// Days lists the day directories present under the root.
func (s *Store) Days() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == len(listing.DayLayout) {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)
	return days, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) contains(path string) error {
	clean := filepath.Clean(path)
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
