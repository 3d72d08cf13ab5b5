package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds a day's crawl lock.
var ErrLocked = errors.New("crawl lock held")

// RunLock is the held crawl lock for one day.
type RunLock struct {
	lock *flock.Flock
	day  string
}

// Day returns the locked day stamp.
func (l *RunLock) Day() string { return l.day }

// Unlock releases the lock. It is safe to call more than once.
func (l *RunLock) Unlock() error {
	if l == nil || !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.lock.Path(), err)
	}
	return nil
}

// LockDay takes the exclusive crawl lock for day without blocking. A crawl
// holds it for its whole run and collation holds it while merging pages.
func (s *Store) LockDay(day string) (*RunLock, error) {
	dir := s.DayDir(day)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create day dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, day)
	}
	return &RunLock{lock: fl, day: day}, nil
}

// DayLocked reports whether a crawl currently holds day's lock.
func (s *Store) DayLocked(day string) (bool, error) {
	path := filepath.Join(s.DayDir(day), lockFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	fl := flock.New(path)
	ok, err := fl.TryRLock()
	if err != nil {
		return false, fmt.Errorf("probe lock %s: %w", path, err)
	}
	if !ok {
		return true, nil
	}
	if err := fl.Unlock(); err != nil {
		return false, fmt.Errorf("release probe lock %s: %w", path, err)
	}
	return false, nil
}

// MarkComplete writes the completion marker for day.
func (s *Store) MarkComplete(day string, at time.Time) error {
	return s.WriteAtomic(filepath.Join(s.DayDir(day), completeMarker), func(w io.Writer) error {
		_, err := io.WriteString(w, at.UTC().Format(time.RFC3339)+"\n")
		return err
	})
}

// ClearComplete removes day's completion marker before a new crawl starts.
func (s *Store) ClearComplete(day string) error {
	if err := removeIfExists(filepath.Join(s.DayDir(day), completeMarker)); err != nil {
		return fmt.Errorf("clear completion marker: %w", err)
	}
	return nil
}

// Completed reports whether day's crawl finished.
func (s *Store) Completed(day string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.DayDir(day), completeMarker))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat completion marker: %w", err)
	}
}
