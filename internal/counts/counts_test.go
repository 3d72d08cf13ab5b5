package counts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sold-listings-crawler/internal/session"
)

type landingBrowser struct{}

func (landingBrowser) Render(_ context.Context, url string) (string, error) {
	switch {
	case strings.Contains(url, "/broken-"):
		return "", errors.New("net::ERR_TIMED_OUT")
	case strings.Contains(url, "/empty-"):
		return `<html><body><h1 class="css-ekkwk0"></h1></body></html>`, nil
	default:
		return `<html><body><h1 class="css-ekkwk0">1,234 Properties</h1><h1 class="css-ekkwk0">9 Other</h1></body></html>`, nil
	}
}

func (landingBrowser) Close() error { return nil }

type launcher struct {
	mu       sync.Mutex
	launches int
}

func (l *launcher) Launch(context.Context, bool) (session.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	return landingBrowser{}, nil
}

type urls struct{}

func (urls) PageURL(locality string, page int) string {
	if page != 0 {
		panic("counts must use the landing page")
	}
	return fmt.Sprintf("https://example.test/sold-listings/%s/", locality)
}

type memCheckpoint struct {
	writes []string
}

func (m *memCheckpoint) CountsPath() string { return "counts.csv" }

func (m *memCheckpoint) WriteAtomic(_ string, fill func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		return err
	}
	m.writes = append(m.writes, buf.String())
	return nil
}

func TestProbeRotatesAndCheckpoints(t *testing.T) {
	t.Parallel()

	l := &launcher{}
	mgr, err := session.NewManager(l, nil)
	require.NoError(t, err)
	out := &memCheckpoint{}
	p, err := New(Config{CountSelector: ".css-ekkwk0", RotateEvery: 2, Headless: true}, mgr, urls{}, out, nil)
	require.NoError(t, err)

	localities := []string{"manly-nsw-2095", "broken-nsw-2000", "bondi-nsw-2026", "empty-nsw-2001", "coogee-nsw-2034"}
	got, err := p.Probe(context.Background(), localities)
	require.NoError(t, err)
	require.Equal(t, []Count{
		{Locality: "manly-nsw-2095", Listings: 1234},
		{Locality: "broken-nsw-2000", Listings: Unknown},
		{Locality: "bondi-nsw-2026", Listings: 1234},
		{Locality: "empty-nsw-2001", Listings: Unknown},
		{Locality: "coogee-nsw-2034", Listings: 1234},
	}, got)

	require.Equal(t, 3, l.launches, "rotated before localities 3 and 5")
	require.EqualValues(t, 0, mgr.Live())
	require.Len(t, out.writes, 3)
	require.Equal(t, "locality,listings\nmanly-nsw-2095,1234\nbroken-nsw-2000,-1\n", out.writes[0])
	require.Equal(t, 6, strings.Count(out.writes[2], "\n"))
}

func TestProbeCheckpointsOnCancel(t *testing.T) {
	t.Parallel()

	mgr, err := session.NewManager(&launcher{}, nil)
	require.NoError(t, err)
	out := &memCheckpoint{}
	p, err := New(Config{CountSelector: ".css-ekkwk0", RotateEvery: 30}, mgr, urls{}, out, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := p.Probe(ctx, []string{"manly-nsw-2095"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, got)
	require.Equal(t, []string{"locality,listings\n"}, out.writes)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	mgr, err := session.NewManager(&launcher{}, nil)
	require.NoError(t, err)
	_, err = New(Config{RotateEvery: 1}, mgr, urls{}, &memCheckpoint{}, nil)
	require.Error(t, err)
	_, err = New(Config{CountSelector: "h1"}, mgr, urls{}, &memCheckpoint{}, nil)
	require.Error(t, err)
	_, err = New(Config{CountSelector: "h1", RotateEvery: 1}, nil, urls{}, &memCheckpoint{}, nil)
	require.Error(t, err)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{in: "1,234 Properties", want: 1234},
		{in: "  87 Sold  ", want: 87},
		{in: "0 Properties", want: 0},
		{in: "", want: Unknown},
		{in: "No results", want: Unknown},
		{in: "-3 Properties", want: Unknown},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, ParseCount(tc.in), tc.in)
	}
}

func TestLoadLocalities(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	plain := write("plain.csv", "locality\nmanly-nsw-2095\n\nbondi-nsw-2026\n")
	got, err := LoadLocalities(plain)
	require.NoError(t, err)
	require.Equal(t, []string{"manly-nsw-2095", "bondi-nsw-2026"}, got)

	flagged := write("flagged.csv", "suburb,locality,scrape\nManly,manly-nsw-2095,1\nBondi,bondi-nsw-2026,0\nCoogee,coogee-nsw-2034,1.0\nTamarama,tamarama-nsw-2026,\n")
	got, err = LoadLocalities(flagged)
	require.NoError(t, err)
	require.Equal(t, []string{"manly-nsw-2095", "coogee-nsw-2034"}, got)

	_, err = LoadLocalities(write("bad.csv", "suburb\nManly\n"))
	require.ErrorContains(t, err, "no locality column")

	_, err = LoadLocalities(filepath.Join(dir, "missing.csv"))
	require.Error(t, err)
}
