package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/config"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

func writeConfig(t *testing.T, outDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "logging:\n  development: false\n  level: error\nstorage:\n  output_dir: " + outDir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCollateCommandWritesCollatedFile(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	store, err := artifact.New(outDir, zap.NewNop())
	require.NoError(t, err)

	day := "20240301"
	sold := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	for page := 1; page <= 2; page++ {
		_, err := store.WritePage(context.Background(), listing.PageUnit{Locality: "manly-nsw-2095", Page: page, Day: day}, []listing.Record{
			{Link: fmt.Sprintf("https://example.com/listing-%d", page), DateSold: &sold},
		})
		require.NoError(t, err)
	}

	var out bytes.Buffer
	code := execute(context.Background(), []string{"collate", "--config", writeConfig(t, outDir), "--day", day}, &out)
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "2 rows")
	assert.FileExists(t, store.CollatedPath(day))
}

func TestCollateCommandWithNothingToCollateSucceeds(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	var out bytes.Buffer
	code := execute(context.Background(), []string{"collate", "--config", writeConfig(t, outDir), "--day", "20240301"}, &out)
	require.Equal(t, 0, code)
	assert.Empty(t, out.String())
}

func TestExecuteFailsOnMissingConfig(t *testing.T) {
	var out bytes.Buffer
	code := execute(context.Background(), []string{"collate", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &out)
	require.Equal(t, 1, code)
}

func TestCollateCommandRejectsBadDay(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	var out bytes.Buffer
	code := execute(context.Background(), []string{"collate", "--config", writeConfig(t, outDir), "--day", "2024-03-01"}, &out)
	require.Equal(t, 1, code)
}

func TestCrawlConfigAppliesChangedFlagsOnly(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	cmd := newCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--pages", "10", "--cutoff", "2023-05-01"}))
	cc, err := crawlConfig(cmd, cfg, crawlFlags{pageCap: 10, cutoff: "2023-05-01"})
	require.NoError(t, err)
	assert.Equal(t, 10, cc.PageCap)
	assert.Equal(t, 1, cc.StartPage)
	assert.Equal(t, time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), cc.Cutoff)

	cmd = newCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--start", "9", "--pages", "5"}))
	_, err = crawlConfig(cmd, cfg, crawlFlags{startPage: 9, pageCap: 5})
	require.Error(t, err)

	cmd = newCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--cutoff", "01/05/2023"}))
	_, err = crawlConfig(cmd, cfg, crawlFlags{cutoff: "01/05/2023"})
	require.Error(t, err)
}

func TestResolveLocalities(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "localities.csv")
	require.NoError(t, os.WriteFile(file, []byte("locality,scrape\nmanly-nsw-2095,1\nbondi-nsw-2026,0\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		cfg     config.CrawlConfig
		want    []string
		wantErr bool
	}{
		{name: "args win", args: []string{"a-b"}, cfg: config.CrawlConfig{Localities: []string{"c-d"}}, want: []string{"a-b"}},
		{name: "config list", cfg: config.CrawlConfig{Localities: []string{"c-d"}}, want: []string{"c-d"}},
		{name: "file", cfg: config.CrawlConfig{LocalitiesFile: file}, want: []string{"manly-nsw-2095"}},
		{name: "none", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveLocalities(tt.args, config.Config{Crawl: tt.cfg})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDay(t *testing.T) {
	t.Parallel()

	day, err := resolveDay("", "20240301")
	require.NoError(t, err)
	assert.Equal(t, "20240301", day)

	day, err = resolveDay("20231231", "20240301")
	require.NoError(t, err)
	assert.Equal(t, "20231231", day)

	_, err = resolveDay("2023-12-31", "20240301")
	require.Error(t, err)
}
