// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sold-listings-crawler/internal/crawl"
	"github.com/JakeFAU/sold-listings-crawler/internal/fetcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
	"github.com/JakeFAU/sold-listings-crawler/internal/notify"
	"github.com/JakeFAU/sold-listings-crawler/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. SOLDCRAWLER_CRAWL_PAGE_CAP.
const EnvPrefix = "SOLDCRAWLER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Source  SourceConfig  `mapstructure:"source"`
	Browser BrowserConfig `mapstructure:"browser"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Counts  CountsConfig  `mapstructure:"counts"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes the listings site.
type SourceConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Query         string `mapstructure:"query"`
	CardSelector  string `mapstructure:"card_selector"`
	CountSelector string `mapstructure:"count_selector"`
	ExpectedCards int    `mapstructure:"expected_cards"`
}

// BrowserConfig configures the chromedp sessions.
type BrowserConfig struct {
	Headless             bool    `mapstructure:"headless"`
	NavTimeoutSeconds    int     `mapstructure:"nav_timeout_seconds"`
	SettleMillis         int     `mapstructure:"settle_ms"`
	UserAgent            string  `mapstructure:"user_agent"`
	ChromePath           string  `mapstructure:"chrome_path"`
	NavigationsPerSecond float64 `mapstructure:"navigations_per_second"`
}

// CrawlConfig governs the per-locality crawl.
type CrawlConfig struct {
	Localities     []string `mapstructure:"localities"`
	LocalitiesFile string   `mapstructure:"localities_file"`
	CutoffDate     string   `mapstructure:"cutoff_date"`
	StartPage      int      `mapstructure:"start_page"`
	PageCap        int      `mapstructure:"page_cap"`
	MaxPages       int      `mapstructure:"max_pages"`
	RotateEvery    int      `mapstructure:"rotate_every"`
	MaxAttempts    int      `mapstructure:"max_attempts"`
	Concurrency    int      `mapstructure:"concurrency"`
	Timezone       string   `mapstructure:"timezone"`
	ProgressBar    bool     `mapstructure:"progress_bar"`
}

// CountsConfig governs the listing-count probe.
type CountsConfig struct {
	RotateEvery int `mapstructure:"rotate_every"`
}

// StorageConfig sets the artifact root and optional GCS export.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig controls the optional Postgres export.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// NotifyConfig enumerates notification destinations.
type NotifyConfig struct {
	Log      bool           `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// TelegramConfig holds bot credentials and chat routing.
type TelegramConfig struct {
	Enabled    bool              `mapstructure:"enabled"`
	BotToken   string            `mapstructure:"bot_token"`
	ChatID     string            `mapstructure:"chat_id"`
	Production bool              `mapstructure:"production"`
	Group      string            `mapstructure:"group"`
	ChatGroups map[string]string `mapstructure:"chat_groups"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load builds a Config from an optional YAML file, a .env file in the working
// directory, and SOLDCRAWLER_* environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("source.base_url", "https://www.domain.com.au/sold-listings")
	v.SetDefault("source.query", "excludepricewithheld=1&ssubs=0")
	v.SetDefault("source.card_selector", ".css-1qp9106")
	v.SetDefault("source.count_selector", ".css-ekkwk0")
	v.SetDefault("source.expected_cards", 20)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.settle_ms", 1500)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.chrome_path", "")
	v.SetDefault("browser.navigations_per_second", 0.5)
	v.SetDefault("crawl.localities", []string{})
	v.SetDefault("crawl.localities_file", "")
	v.SetDefault("crawl.cutoff_date", "2021-07-01")
	v.SetDefault("crawl.start_page", 1)
	v.SetDefault("crawl.page_cap", 50)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.rotate_every", 25)
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("crawl.timezone", "Australia/Sydney")
	v.SetDefault("crawl.progress_bar", false)
	v.SetDefault("counts.rotate_every", 30)
	v.SetDefault("storage.output_dir", "data/domain/sales-selenium")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "collated")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "sold_listings")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.telegram.production", false)
	v.SetDefault("notify.telegram.group", "")
	v.SetDefault("notify.telegram.chat_groups", map[string]string{})
	v.SetDefault("notify.pubsub.enabled", false)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.Cutoff(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Crawl.Timezone); err != nil {
		return fmt.Errorf("crawl.timezone must be a valid IANA zone: %w", err)
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.SettleMillis < 0 {
		return fmt.Errorf("browser.settle_ms must be >= 0")
	}
	if c.Counts.RotateEvery <= 0 {
		return fmt.Errorf("counts.rotate_every must be > 0")
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir must be set")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Notify.Telegram.Production && c.Notify.Telegram.Group != "" {
		if _, ok := c.Notify.Telegram.ChatGroups[strings.ToLower(c.Notify.Telegram.Group)]; !ok {
			return fmt.Errorf("notify.telegram.group %q is not in notify.telegram.chat_groups", c.Notify.Telegram.Group)
		}
	}
	if err := c.FetcherConfig().Validate(); err != nil {
		return err
	}
	cc, err := c.CrawlerConfig()
	if err != nil {
		return err
	}
	if err := cc.Validate(); err != nil {
		return err
	}
	return c.NotifierConfig().Validate()
}

// Cutoff parses crawl.cutoff_date.
func (c Config) Cutoff() (time.Time, error) {
	t, err := time.Parse(listing.DateLayout, c.Crawl.CutoffDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("crawl.cutoff_date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// FetcherConfig maps the source settings onto the page fetcher.
func (c Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		BaseURL:       c.Source.BaseURL,
		Query:         c.Source.Query,
		CardSelector:  c.Source.CardSelector,
		ExpectedCards: c.Source.ExpectedCards,
		MaxAttempts:   c.Crawl.MaxAttempts,
	}
}

// ChromeConfig maps the browser settings onto the session launcher.
func (c Config) ChromeConfig() session.ChromeConfig {
	return session.ChromeConfig{
		UserAgent:            c.Browser.UserAgent,
		ExecPath:             c.Browser.ChromePath,
		NavigationTimeout:    time.Duration(c.Browser.NavTimeoutSeconds) * time.Second,
		Settle:               time.Duration(c.Browser.SettleMillis) * time.Millisecond,
		NavigationsPerSecond: c.Browser.NavigationsPerSecond,
	}
}

// CrawlerConfig maps the crawl settings onto the orchestrator.
func (c Config) CrawlerConfig() (crawl.Config, error) {
	cutoff, err := c.Cutoff()
	if err != nil {
		return crawl.Config{}, err
	}
	return crawl.Config{
		Cutoff:      cutoff,
		StartPage:   c.Crawl.StartPage,
		PageCap:     c.Crawl.PageCap,
		MaxPages:    c.Crawl.MaxPages,
		RotateEvery: c.Crawl.RotateEvery,
		Headless:    c.Browser.Headless,
	}, nil
}

// NotifierConfig maps the notification settings onto notify.Config.
func (c Config) NotifierConfig() notify.Config {
	// Viper lowercases map keys, so the group name is matched lowercased.
	groups := make(map[string]string, len(c.Notify.Telegram.ChatGroups))
	for k, v := range c.Notify.Telegram.ChatGroups {
		groups[k] = v
	}
	return notify.Config{
		Log: c.Notify.Log,
		Telegram: notify.TelegramConfig{
			Enabled:    c.Notify.Telegram.Enabled,
			BotToken:   c.Notify.Telegram.BotToken,
			ChatID:     c.Notify.Telegram.ChatID,
			Production: c.Notify.Telegram.Production,
			Group:      strings.ToLower(c.Notify.Telegram.Group),
			ChatGroups: groups,
		},
		PubSub: notify.PubSubConfig{
			Enabled:   c.Notify.PubSub.Enabled,
			ProjectID: c.Notify.PubSub.ProjectID,
			Topic:     c.Notify.PubSub.Topic,
		},
	}
}
