package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultNavTimeout = 45 * time.Second

// ChromeConfig controls how browser sessions are launched.
type ChromeConfig struct {
	UserAgent         string
	ExecPath          string
	NavigationTimeout time.Duration
	Settle            time.Duration
	// NavigationsPerSecond paces navigations across every session started by
	// the launcher. Zero disables pacing.
	NavigationsPerSecond float64
}

// ChromeLauncher starts one Chrome process per session via chromedp.
type ChromeLauncher struct {
	cfg     ChromeConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewChromeLauncher validates cfg and builds a launcher.
func NewChromeLauncher(cfg ChromeConfig, logger *zap.Logger) (*ChromeLauncher, error) {
	if cfg.NavigationsPerSecond < 0 {
		return nil, fmt.Errorf("navigations per second must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.NavigationsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NavigationsPerSecond), 1)
	}
	return &ChromeLauncher{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Launch starts a new browser and warms it up so launch failures surface here
// rather than on the first navigation.
func (l *ChromeLauncher) Launch(ctx context.Context, headless bool) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(headless)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))

	// The first Run allocates the browser and must use browserCtx itself; a
	// child deadline there would tear the browser down when it expires.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp start: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(browserCtx, l.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(warmCtx, l.networkSetupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		limiter:     l.limiter,
		timeout:     l.navTimeout(),
		settle:      l.cfg.Settle,
	}, nil
}

func (l *ChromeLauncher) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("hide-scrollbars", true),
	)
	if headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

func (l *ChromeLauncher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	limiter     *rate.Limiter
	timeout     time.Duration
	settle      time.Duration
}

// Render waits for a navigation slot, then navigates within the session's
// own tab. Once navigation starts only the navigation timeout can stop it.
func (b *chromeBrowser) Render(ctx context.Context, url string) (string, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait navigation slot: %w", err)
		}
	}
	navCtx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.settle > 0 {
		actions = append(actions, chromedp.Sleep(b.settle))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (b *chromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

func (l *ChromeLauncher) navTimeout() time.Duration {
	if l.cfg.NavigationTimeout > 0 {
		return l.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}
