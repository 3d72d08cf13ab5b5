package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures the Telegram bot destination. In production mode
// the chat is looked up by Group in ChatGroups; otherwise ChatID is used.
type TelegramConfig struct {
	Enabled    bool
	BotToken   string
	ChatID     string
	Production bool
	Group      string
	ChatGroups map[string]string
	BaseURL    string
	Timeout    time.Duration
}

// ResolveChatID picks the chat a message goes to. An empty result means no
// chat is configured.
func (c TelegramConfig) ResolveChatID() string {
	if c.Production && c.Group != "" {
		if id, ok := c.ChatGroups[c.Group]; ok && id != "" {
			return id
		}
	}
	return c.ChatID
}

// Telegram sends notices through the Bot API sendMessage call. Without a
// token or chat it logs the message instead.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	logger *zap.Logger
}

// NewTelegram builds the destination. A nil client gets one with cfg.Timeout.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *zap.Logger) (*Telegram, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse telegram base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{cfg: cfg, client: client, logger: logger}, nil
}

// Name implements Destination.
func (*Telegram) Name() string { return "telegram" }

// Send implements Destination.
func (t *Telegram) Send(ctx context.Context, message string) error {
	chatID := t.cfg.ResolveChatID()
	if t.cfg.BotToken == "" || chatID == "" {
		t.logger.Info("telegram not configured, logging notice", zap.String("message", message))
		return nil
	}
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("parse_mode", "Markdown")
	params.Set("disable_web_page_preview", "true")
	params.Set("text", message)
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.BotToken, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", redact(err, t.cfg.BotToken))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close implements Destination.
func (t *Telegram) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

// redact keeps the bot token out of logs; url.Error embeds the full URL.
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}
