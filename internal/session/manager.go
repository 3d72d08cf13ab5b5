// Package session owns browser session lifecycles. A session is an opaque,
// stateful navigation context: it is acquired for one locality, replaced
// outright on rotation, and released on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrSessionClosed is returned when a released handle is used.
var ErrSessionClosed = errors.New("session closed")

// Browser is one live browser session capable of rendering pages.
type Browser interface {
	// Render navigates to url and returns the rendered document markup.
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// Launcher starts new browser sessions.
type Launcher interface {
	Launch(ctx context.Context, headless bool) (Browser, error)
}

// Handle is the caller-facing reference to a live session. It must not be
// shared across concurrent fetches.
type Handle struct {
	id         uint64
	generation int
	headless   bool

	mu      sync.Mutex
	browser Browser
	closed  bool
}

// ID uniquely identifies the handle within its Manager.
func (h *Handle) ID() uint64 { return h.id }

// Generation counts rotations since the first acquire for a locality.
func (h *Handle) Generation() int { return h.generation }

// Render proxies to the underlying browser while the handle is open.
func (h *Handle) Render(ctx context.Context, url string) (string, error) {
	h.mu.Lock()
	browser, closed := h.browser, h.closed
	h.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}
	html, err := browser.Render(ctx, url)
	if err != nil {
		return "", fmt.Errorf("session %d render: %w", h.id, err)
	}
	return html, nil
}

// Manager acquires, rotates, and releases sessions.
type Manager struct {
	launcher Launcher
	logger   *zap.Logger
	nextID   atomic.Uint64
	live     atomic.Int64
}

// NewManager wires a Launcher into a Manager.
func NewManager(launcher Launcher, logger *zap.Logger) (*Manager, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{launcher: launcher, logger: logger}, nil
}

// Acquire launches a fresh session at generation 0. Failures are returned to
// the caller without retry.
func (m *Manager) Acquire(ctx context.Context, headless bool) (*Handle, error) {
	return m.launch(ctx, headless, 0)
}

// Rotate releases current and returns a brand-new session one generation
// later. The old browser is closed, never reused.
func (m *Manager) Rotate(ctx context.Context, current *Handle) (*Handle, error) {
	if current == nil {
		return nil, fmt.Errorf("rotate: handle is required")
	}
	m.Release(current)
	next, err := m.launch(ctx, current.headless, current.generation+1)
	if err != nil {
		return nil, fmt.Errorf("rotate session %d: %w", current.id, err)
	}
	m.logger.Info("session rotated",
		zap.Uint64("previous", current.id),
		zap.Uint64("current", next.id),
		zap.Int("generation", next.generation),
	)
	return next, nil
}

// Release closes the handle's browser. It is safe to call more than once.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	browser := h.browser
	h.browser = nil
	h.mu.Unlock()

	m.live.Add(-1)
	if err := browser.Close(); err != nil {
		m.logger.Warn("session close failed", zap.Uint64("session", h.id), zap.Error(err))
	}
}

// Live reports the number of sessions acquired and not yet released.
func (m *Manager) Live() int64 {
	return m.live.Load()
}

func (m *Manager) launch(ctx context.Context, headless bool, generation int) (*Handle, error) {
	browser, err := m.launcher.Launch(ctx, headless)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	h := &Handle{
		id:         m.nextID.Add(1),
		generation: generation,
		headless:   headless,
		browser:    browser,
	}
	m.live.Add(1)
	m.logger.Debug("session acquired", zap.Uint64("session", h.id), zap.Int("generation", generation))
	return h, nil
}
