// Package tabs resolves the browser tab the agent should automate
// against. The active tab is often transiently unavailable while the
// browser settles after a click or navigation, so resolution retries with
// backoff before falling through the fallback tiers.
package tabs

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

var (
	// ErrNoTab means every tier was exhausted without a usable tab
	ErrNoTab = errors.New("no usable tab found")

	// ErrInvalidURL means a tab resolved but points at a page that
	// cannot be automated. The caller must redirect navigation before
	// retrying.
	ErrInvalidURL = errors.New("tab is not automatable")
)

// Browser is the view of the host browser the locator needs
type Browser interface {
	ActiveTab(ctx context.Context) (models.Tab, error)
	Tabs(ctx context.Context) ([]models.Tab, error)
}

const (
	defaultMaxAttempts  = 5
	defaultInitialDelay = time.Second
	defaultBackoff      = 1.5
)

// Locator resolves the current target tab
type Locator struct {
	browser Browser
	logger  *zap.Logger

	maxAttempts  int
	initialDelay time.Duration
	backoff      float64
}

// Option tunes locator retry behavior
type Option func(*Locator)

// WithRetry overrides the retry schedule
func WithRetry(attempts int, initialDelay time.Duration, backoff float64) Option {
	return func(l *Locator) {
		l.maxAttempts = attempts
		l.initialDelay = initialDelay
		l.backoff = backoff
	}
}

// NewLocator creates a locator with the default retry schedule
// (5 attempts, 1s initial delay, x1.5 growth)
func NewLocator(browser Browser, logger *zap.Logger, opts ...Option) *Locator {
	l := &Locator{
		browser:      browser,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		initialDelay: defaultInitialDelay,
		backoff:      defaultBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve finds the tab to automate against. Tier 1 retries the active
// tab with backoff; tier 2 scans all tabs for one flagged active; tier 3
// accepts any tab with an automatable URL. Returns ErrNoTab only after
// all tiers are exhausted, or ErrInvalidURL when a tab resolved but its
// page cannot be automated.
func (l *Locator) Resolve(ctx context.Context) (models.Tab, error) {
	delay := l.initialDelay
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		tab, err := l.browser.ActiveTab(ctx)
		if err == nil {
			if !AutomatableURL(tab.URL) {
				l.logger.Warn("active tab is not automatable", zap.String("url", tab.URL))
				return tab, ErrInvalidURL
			}
			return tab, nil
		}
		lastErr = err

		if attempt < l.maxAttempts {
			l.logger.Debug("active tab unavailable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return models.Tab{}, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * l.backoff)
		}
	}

	l.logger.Warn("active tab retries exhausted, scanning all tabs", zap.Error(lastErr))

	tabList, err := l.browser.Tabs(ctx)
	if err != nil {
		return models.Tab{}, ErrNoTab
	}

	// Tier 2: any tab the browser flags active
	for _, tab := range tabList {
		if tab.Active {
			if !AutomatableURL(tab.URL) {
				return tab, ErrInvalidURL
			}
			return tab, nil
		}
	}

	// Tier 3: any tab with a resolvable, non-internal address
	for _, tab := range tabList {
		if AutomatableURL(tab.URL) {
			l.logger.Info("fell back to first automatable tab",
				zap.Int("tab", tab.ID),
				zap.String("url", tab.URL))
			return tab, nil
		}
	}

	return models.Tab{}, ErrNoTab
}

// internalPrefixes are browser-internal schemes that cannot host the page
// agent
var internalPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"devtools://",
	"view-source:",
	"brave://",
	"opera://",
	"vivaldi://",
}

// AutomatableURL reports whether a page at the given address can host the
// page agent. Internal browser surfaces (settings, extension pages, new
// tab) are rejected.
func AutomatableURL(raw string) bool {
	if raw == "" {
		return false
	}
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return false
		}
	}
	return true
}
