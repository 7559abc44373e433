// Package browser drives a Chromium page through playwright and exposes
// it to the engines as a dom.Document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Defaults for Options.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	DefaultTimeoutMs      = 30000
)

// ErrClosed is returned after the session has been closed.
var ErrClosed = errors.New("browser session closed")

// Options configures how the browser is launched.
type Options struct {
	Headless bool
	// UserDataDir keeps cookies and logins between daemon runs. Empty
	// launches a throwaway profile.
	UserDataDir string
	StartURL    string
	Width       int
	Height      int
	TimeoutMs   float64
	// SkipInstall assumes the driver and Chromium are already present.
	SkipInstall bool
}

// Session owns the playwright driver, the browser and the page the engines
// operate on.
type Session struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	doc     *Document
	logger  *slog.Logger
	closed  bool
}

// Launch installs (unless skipped) and starts playwright, opens Chromium
// and navigates to StartURL.
func Launch(ctx context.Context, opts Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser")
	applyDefaults(&opts)

	// Discard driver output so it does not interleave with the daemon log.
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if !opts.SkipInstall {
		logger.Info("installing playwright driver")
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	s := &Session{pw: pw, logger: logger}

	if err := s.open(opts); err != nil {
		_ = s.Close()
		return nil, err
	}

	if opts.StartURL != "" {
		logger.Info("navigating", "url", opts.StartURL)
		if _, err := s.page.Goto(opts.StartURL); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("navigate to %s: %w", opts.StartURL, err)
		}
	}

	doc, err := NewDocument(s.page, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.doc = doc
	logger.Info("browser ready", "headless", opts.Headless, "profile", opts.UserDataDir != "")
	return s, nil
}

func applyDefaults(opts *Options) {
	if opts.Width <= 0 {
		opts.Width = DefaultViewportWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultViewportHeight
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = DefaultTimeoutMs
	}
}

func (s *Session) open(opts Options) error {
	viewport := &playwright.Size{Width: opts.Width, Height: opts.Height}

	if opts.UserDataDir != "" {
		bc, err := s.pw.Chromium.LaunchPersistentContext(opts.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(opts.Headless),
			Viewport: viewport,
		})
		if err != nil {
			return fmt.Errorf("launch persistent browser: %w", err)
		}
		s.context = bc
		if pages := bc.Pages(); len(pages) > 0 {
			s.page = pages[0]
		}
	} else {
		b, err := s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		s.browser = b
		bc, err := b.NewContext(playwright.BrowserNewContextOptions{Viewport: viewport})
		if err != nil {
			return fmt.Errorf("create browser context: %w", err)
		}
		s.context = bc
	}

	if s.page == nil {
		page, err := s.context.NewPage()
		if err != nil {
			return fmt.Errorf("create page: %w", err)
		}
		s.page = page
	}
	s.page.SetDefaultTimeout(opts.TimeoutMs)
	return nil
}

// Document returns the page as a dom.Document.
func (s *Session) Document() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.doc, nil
}

// URL returns the page's current URL.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.page == nil {
		return ""
	}
	return s.page.URL()
}

// Close releases the page, the browser and the driver. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	s.logger.Info("browser closed")
	return errors.Join(errs...)
}
