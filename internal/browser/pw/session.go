// internal/browser/pw/session.go

// Package pw implements the engine's document query port with
// playwright-go. Descriptors map onto Playwright's own locator builders, so
// element resolution and actionability follow Playwright's rules.
package pw

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/steady/internal/engine"
)

const (
	installTimeout = 5 * time.Minute
	launchTimeout  = 60 * time.Second
	// probeTimeout bounds the non-waiting state queries the engine polls.
	probeTimeout = time.Second
)

// Options configures the Playwright driver and browser launch.
type Options struct {
	Headless bool
	ExecPath string
	// RemoteURL connects to a running Chromium over CDP instead of launching.
	RemoteURL    string
	WindowWidth  int
	WindowHeight int
	Args         []string
	// SkipInstall assumes the driver and browsers are already present.
	SkipInstall       bool
	ActionTimeout     time.Duration
	MinActionInterval time.Duration
}

// Session owns a Playwright driver, one browser, one context and one page.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	handlers []func(engine.Dialog)

	closeOnce sync.Once
	closeErr  error
}

var (
	_ engine.Port      = (*Session)(nil)
	_ engine.Navigator = (*Session)(nil)
)

func launchOptions(opts Options) playwright.BrowserTypeLaunchOptions {
	lo := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Timeout:  millis(launchTimeout),
	}
	if opts.ExecPath != "" {
		lo.ExecutablePath = playwright.String(opts.ExecPath)
	}
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--enable-automation",
	}
	lo.Args = append(defaultArgs, opts.Args...)
	return lo
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

// Open starts the driver, launches Chromium and opens a page.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	s := &Session{logger: logger.Named("playwright"), opts: opts}
	if opts.MinActionInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.MinActionInterval), 1)
	}

	if !opts.SkipInstall {
		if err := s.ensureInstallation(ctx); err != nil {
			return nil, err
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	s.pw = pw

	if opts.RemoteURL != "" {
		s.browser, err = pw.Chromium.ConnectOverCDP(opts.RemoteURL)
	} else {
		s.browser, err = pw.Chromium.Launch(launchOptions(opts))
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}

	var ctxOpts playwright.BrowserNewContextOptions
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		ctxOpts.Viewport = &playwright.Size{Width: opts.WindowWidth, Height: opts.WindowHeight}
	}
	if s.bctx, err = s.browser.NewContext(ctxOpts); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if s.page, err = s.bctx.NewPage(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.page.SetDefaultTimeout(float64(opts.ActionTimeout.Milliseconds()))
	s.page.OnDialog(s.dispatchDialog)

	s.logger.Info("Browser ready.", zap.String("browser_version", s.browser.Version()))
	return s, nil
}

func (s *Session) ensureInstallation(ctx context.Context) error {
	s.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// Close shuts down the browser and the driver. It is safe to call twice.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				s.logger.Warn("Error closing browser.", zap.Error(err))
				s.closeErr = err
			}
		}
		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				s.logger.Warn("Error stopping playwright driver.", zap.Error(err))
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

func (s *Session) pace(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{Timeout: millis(s.opts.ActionTimeout)}); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

// WaitForURL waits for the page URL to match pattern, bounded by ctx's
// deadline or the action timeout.
func (s *Session) WaitForURL(ctx context.Context, pattern *regexp.Regexp) error {
	timeout := s.opts.ActionTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	if err := s.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{Timeout: millis(timeout)}); err != nil {
		return fmt.Errorf("waiting for url %s: %w", pattern, err)
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := s.page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}
