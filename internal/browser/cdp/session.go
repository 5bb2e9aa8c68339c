// internal/browser/cdp/session.go

// Package cdp implements the engine's document query port on top of the
// Chrome DevTools Protocol using chromedp.
//
// Every document (the page and each same-process iframe) gets its own
// isolated JavaScript world in which the embedded matcher is installed, so
// page scripts can neither observe nor break element resolution.
//
// Only frames rendered by the page's own process are reachable. Cross-origin
// iframes run out of process under site isolation; they are listed by
// ListDocuments but every query against them fails with
// ErrOutOfProcessFrame. Use the playwright driver for flows that live in
// such frames, for example a third-party sign-in embedded in an iframe.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/steady/internal/engine"
)

// Options configures browser launch and per-operation limits.
type Options struct {
	Headless bool
	// ExecPath overrides chromedp's browser discovery.
	ExecPath string
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL    string
	UserDataDir  string
	WindowWidth  int
	WindowHeight int
	// Args are extra command line switches, "--name" or "--name=value".
	Args []string
	// ActionTimeout bounds a single protocol round trip.
	ActionTimeout time.Duration
	// MinActionInterval paces input dispatch; zero disables pacing.
	MinActionInterval time.Duration
}

// Session is one browser tab. It implements engine.Port and engine.Navigator.
type Session struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	opts        Options
	limiter     *rate.Limiter

	mu       sync.Mutex
	worlds   map[cdptypes.FrameID]world
	handlers []func(engine.Dialog)

	closeOnce sync.Once
}

var (
	_ engine.Port      = (*Session)(nil)
	_ engine.Navigator = (*Session)(nil)
)

// allocatorOptions builds the exec allocator option list from opts.
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	out := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if opts.Headless {
		out = append(out, chromedp.Headless)
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		out = append(out, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	for _, arg := range opts.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			out = append(out, chromedp.Flag(key, value))
		} else {
			out = append(out, chromedp.Flag(key, true))
		}
	}
	return out
}

// Open launches (or attaches to) a browser and creates a tab.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 15 * time.Second
	}
	log := logger.Named("cdp")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(Detach(ctx), opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(opts)...)
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf))

	s := &Session{
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		logger:      log,
		opts:        opts,
		worlds:      make(map[cdptypes.FrameID]world),
	}
	if opts.MinActionInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.MinActionInterval), 1)
	}

	startCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	// The first Run starts the browser and attaches to the tab.
	if err := s.runActions(startCtx, page.Enable(), runtime.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	log.Info("Browser session opened.", zap.Bool("headless", opts.Headless), zap.Bool("remote", opts.RemoteURL != ""))
	return s, nil
}

// Close shuts the tab and, for launched browsers, the browser process.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
		s.logger.Debug("Browser session closed.")
	})
	return nil
}

// runActions executes actions against the tab, bounded by ctx and the
// session's lifetime.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()
	combined, cancelCombined := CombineContext(s.ctx, opCtx)
	defer cancelCombined()

	err := chromedp.Run(combined, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("cdp operation timed out after %s: %w", s.opts.ActionTimeout, opCtx.Err())
	}
	return err
}

func (s *Session) pace(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// URL returns the top-level document URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// WaitForURL polls the location until it matches pattern or ctx ends.
func (s *Session) WaitForURL(ctx context.Context, pattern *regexp.Regexp) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var last string
	for {
		loc, err := s.URL(ctx)
		if err == nil {
			last = loc
			if pattern.MatchString(loc) {
				return nil
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("url %q never matched /%s/: %w", last, pattern, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		s.dispatchDialog(e)
	case *page.EventFrameNavigated:
		s.forgetWorld(e.Frame.ID)
	case *page.EventFrameDetached:
		s.forgetWorld(e.FrameID)
	case *runtime.EventExecutionContextsCleared:
		s.mu.Lock()
		s.worlds = make(map[cdptypes.FrameID]world)
		s.mu.Unlock()
	}
}

// contextGone reports protocol errors raised when an execution context or
// frame disappears mid-call.
func contextGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"Cannot find context with specified id",
		"Execution context was destroyed",
		"No frame with given id",
		"Inspected target navigated or closed",
		"Cannot find default execution context",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return errors.Is(err, engine.ErrDetached)
}
