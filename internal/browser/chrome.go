package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// settleDelay gives a click-triggered navigation time to start before the
// document readiness poll begins.
const settleDelay = 250 * time.Millisecond

// ChromeOptions configures the headless Chrome launcher.
type ChromeOptions struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	Flags        []string      // extra "--name" or "--name=value" switches
	StartTimeout time.Duration // default 30s
}

// ChromeLauncher starts one Chrome process per acquired session.
type ChromeLauncher struct {
	opts ChromeOptions
}

// NewChromeLauncher creates a launcher. No browser is started until Acquire.
func NewChromeLauncher(opts ChromeOptions) *ChromeLauncher {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	return &ChromeLauncher{opts: opts}
}

// allocatorOptions mirrors the flags the portal automation has always run
// with in containers.
func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("headless", l.opts.Headless),
	)
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.opts.UserAgent))
	}
	for _, f := range l.opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Acquire starts a browser and opens a tab. The browser's lifetime is tied
// to the returned session, not to ctx; ctx only bounds start-up.
func (l *ChromeLauncher) Acquire(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() {
		// The first Run allocates the browser and must use the tab context
		// itself, otherwise the browser dies with the derived context.
		started <- chromedp.Run(tabCtx)
	}()

	timer := time.NewTimer(l.opts.StartTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-started:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = eris.Errorf("browser did not start within %s", l.opts.StartTimeout)
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: start chrome")
	}

	zap.L().Debug("browser: chrome session started", zap.Bool("headless", l.opts.Headless))
	return &chromeSession{
		ctx:         tabCtx,
		cancelTab:   tabCancel,
		cancelAlloc: allocCancel,
	}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// run executes actions under both the session lifetime and ctx, and maps
// failures onto the package sentinels.
func (s *chromeSession) run(ctx context.Context, what string, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return eris.Wrap(ErrSessionClosed, what)
	}

	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case s.ctx.Err() != nil:
		return eris.Wrapf(ErrSessionClosed, "%s: %v", what, err)
	case ctx.Err() == context.DeadlineExceeded:
		return eris.Wrap(ErrTimeout, what)
	case ctx.Err() != nil:
		return eris.Wrap(ctx.Err(), what)
	}
	return eris.Wrap(err, what)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate "+url,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	err := s.run(ctx, "wait "+selector, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if IsTimeout(err) {
		return eris.Wrapf(ErrElementNotFound, "%s: %v", selector, err)
	}
	return err
}

func (s *chromeSession) Focus(ctx context.Context, selector string) error {
	return s.run(ctx, "focus "+selector, chromedp.Focus(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *chromeSession) Type(ctx context.Context, selector, text string) error {
	return s.run(ctx, "type into "+selector,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, "click "+selector,
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(settleDelay),
		chromedp.ActionFunc(waitDocumentComplete),
	)
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, "read "+selector, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return text, nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, "location", chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *chromeSession) ClearCookies(ctx context.Context) error {
	return s.run(ctx, "clear cookies", network.ClearBrowserCookies())
}

// Close shuts the tab and the browser process.
func (s *chromeSession) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.ctx) }()

		select {
		case err := <-done:
			if err != nil && !eris.Is(err, context.Canceled) {
				s.closeErr = eris.Wrap(err, "browser: close chrome")
			}
		case <-ctx.Done():
			s.closeErr = eris.Wrap(ctx.Err(), "browser: close chrome")
		}
		s.cancelTab()
		s.cancelAlloc()
	})
	return s.closeErr
}

// waitDocumentComplete polls document.readyState until the page finished
// loading or ctx expires.
func waitDocumentComplete(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err == nil && state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
