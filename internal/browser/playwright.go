package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Playwright is a Driver backed by playwright-go and Chromium.
type Playwright struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	install     bool
	initialized bool
	log         *zap.Logger
}

// NewPlaywright returns an uninitialized driver. When install is true the
// browser binaries are downloaded on first use.
func NewPlaywright(log *zap.Logger, install bool) *Playwright {
	return &Playwright{install: install, log: log.Named("browser")}
}

func (p *Playwright) initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if p.install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	p.pw = pw
	p.initialized = true
	return nil
}

// NewSession launches a browser with one context and one page.
func (p *Playwright) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.initialize(); err != nil {
		return nil, err
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = DefaultNavTimeout
	}

	browser, err := p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled", "--no-sandbox"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultNavigationTimeout(millis(opts.NavigationTimeout))
	page.SetDefaultTimeout(millis(opts.NavigationTimeout))

	return &pwSession{
		browser:  browser,
		bctx:     bctx,
		page:     page,
		delayMin: opts.InputDelayMin,
		delayMax: opts.InputDelayMax,
	}, nil
}

// Close stops the playwright driver process.
func (p *Playwright) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || p.pw == nil {
		return nil
	}
	p.initialized = false
	if err := p.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwSession struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page

	delayMin, delayMax time.Duration
	closeOnce          sync.Once
	closeErr           error
}

func (s *pwSession) Navigate(ctx context.Context, url string, until WaitUntil) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{WaitUntil: waitState(until)}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, translate(err))
	}
	return nil
}

func (s *pwSession) Back(ctx context.Context, until WaitUntil) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.GoBack(playwright.PageGoBackOptions{WaitUntil: waitState(until)}); err != nil {
		return fmt.Errorf("history back failed: %w", translate(err))
	}
	return nil
}

func (s *pwSession) Click(ctx context.Context, selector string) error {
	if err := s.pause(ctx); err != nil {
		return err
	}
	if err := s.page.Click(selector); err != nil {
		return fmt.Errorf("click %q failed: %w", selector, translate(err))
	}
	return nil
}

func (s *pwSession) ClickAndWaitResponse(ctx context.Context, selector, urlSubstring string, timeout time.Duration) error {
	if err := s.pause(ctx); err != nil {
		return err
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(urlSubstring))
	_, err := s.page.ExpectResponse(pattern, func() error {
		return s.page.Click(selector)
	}, playwright.PageExpectResponseOptions{Timeout: playwright.Float(millis(timeout))})
	if err != nil {
		return fmt.Errorf("click %q awaiting %q failed: %w", selector, urlSubstring, translate(err))
	}
	return nil
}

func (s *pwSession) WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return s.waitFor(ctx, selector, playwright.WaitForSelectorStateAttached, timeout)
}

func (s *pwSession) WaitForVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return s.waitFor(ctx, selector, playwright.WaitForSelectorStateVisible, timeout)
}

func (s *pwSession) waitFor(ctx context.Context, selector string, state *playwright.WaitForSelectorState, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   state,
		Timeout: playwright.Float(millis(timeout)),
	})
	return present(err)
}

func (s *pwSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("read content: %w", translate(err))
	}
	return html, nil
}

func (s *pwSession) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := s.page.Evaluate(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", translate(err))
	}
	return v, nil
}

func (s *pwSession) EvaluateAndWaitNavigation(ctx context.Context, expression string, until WaitUntil, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.ExpectNavigation(func() error {
		_, err := s.page.Evaluate(expression)
		return err
	}, playwright.PageExpectNavigationOptions{
		WaitUntil: waitState(until),
		Timeout:   playwright.Float(millis(timeout)),
	})
	if err != nil {
		return fmt.Errorf("evaluate %q awaiting navigation failed: %w", expression, translate(err))
	}
	return nil
}

func (s *pwSession) Frames(ctx context.Context) ([]Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := s.page.Frames()
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, &pwFrame{frame: f})
	}
	return out, nil
}

func (s *pwSession) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := s.bctx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", translate(err))
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		ck := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			ck.SameSite = string(*c.SameSite)
		}
		out = append(out, ck)
	}
	return out, nil
}

func (s *pwSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}
	opt := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if oc.Path == nil || *oc.Path == "" {
			oc.Path = playwright.String("/")
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.SameSite != "" {
			ss := playwright.SameSiteAttribute(c.SameSite)
			oc.SameSite = &ss
		}
		opt = append(opt, oc)
	}
	if err := s.bctx.AddCookies(opt); err != nil {
		return fmt.Errorf("set cookies: %w", translate(err))
	}
	return nil
}

func (s *pwSession) URL() string { return s.page.URL() }

func (s *pwSession) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", translate(err))
	}
	return nil
}

// Close releases page, context and browser. Safe to call more than once.
func (s *pwSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.bctx.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// pause simulates operator think time before an input event.
func (s *pwSession) pause(ctx context.Context) error {
	d := s.delayMin
	if span := s.delayMax - s.delayMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type pwFrame struct {
	frame playwright.Frame
}

func (f *pwFrame) URL() string  { return f.frame.URL() }
func (f *pwFrame) Name() string { return f.frame.Name() }

func (f *pwFrame) WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return f.waitFor(ctx, selector, playwright.WaitForSelectorStateAttached, timeout)
}

func (f *pwFrame) WaitForVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return f.waitFor(ctx, selector, playwright.WaitForSelectorStateVisible, timeout)
}

func (f *pwFrame) waitFor(ctx context.Context, selector string, state *playwright.WaitForSelectorState, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := f.frame.WaitForSelector(selector, playwright.FrameWaitForSelectorOptions{
		State:   state,
		Timeout: playwright.Float(millis(timeout)),
	})
	return present(err)
}

func (f *pwFrame) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.frame.Click(selector); err != nil {
		return fmt.Errorf("frame click %q failed: %w", selector, translate(err))
	}
	return nil
}

func present(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return false, nil
	}
	return false, err
}

// translate maps playwright timeouts onto ErrTimeout so callers need not
// import playwright.
func translate(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func waitState(until WaitUntil) *playwright.WaitUntilState {
	if until == "" {
		until = WaitLoad
	}
	w := playwright.WaitUntilState(until)
	return &w
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
