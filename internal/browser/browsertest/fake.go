// Package browsertest provides a scripted in-memory browser.Session for
// exercising page-driving code without a real browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser"
)

// Page is one scripted document keyed by URL.
type Page struct {
	HTML string
	// Elements lists the selectors that are attached on this page.
	Elements map[string]bool
	// Hidden marks attached elements that are not rendered visibly.
	Hidden map[string]bool
	Frames []*Frame
	// Links maps a clickable selector to the URL that replaces the current
	// page in place (an in-page form post, no history entry).
	Links map[string]string
	// OnClick runs after a click on the given selector.
	OnClick map[string]func()
	// SetCookie is applied to the jar whenever the page is navigated to.
	SetCookie []browser.Cookie
}

// Frame is a scripted sub-document.
type Frame struct {
	FrameURL  string
	FrameName string
	Elements  map[string]bool
	Hidden    map[string]bool
	OnClick   map[string]func()

	mu     sync.Mutex
	Clicks []string
}

func (f *Frame) URL() string  { return f.FrameURL }
func (f *Frame) Name() string { return f.FrameName }

func (f *Frame) WaitForElement(_ context.Context, selector string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Elements[selector], nil
}

func (f *Frame) WaitForVisible(_ context.Context, selector string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Elements[selector] && !f.Hidden[selector], nil
}

func (f *Frame) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	f.Clicks = append(f.Clicks, selector)
	fn := f.OnClick[selector]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Session is a fake browser.Session. Exported fields may be inspected after
// the code under test has run.
type Session struct {
	mu sync.Mutex

	Pages map[string]*Page
	// Scripts maps an evaluated expression to the URL it navigates to. An
	// empty URL leaves the current page displayed.
	Scripts map[string]string
	// Fail injects an error for the named method ("Navigate", "Click", ...).
	Fail map[string]error

	Jar        []browser.Cookie
	Visited    []string
	Clicked    []string
	Shots      []string
	CloseCount int

	current string
	history []string
}

// NewSession returns a session serving pages.
func NewSession(pages map[string]*Page) *Session {
	return &Session{Pages: pages, Fail: map[string]error{}, Scripts: map[string]string{}}
}

var _ browser.Session = (*Session)(nil)

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount > 0
}

// Page returns the page currently displayed.
func (s *Session) Page() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Pages[s.current]
}

func (s *Session) fail(op string) error {
	if err := s.Fail[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Session) Navigate(ctx context.Context, url string, _ browser.WaitUntil) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("Navigate"); err != nil {
		return err
	}
	if _, ok := s.Pages[url]; !ok {
		return fmt.Errorf("navigate %s: %w", url, browser.ErrTimeout)
	}
	if s.current != "" {
		s.history = append(s.history, s.current)
	}
	s.current = url
	s.Visited = append(s.Visited, url)
	s.upsert(s.Pages[url].SetCookie)
	return nil
}

func (s *Session) Back(_ context.Context, _ browser.WaitUntil) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Back"); err != nil {
		return err
	}
	if len(s.history) == 0 {
		return errors.New("back: no history")
	}
	s.current = s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return nil
}

func (s *Session) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	if err := s.fail("Click"); err != nil {
		s.mu.Unlock()
		return err
	}
	page := s.Pages[s.current]
	if page == nil || !page.Elements[selector] {
		s.mu.Unlock()
		return fmt.Errorf("click %s: %w", selector, browser.ErrTimeout)
	}
	s.Clicked = append(s.Clicked, selector)
	if to, ok := page.Links[selector]; ok {
		s.current = to
	}
	fn := page.OnClick[selector]
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (s *Session) ClickAndWaitResponse(ctx context.Context, selector, _ string, _ time.Duration) error {
	if err := s.fail("ClickAndWaitResponse"); err != nil {
		return err
	}
	return s.Click(ctx, selector)
}

func (s *Session) WaitForElement(_ context.Context, selector string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("WaitForElement"); err != nil {
		return false, err
	}
	page := s.Pages[s.current]
	return page != nil && page.Elements[selector], nil
}

func (s *Session) WaitForVisible(_ context.Context, selector string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("WaitForVisible"); err != nil {
		return false, err
	}
	page := s.Pages[s.current]
	return page != nil && page.Elements[selector] && !page.Hidden[selector], nil
}

func (s *Session) Content(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Content"); err != nil {
		return "", err
	}
	if page := s.Pages[s.current]; page != nil {
		return page.HTML, nil
	}
	return "", nil
}

func (s *Session) Evaluate(ctx context.Context, expression string) (any, error) {
	s.mu.Lock()
	to, ok := s.Scripts[expression]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evaluate %q: not scripted", expression)
	}
	if to == "" {
		return nil, nil
	}
	return nil, s.Navigate(ctx, to, browser.WaitLoad)
}

func (s *Session) EvaluateAndWaitNavigation(ctx context.Context, expression string, until browser.WaitUntil, _ time.Duration) error {
	s.mu.Lock()
	to, ok := s.Scripts[expression]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("evaluate %q: not scripted", expression)
	}
	if to == "" {
		return fmt.Errorf("evaluate %q: no navigation: %w", expression, browser.ErrTimeout)
	}
	return s.Navigate(ctx, to, until)
}

func (s *Session) Frames(_ context.Context) ([]browser.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := s.Pages[s.current]
	if page == nil {
		return nil, nil
	}
	out := make([]browser.Frame, 0, len(page.Frames))
	for _, f := range page.Frames {
		out = append(out, f)
	}
	return out, nil
}

func (s *Session) Cookies(_ context.Context) ([]browser.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Cookies"); err != nil {
		return nil, err
	}
	return append([]browser.Cookie(nil), s.Jar...), nil
}

func (s *Session) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetCookies"); err != nil {
		return err
	}
	s.upsert(cookies)
	return nil
}

// upsert replaces cookies with the same name, domain and path.
func (s *Session) upsert(cookies []browser.Cookie) {
	for _, c := range cookies {
		replaced := false
		for i, have := range s.Jar {
			if have.Name == c.Name && have.Domain == c.Domain && have.Path == c.Path {
				s.Jar[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.Jar = append(s.Jar, c)
		}
	}
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Screenshot(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Shots = append(s.Shots, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

// Driver hands out prepared sessions in order.
type Driver struct {
	mu       sync.Mutex
	Sessions []*Session
	// NewErr fails the n-th NewSession call (0-based) when set.
	NewErr map[int]error
	Opened int
	Closed bool
}

var _ browser.Driver = (*Driver)(nil)

func (d *Driver) NewSession(_ context.Context, _ browser.SessionOptions) (browser.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.Opened
	d.Opened++
	if err := d.NewErr[n]; err != nil {
		return nil, err
	}
	if n >= len(d.Sessions) {
		return nil, fmt.Errorf("browsertest: no session %d prepared", n)
	}
	return d.Sessions[n], nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}
