package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned (wrapped) when a bounded wait expires.
var ErrTimeout = errors.New("browser: timeout")

// WaitUntil names the load state a navigation waits for.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// Driver creates isolated browser sessions.
type Driver interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close() error
}

// Session is one isolated browser context with a single page.
//
// Timeouts of zero mean "wait without an upper bound".
type Session interface {
	Navigate(ctx context.Context, url string, until WaitUntil) error
	Back(ctx context.Context, until WaitUntil) error
	Click(ctx context.Context, selector string) error
	// ClickAndWaitResponse clicks selector and blocks until a response whose
	// URL contains urlSubstring has been received.
	ClickAndWaitResponse(ctx context.Context, selector, urlSubstring string, timeout time.Duration) error
	// WaitForElement reports whether selector is attached within timeout.
	// Expiry is not an error: it returns false, nil.
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// WaitForVisible is WaitForElement for elements that must also be
	// rendered visibly. Attached but hidden elements report false.
	WaitForVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string) (any, error)
	// EvaluateAndWaitNavigation runs expression and blocks until the main
	// frame has navigated and reached until. A script that never navigates
	// fails with ErrTimeout.
	EvaluateAndWaitNavigation(ctx context.Context, expression string, until WaitUntil, timeout time.Duration) error
	Frames(ctx context.Context) ([]Frame, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	URL() string
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Frame is a sub-document of the page.
type Frame interface {
	URL() string
	Name() string
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	WaitForVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Click(ctx context.Context, selector string) error
}

// Cookie mirrors the fields the watcher persists.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64
	HTTPOnly bool
	Secure   bool
	SameSite string
}

// SessionOptions configures a new session.
type SessionOptions struct {
	Headless          bool
	UserAgent         string
	Locale            string
	Viewport          *Viewport
	NavigationTimeout time.Duration
	InputDelayMin     time.Duration
	InputDelayMax     time.Duration
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	DefaultNavTimeout     = 30 * time.Second
)
