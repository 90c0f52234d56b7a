package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/width"
)

// Verdict is the outcome of verifying one candidate's detail view.
type Verdict int

const (
	Verified Verdict = iota
	Mismatch
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Verified:
		return "verified"
	case Mismatch:
		return "mismatch"
	default:
		return "blocked"
	}
}

// DetailPage is what the verifier needs from a session.
type DetailPage interface {
	captcha.Page
	Content(ctx context.Context) (string, error)
}

// Checkpoint classifies interstitial state. *captcha.Guard implements it.
type Checkpoint interface {
	Classify(ctx context.Context, p captcha.Page) (captcha.State, error)
	ResolveEntry(ctx context.Context, p captcha.Page) (captcha.State, error)
}

// Verifier confirms the target facility appears on a slot's detail view.
type Verifier struct {
	guard   Checkpoint
	ready   string
	timeout time.Duration
	log     *zap.Logger
}

func NewVerifier(guard Checkpoint, readySelector string, timeout time.Duration, log *zap.Logger) *Verifier {
	return &Verifier{guard: guard, ready: readySelector, timeout: timeout, log: log.Named("verifier")}
}

// Verify waits for the detail grid, re-checks the interstitial state and then
// looks for facility in the page's text nodes.
func (v *Verifier) Verify(ctx context.Context, p DetailPage, facility string) (Verdict, error) {
	ok, err := p.WaitForElement(ctx, v.ready, v.timeout)
	if err != nil {
		return Mismatch, fmt.Errorf("%w: wait detail grid: %v", ErrNavigation, err)
	}
	if !ok {
		// An interstitial may have replaced the page.
		if st, cerr := v.guard.Classify(ctx, p); cerr == nil && st != captcha.Clear {
			return Blocked, nil
		}
		return Mismatch, fmt.Errorf("%w: detail grid %q did not render", ErrNavigation, v.ready)
	}

	st, err := v.guard.Classify(ctx, p)
	if err != nil {
		return Mismatch, err
	}
	if st != captcha.Clear {
		v.log.Info("detail view blocked", zap.Stringer("state", st))
		return Blocked, nil
	}

	body, err := p.Content(ctx)
	if err != nil {
		return Mismatch, err
	}
	found, err := containsText(body, facility)
	if err != nil {
		return Mismatch, err
	}
	if !found {
		return Mismatch, nil
	}
	return Verified, nil
}

// containsText walks the text nodes of doc looking for needle.
func containsText(doc, needle string) (bool, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return false, fmt.Errorf("parse detail: %w", err)
	}
	needle = width.Fold.String(needle)

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return false
		}
		if n.Type == html.TextNode && strings.Contains(width.Fold.String(n.Data), needle) {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(root), nil
}
