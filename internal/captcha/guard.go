package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser"
	"go.uber.org/zap"
)

// State is the interstitial classification of the current page.
type State int

const (
	Clear State = iota
	CheckboxInterstitial
	ImageInterstitial
)

func (s State) String() string {
	switch s {
	case Clear:
		return "clear"
	case CheckboxInterstitial:
		return "checkbox"
	case ImageInterstitial:
		return "image"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decide applies the checkpoint decision table. A visible challenge wins
// regardless of the anchor.
func Decide(anchor, challenge bool) State {
	switch {
	case challenge:
		return ImageInterstitial
	case anchor:
		return CheckboxInterstitial
	default:
		return Clear
	}
}

// Page is the slice of a browser session the guard needs.
type Page interface {
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	WaitForVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Frames(ctx context.Context) ([]browser.Frame, error)
}

// Solver attempts an image challenge. Implementations live outside this
// module; the guard only calls one when configured.
type Solver interface {
	AttemptSolve(ctx context.Context, challenge browser.Frame, timeout time.Duration) (bool, error)
}

// Selectors locate the interstitial widgets.
type Selectors struct {
	Anchor            string `mapstructure:"anchor"`
	Challenge         string `mapstructure:"challenge"`
	ChallengeMarker   string `mapstructure:"challenge_marker"`
	Checkbox          string `mapstructure:"checkbox"`
	AnchorFrameURL    string `mapstructure:"anchor_frame_url"`
	ChallengeFrameURL string `mapstructure:"challenge_frame_url"`
}

// DefaultSelectors matches the reCAPTCHA v2 widget.
func DefaultSelectors() Selectors {
	return Selectors{
		Anchor:            `iframe[src*="recaptcha/api2/anchor"]`,
		Challenge:         `iframe[title*="recaptcha challenge"]`,
		ChallengeMarker:   `#rc-imageselect`,
		Checkbox:          `#recaptcha-anchor`,
		AnchorFrameURL:    "recaptcha/api2/anchor",
		ChallengeFrameURL: "recaptcha/api2/bframe",
	}
}

// Guard classifies interstitial state with bounded probes.
type Guard struct {
	sel    Selectors
	probe  time.Duration
	settle time.Duration
	solver Solver
	log    *zap.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithSolver enables image-challenge solving attempts.
func WithSolver(s Solver) Option { return func(g *Guard) { g.solver = s } }

// WithSettle sets how long to wait after clicking the checkbox.
func WithSettle(d time.Duration) Option { return func(g *Guard) { g.settle = d } }

func NewGuard(sel Selectors, probe time.Duration, log *zap.Logger, opts ...Option) *Guard {
	if probe <= 0 {
		probe = 3 * time.Second
	}
	g := &Guard{sel: sel, probe: probe, settle: 2 * time.Second, log: log.Named("guard")}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Classify inspects the page as it is right now. Results are never cached:
// the remote site may inject an interstitial between calls.
func (g *Guard) Classify(ctx context.Context, p Page) (State, error) {
	st, err := g.probeState(ctx, p)
	if err != nil {
		return Clear, err
	}
	if st == ImageInterstitial && g.solver != nil {
		solved, err := g.trySolve(ctx, p)
		if err != nil {
			g.log.Warn("solver failed", zap.Error(err))
		}
		if solved {
			return g.probeState(ctx, p)
		}
	}
	g.log.Debug("checkpoint classified", zap.Stringer("state", st))
	return st, nil
}

// ResolveEntry handles the interstitial on the initial page load: the
// checkbox variant gets its single confirming click, then the page is
// classified again.
func (g *Guard) ResolveEntry(ctx context.Context, p Page) (State, error) {
	st, err := g.Classify(ctx, p)
	if err != nil || st != CheckboxInterstitial {
		return st, err
	}

	frame, err := g.findFrame(ctx, p, g.sel.AnchorFrameURL)
	if err != nil {
		return st, err
	}
	if frame == nil {
		g.log.Warn("checkbox interstitial without anchor frame")
		return st, nil
	}
	g.log.Info("clicking checkbox interstitial")
	if err := frame.Click(ctx, g.sel.Checkbox); err != nil {
		return st, fmt.Errorf("click checkbox: %w", err)
	}
	if err := sleep(ctx, g.settle); err != nil {
		return st, err
	}
	return g.Classify(ctx, p)
}

func (g *Guard) probeState(ctx context.Context, p Page) (State, error) {
	anchor, err := p.WaitForElement(ctx, g.sel.Anchor, g.probe)
	if err != nil {
		return Clear, fmt.Errorf("probe anchor: %w", err)
	}
	challenge, err := g.challengePresent(ctx, p)
	if err != nil {
		return Clear, err
	}
	return Decide(anchor, challenge), nil
}

// challengePresent only counts a challenge that is shown. The widget attaches
// its challenge frame hidden as soon as the checkbox renders.
func (g *Guard) challengePresent(ctx context.Context, p Page) (bool, error) {
	if g.sel.Challenge != "" {
		ok, err := p.WaitForVisible(ctx, g.sel.Challenge, g.probe)
		if err != nil {
			return false, fmt.Errorf("probe challenge: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	if g.sel.ChallengeMarker == "" {
		return false, nil
	}
	frames, err := p.Frames(ctx)
	if err != nil {
		return false, fmt.Errorf("list frames: %w", err)
	}
	for _, f := range frames {
		if !strings.Contains(f.URL(), g.sel.ChallengeFrameURL) {
			continue
		}
		ok, err := f.WaitForVisible(ctx, g.sel.ChallengeMarker, g.probe)
		if err != nil {
			return false, fmt.Errorf("probe challenge marker: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (g *Guard) trySolve(ctx context.Context, p Page) (bool, error) {
	frame, err := g.findFrame(ctx, p, g.sel.ChallengeFrameURL)
	if err != nil || frame == nil {
		return false, err
	}
	g.log.Info("attempting image challenge")
	return g.solver.AttemptSolve(ctx, frame, 4*g.probe)
}

func (g *Guard) findFrame(ctx context.Context, p Page, urlPart string) (browser.Frame, error) {
	frames, err := p.Frames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	for _, f := range frames {
		if strings.Contains(f.URL(), urlPart) {
			return f, nil
		}
	}
	return nil, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
