package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser"
	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"go.uber.org/zap"
)

// Selectors locate calendar controls on the target site.
type Selectors struct {
	Grid         string `mapstructure:"grid"`
	Available    string `mapstructure:"available"`
	Cell         string `mapstructure:"cell"`
	Next         string `mapstructure:"next"`
	Previous     string `mapstructure:"previous"`
	DataResponse string `mapstructure:"data_response"`
	DetailReady  string `mapstructure:"detail_ready"`
}

// DefaultSelectors matches the kenpo reservation calendar markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Grid:         ".tb-calendar",
		Available:    `a:has(img[src*="icon_circle"])`,
		Cell:         "td",
		Next:         `input[value=">1ヶ月"]`,
		Previous:     `input[value="1ヶ月<"]`,
		DataResponse: "calendar_apply",
		DetailReady:  ".tb-detail",
	}
}

// Timeouts bound the controller's waits. CommitTimeout applies to the
// month-advance response wait; zero means unbounded.
type Timeouts struct {
	Navigation time.Duration
	Commit     time.Duration
}

// Controller walks the calendar sequence and collects verified hits.
type Controller struct {
	steps     []Step
	sel       Selectors
	filter    FilterConfig
	guard     Checkpoint
	extractor *Extractor
	verifier  *Verifier
	timeouts  Timeouts
	log       *zap.Logger
}

func NewController(filter FilterConfig, sel Selectors, guard Checkpoint, timeouts Timeouts, log *zap.Logger) *Controller {
	log = log.Named("traversal")
	return &Controller{
		steps:     DefaultSequence(),
		sel:       sel,
		filter:    filter,
		guard:     guard,
		extractor: NewExtractor(sel.Grid, sel.Available, sel.Cell),
		verifier:  NewVerifier(guard, sel.DetailReady, timeouts.Navigation, log),
		timeouts:  timeouts,
		log:       log,
	}
}

// Traverse opens entryURL, clears the entry interstitial if it can, and walks
// the step sequence. Hits are returned in traversal order and may repeat.
func (c *Controller) Traverse(ctx context.Context, sess browser.Session, entryURL string) ([]Hit, error) {
	if err := c.enter(ctx, sess, entryURL); err != nil {
		return nil, err
	}

	var hits []Hit
	for i, step := range c.steps {
		log := c.log.With(zap.Int("step", i+1), zap.Stringer("advance", step.Advance))
		if step.Advance != AdvanceNone {
			if err := c.advance(ctx, sess, step.Advance); err != nil {
				return hits, fmt.Errorf("step %d: %w", i+1, err)
			}
		}

		page, err := sess.Content(ctx)
		if err != nil {
			return hits, fmt.Errorf("step %d: read calendar: %w", i+1, err)
		}
		cands, err := c.extractor.Extract(page)
		if errors.Is(err, ErrGridMissing) {
			return hits, fmt.Errorf("step %d: %w: %v", i+1, ErrNavigation, err)
		}
		if err != nil {
			return hits, fmt.Errorf("step %d: %w", i+1, err)
		}
		log.Debug("candidates extracted", zap.Int("count", len(cands)))

		for _, cand := range cands {
			if !Matches(cand.Label, c.filter, step.IncludeDateFilter) {
				continue
			}
			ok, err := c.visit(ctx, sess, cand, log)
			if err != nil {
				return hits, fmt.Errorf("step %d: %w", i+1, err)
			}
			if ok {
				log.Info("hit", zap.String("label", cand.Label))
				hits = append(hits, Hit{Label: cand.Label})
			}
		}
	}
	return hits, nil
}

func (c *Controller) enter(ctx context.Context, sess browser.Session, entryURL string) error {
	if err := sess.Navigate(ctx, entryURL, browser.WaitNetworkIdle); err != nil {
		return fmt.Errorf("%w: open calendar: %v", ErrNavigation, err)
	}
	st, err := c.guard.ResolveEntry(ctx, sess)
	if err != nil {
		return fmt.Errorf("entry checkpoint: %w", err)
	}
	if st != captcha.Clear {
		c.log.Warn("calendar blocked on entry", zap.Stringer("state", st))
		return fmt.Errorf("%w (%s)", ErrEntryBlocked, st)
	}
	return c.waitGrid(ctx, sess, "entry")
}

func (c *Controller) advance(ctx context.Context, sess browser.Session, a Advance) error {
	sel := c.sel.Next
	if a == AdvancePrevious {
		sel = c.sel.Previous
	}
	var err error
	if c.sel.DataResponse != "" {
		err = sess.ClickAndWaitResponse(ctx, sel, c.sel.DataResponse, c.timeouts.Commit)
	} else {
		err = sess.Click(ctx, sel)
	}
	if err != nil {
		return fmt.Errorf("%w: %s month: %v", ErrNavigation, a, err)
	}
	return c.waitGrid(ctx, sess, a.String()+" month")
}

// visit drills into one candidate and always returns to the calendar view
// unless a fatal error occurs.
func (c *Controller) visit(ctx context.Context, sess browser.Session, cand Candidate, log *zap.Logger) (bool, error) {
	log = log.With(zap.String("label", cand.Label))

	st, err := c.guard.Classify(ctx, sess)
	if err != nil {
		return false, err
	}
	if st != captcha.Clear {
		log.Info("skipping candidate, interstitial before navigation", zap.Stringer("state", st))
		return false, nil
	}
	if cand.Ref == "" {
		log.Warn("skipping candidate without reference")
		return false, nil
	}

	if err := c.open(ctx, sess, cand.Ref); err != nil {
		return false, err
	}
	verdict, err := c.verifier.Verify(ctx, sess, c.filter.Facility)
	if err != nil {
		return false, err
	}
	if err := c.back(ctx, sess); err != nil {
		return false, err
	}

	log.Debug("candidate inspected", zap.Stringer("verdict", verdict))
	return verdict == Verified, nil
}

func (c *Controller) open(ctx context.Context, sess browser.Session, ref string) error {
	if script, ok := strings.CutPrefix(ref, "javascript:"); ok {
		// the detail view replaces the calendar only once the navigation commits
		if err := sess.EvaluateAndWaitNavigation(ctx, script, browser.WaitLoad, c.timeouts.Navigation); err != nil {
			return fmt.Errorf("%w: follow %q: %v", ErrNavigation, ref, err)
		}
		return nil
	}
	target, err := resolveRef(sess.URL(), ref)
	if err != nil {
		return err
	}
	if err := sess.Navigate(ctx, target, browser.WaitLoad); err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrNavigation, target, err)
	}
	return nil
}

func (c *Controller) back(ctx context.Context, sess browser.Session) error {
	if err := sess.Back(ctx, browser.WaitLoad); err != nil {
		return fmt.Errorf("%w: back to calendar: %v", ErrNavigation, err)
	}
	return c.waitGrid(ctx, sess, "back")
}

func (c *Controller) waitGrid(ctx context.Context, sess browser.Session, phase string) error {
	ok, err := sess.WaitForElement(ctx, c.sel.Grid, c.timeouts.Navigation)
	if err != nil {
		return fmt.Errorf("%w: wait grid (%s): %v", ErrNavigation, phase, err)
	}
	if !ok {
		return fmt.Errorf("%w: grid %q missing after %s", ErrNavigation, c.sel.Grid, phase)
	}
	return nil
}

func resolveRef(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("bad candidate reference %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bad page url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
