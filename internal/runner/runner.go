// Package runner executes one watch cycle: traverse the calendar, announce
// hits and rotate the stored session cookie.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huru0825/kenpo-watcher/internal/browser"
	"github.com/huru0825/kenpo-watcher/internal/calendar"
	"github.com/huru0825/kenpo-watcher/internal/cookies"
	"github.com/huru0825/kenpo-watcher/internal/notify"
	"go.uber.org/zap"
)

// Traverser walks the calendar in an open session.
type Traverser interface {
	Traverse(ctx context.Context, sess browser.Session, entryURL string) ([]calendar.Hit, error)
}

// Rotator refreshes the persisted cookie snapshot.
type Rotator interface {
	Rotate(ctx context.Context, p cookies.Page, seed cookies.Snapshot) (cookies.Outcome, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Driver    browser.Driver
	Traverser Traverser
	Rotator   Rotator
	Store     cookies.Store
	Sink      notify.Sink
}

// Options configure a Runner.
type Options struct {
	// TargetURL is the calendar entry page.
	TargetURL string
	// ReferenceURL is linked from availability notices; defaults to TargetURL.
	ReferenceURL string
	Session      browser.SessionOptions
	// SeedCookies is used when the store holds no snapshot.
	SeedCookies cookies.Snapshot
	// ArtifactDir receives failure screenshots when set.
	ArtifactDir string
}

// Report summarizes one run.
type Report struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Skipped is set when another run held the guard.
	Skipped bool `json:"skipped,omitempty"`
	// Blocked is set when an interstitial covered the calendar on entry.
	Blocked  bool     `json:"blocked,omitempty"`
	Hits     []string `json:"hits,omitempty"`
	Notified []string `json:"notified,omitempty"`
	Rotation string   `json:"rotation,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// Runner executes watch cycles one at a time.
type Runner struct {
	guard RunGuard
	deps  Deps
	opts  Options
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	last *Report
	// wg tracks admitted cycles so shutdown can wait for their teardown.
	wg sync.WaitGroup
}

func New(deps Deps, opts Options, log *zap.Logger) *Runner {
	if opts.ReferenceURL == "" {
		opts.ReferenceURL = opts.TargetURL
	}
	return &Runner{deps: deps, opts: opts, log: log.Named("runner"), now: time.Now}
}

// Run executes a cycle and blocks until it finishes. If another cycle is in
// flight it returns immediately with Report.Skipped set and no error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	release, ok := r.guard.TryAcquire()
	if !ok {
		r.log.Debug("run already in progress, ignoring request")
		return Report{Skipped: true}, nil
	}
	r.wg.Add(1)
	defer r.wg.Done()
	defer release()
	return r.execute(ctx)
}

// Trigger starts a cycle in the background and reports whether it started.
// ctx should outlive the caller's request.
func (r *Runner) Trigger(ctx context.Context) bool {
	release, ok := r.guard.TryAcquire()
	if !ok {
		r.log.Debug("run already in progress, ignoring trigger")
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		_, _ = r.execute(ctx)
	}()
	return true
}

// Wait blocks until every admitted cycle, including triggered ones, has
// closed its sessions and delivered its notices.
func (r *Runner) Wait() { r.wg.Wait() }

// Running reports whether a cycle is in flight.
func (r *Runner) Running() bool { return r.guard.Running() }

// Last returns the most recent completed report.
func (r *Runner) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

func (r *Runner) execute(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.With(zap.String("run_id", rep.RunID))
	log.Info("run started", zap.String("target", r.opts.TargetURL))

	err := r.cycle(ctx, &rep, log)
	rep.FinishedAt = r.now()
	if err != nil {
		rep.Err = err.Error()
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)))
		// deliver even when the run was cancelled
		r.deps.Sink.NotifyError(context.WithoutCancel(ctx), err)
	} else {
		log.Info("run finished",
			zap.Int("hits", len(rep.Hits)),
			zap.Int("notified", len(rep.Notified)),
			zap.String("rotation", rep.Rotation),
			zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
	}

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()
	return rep, err
}

func (r *Runner) cycle(ctx context.Context, rep *Report, log *zap.Logger) error {
	seed, err := cookies.Seed(ctx, r.deps.Store, r.opts.SeedCookies)
	if err != nil {
		return fmt.Errorf("read seed cookies: %w", err)
	}

	if err := r.watch(ctx, seed, rep, log); err != nil {
		return err
	}

	out, err := r.rotate(ctx, seed, log)
	if err != nil {
		return err
	}
	rep.Rotation = out.String()
	return nil
}

// watch runs the traversal and dispatch in session A.
func (r *Runner) watch(ctx context.Context, seed cookies.Snapshot, rep *Report, log *zap.Logger) error {
	sess, err := r.openSession(ctx, seed)
	if err != nil {
		return fmt.Errorf("session A: %w", err)
	}
	defer closeSession(sess, "A", log)

	hits, err := r.deps.Traverser.Traverse(ctx, sess, r.opts.TargetURL)
	if errors.Is(err, calendar.ErrEntryBlocked) {
		log.Warn("calendar blocked by interstitial, skipping this run", zap.Error(err))
		rep.Blocked = true
		return nil
	}
	if err != nil {
		r.screenshot(ctx, sess, rep.RunID, log)
		return fmt.Errorf("traverse: %w", err)
	}

	d := notify.NewDispatcher(r.deps.Sink, r.opts.ReferenceURL, log)
	d.Dispatch(ctx, hits)
	rep.Hits = calendar.Labels(hits)
	rep.Notified = d.Notified()
	return nil
}

// rotate refreshes the cookie snapshot in session B.
func (r *Runner) rotate(ctx context.Context, seed cookies.Snapshot, log *zap.Logger) (cookies.Outcome, error) {
	sess, err := r.openSession(ctx, seed)
	if err != nil {
		return cookies.Outcome{}, fmt.Errorf("session B: %w", err)
	}
	defer closeSession(sess, "B", log)

	if err := sess.Navigate(ctx, r.opts.TargetURL, browser.WaitLoad); err != nil {
		return cookies.Outcome{}, fmt.Errorf("session B: %w", err)
	}
	out, err := r.deps.Rotator.Rotate(ctx, sess, seed)
	if err != nil {
		return cookies.Outcome{}, fmt.Errorf("rotate cookies: %w", err)
	}
	return out, nil
}

func (r *Runner) openSession(ctx context.Context, seed cookies.Snapshot) (browser.Session, error) {
	sess, err := r.deps.Driver.NewSession(ctx, r.opts.Session)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if !seed.Empty() {
		if err := sess.SetCookies(ctx, seed.Browser()); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("apply seed cookies: %w", err)
		}
	}
	return sess, nil
}

func (r *Runner) screenshot(ctx context.Context, sess browser.Session, runID string, log *zap.Logger) {
	if r.opts.ArtifactDir == "" {
		return
	}
	if err := os.MkdirAll(r.opts.ArtifactDir, 0o755); err != nil {
		log.Warn("artifact dir unavailable", zap.Error(err))
		return
	}
	path := filepath.Join(r.opts.ArtifactDir, fmt.Sprintf("failure-%s.png", runID))
	if err := sess.Screenshot(context.WithoutCancel(ctx), path); err != nil {
		log.Warn("failure screenshot not captured", zap.Error(err))
		return
	}
	log.Info("failure screenshot saved", zap.String("path", path))
}

func closeSession(sess browser.Session, name string, log *zap.Logger) {
	if err := sess.Close(); err != nil {
		log.Warn("session close failed", zap.String("session", name), zap.Error(err))
	}
}
