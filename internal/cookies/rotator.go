package cookies

import (
	"context"
	"fmt"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser"
	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"go.uber.org/zap"
)

// ReasonCaptcha is the skip reason when an interstitial is on the page.
const ReasonCaptcha = "captcha-present"

// OutcomeKind classifies a rotation attempt.
type OutcomeKind int

const (
	Unchanged OutcomeKind = iota
	Rotated
	Skipped
)

func (k OutcomeKind) String() string {
	switch k {
	case Rotated:
		return "rotated"
	case Skipped:
		return "skipped"
	default:
		return "unchanged"
	}
}

// Outcome is the result of Rotate. Reason is set only when skipped.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func (o Outcome) String() string {
	if o.Reason != "" {
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	}
	return o.Kind.String()
}

// Page is what the rotator reads from the second session.
type Page interface {
	captcha.Page
	Cookies(ctx context.Context) ([]browser.Cookie, error)
}

// Checkpoint classifies the page. *captcha.Guard implements it.
type Checkpoint interface {
	Classify(ctx context.Context, p captcha.Page) (captcha.State, error)
}

// Rotator persists the session cookies whenever the page is free of
// interstitials.
type Rotator struct {
	guard Checkpoint
	store Store
	now   func() time.Time
	log   *zap.Logger
}

func NewRotator(guard Checkpoint, store Store, log *zap.Logger) *Rotator {
	return &Rotator{guard: guard, store: store, now: time.Now, log: log.Named("rotator")}
}

// Rotate captures the page's cookies and writes them to the store. The
// session identifier comparison with seed only decides the reported outcome;
// it never gates the write.
func (r *Rotator) Rotate(ctx context.Context, p Page, seed Snapshot) (Outcome, error) {
	st, err := r.guard.Classify(ctx, p)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify: %w", err)
	}
	if st != captcha.Clear {
		r.log.Info("cookie rotation skipped", zap.Stringer("state", st))
		return Outcome{Kind: Skipped, Reason: ReasonCaptcha}, nil
	}

	jar, err := p.Cookies(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read cookies: %w", err)
	}
	cand := FromBrowser(jar, r.now())
	if err := r.store.Write(ctx, cand); err != nil {
		return Outcome{}, fmt.Errorf("write snapshot: %w", err)
	}

	old, oldOK := seed.Value(SessionKey)
	cur, curOK := cand.Value(SessionKey)
	out := Outcome{Kind: Unchanged}
	if oldOK && curOK && old != cur {
		out.Kind = Rotated
	}
	r.log.Info("cookie snapshot stored",
		zap.Stringer("outcome", out),
		zap.Int("entries", len(cand.Entries)),
		zap.Bool("seed_has_session", oldOK),
		zap.Bool("candidate_has_session", curOK),
	)
	return out, nil
}
