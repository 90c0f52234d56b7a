package calendar

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser/browsertest"
	"github.com/huru0825/kenpo-watcher/internal/captcha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	facility = "箱根保養所"
	site     = "https://kenpo.test"
)

type slot struct {
	label     string
	ref       string
	available bool
}

func open(label, ref string) slot { return slot{label: label, ref: ref, available: true} }
func full(label string) slot      { return slot{label: label} }

func calendarHTML(slots ...slot) string {
	var b strings.Builder
	b.WriteString(`<html><body><form><table class="tb-calendar"><tr>`)
	for _, s := range slots {
		if s.available {
			fmt.Fprintf(&b, `<td><a href="%s"><img src="/img/icon_circle.png">%s</a></td>`, s.ref, s.label)
		} else {
			fmt.Fprintf(&b, `<td><img src="/img/icon_cross.png">%s</td>`, s.label)
		}
	}
	b.WriteString(`</tr></table></form></body></html>`)
	return b.String()
}

func monthURL(m int) string { return fmt.Sprintf("%s/calendar?m=%d", site, m) }

// newSite builds a three-month calendar; months[i] holds the slots of month i.
func newSite(months ...[]slot) map[string]*browsertest.Page {
	sel := DefaultSelectors()
	pages := map[string]*browsertest.Page{}
	for i, slots := range months {
		links := map[string]string{}
		if i+1 < len(months) {
			links[sel.Next] = monthURL(i + 1)
		}
		if i > 0 {
			links[sel.Previous] = monthURL(i - 1)
		}
		pages[monthURL(i)] = &browsertest.Page{
			HTML:     calendarHTML(slots...),
			Elements: map[string]bool{sel.Grid: true, sel.Next: true, sel.Previous: true},
			Links:    links,
		}
	}
	return pages
}

func addDetail(pages map[string]*browsertest.Page, ref, body string) *browsertest.Page {
	p := &browsertest.Page{
		HTML:     `<html><body><table class="tb-detail"><tr><td>` + body + `</td></tr></table></body></html>`,
		Elements: map[string]bool{DefaultSelectors().DetailReady: true},
	}
	pages[site+ref] = p
	return p
}

func newController(t *testing.T, dates, weekday string) *Controller {
	t.Helper()
	cfg, err := NewFilterConfig(dates, weekday, facility)
	require.NoError(t, err)
	guard := captcha.NewGuard(captcha.DefaultSelectors(), time.Millisecond, zap.NewNop(), captcha.WithSettle(0))
	return NewController(cfg, DefaultSelectors(), guard, Timeouts{Navigation: time.Second}, zap.NewNop())
}

func countVisits(sess *browsertest.Session, url string) int {
	n := 0
	for _, v := range sess.Visited {
		if v == url {
			n++
		}
	}
	return n
}

func TestTraverse_SameLabelAtFirstAndLastStep(t *testing.T) {
	pages := newSite(
		[]slot{open("03月05日(土)", "/detail?d=0305"), open("03月06日(日)", "/detail?d=0306"), full("03月07日(月)")},
		[]slot{open("04月05日(土)", "/detail?d=0405")},
		[]slot{open("05月03日(土)", "/detail?d=0503")},
	)
	addDetail(pages, "/detail?d=0305", "<p>"+facility+"</p>")
	addDetail(pages, "/detail?d=0306", "<p>"+facility+"</p>")
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"03月05日(土)", "03月05日(土)"}, Labels(hits))
	assert.Equal(t, 2, countVisits(sess, site+"/detail?d=0305"))
	assert.Zero(t, countVisits(sess, site+"/detail?d=0306"), "non-matching candidates cost no navigation")
	assert.Equal(t, monthURL(0), sess.URL(), "sequence returns to the starting month")
}

func TestTraverse_WeekdayEveryStep(t *testing.T) {
	pages := newSite(
		[]slot{open("03月12日(土曜日)", "/detail?d=0312"), open("03月13日(日曜日)", "/detail?d=0313")},
		[]slot{open("04月09日(土曜日)", "/detail?d=0409")},
		[]slot{open("05月14日(土曜日)", "/detail?d=0514")},
	)
	for _, ref := range []string{"/detail?d=0312", "/detail?d=0409", "/detail?d=0514"} {
		addDetail(pages, ref, facility)
	}
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "", "Saturday").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"03月12日(土曜日)",
		"04月09日(土曜日)",
		"05月14日(土曜日)",
		"04月09日(土曜日)",
		"03月12日(土曜日)",
	}, Labels(hits))
}

func TestTraverse_FacilityMismatchIsSkipped(t *testing.T) {
	pages := newSite(
		[]slot{open("03月05日(土)", "/detail?d=0305"), open("03月05日(土) 午後", "/detail?d=0305pm")},
		nil,
		nil,
	)
	addDetail(pages, "/detail?d=0305", "<p>別の保養所</p>")
	addDetail(pages, "/detail?d=0305pm", "<p>"+facility+"</p>")
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"03月05日(土) 午後", "03月05日(土) 午後"}, Labels(hits))
}

func TestTraverse_InterstitialOnDetailSkipsCandidate(t *testing.T) {
	pages := newSite(
		[]slot{open("03月05日(土)", "/detail?d=0305"), open("03月19日(土)", "/detail?d=0319")},
		nil,
		nil,
	)
	blocked := addDetail(pages, "/detail?d=0305", facility)
	blocked.Elements[captcha.DefaultSelectors().Challenge] = true
	addDetail(pages, "/detail?d=0319", facility)
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日,3月19日", "").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"03月19日(土)", "03月19日(土)"}, Labels(hits))
	assert.Equal(t, 2, countVisits(sess, site+"/detail?d=0305"), "blocked candidate is visited, then abandoned")
}

func TestTraverse_CheckboxMidTraversalSkipsMonth(t *testing.T) {
	sel := DefaultSelectors()
	anchor := captcha.DefaultSelectors().Anchor
	pages := newSite(
		nil,
		[]slot{open("04月09日(土曜日)", "/detail?d=0409")},
		nil,
	)
	addDetail(pages, "/detail?d=0409", facility)
	month1 := pages[monthURL(1)]
	// the checkpoint shows up once the second month renders
	pages[monthURL(0)].OnClick = map[string]func(){sel.Next: func() { month1.Elements[anchor] = true }}
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "", "土曜日").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, countVisits(sess, site+"/detail?d=0409"))
}

func TestTraverse_JavascriptReference(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "javascript:openDetail('0305')")}, nil, nil)
	addDetail(pages, "/detail?d=0305", facility)
	sess := browsertest.NewSession(pages)
	sess.Scripts["openDetail('0305')"] = site + "/detail?d=0305"

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestTraverse_JavascriptReferenceWithoutNavigation(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "javascript:go()")}, nil, nil)
	// the calendar header names the facility too
	cal := pages[monthURL(0)]
	cal.HTML = strings.Replace(cal.HTML, "<form>", "<h1>"+facility+"</h1><form>", 1)
	sess := browsertest.NewSession(pages)
	sess.Scripts["go()"] = ""

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Empty(t, hits)
	assert.Equal(t, []string{monthURL(0)}, sess.Visited)
}

func TestTraverse_DetailNotReadyIsNotVerified(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=0305")}, nil, nil)
	// a page that mentions the facility but never renders the detail table
	pages[site+"/detail?d=0305"] = &browsertest.Page{
		HTML:     calendarHTML() + facility,
		Elements: map[string]bool{DefaultSelectors().Grid: true},
	}
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Empty(t, hits)
}

type countingGuard struct {
	*captcha.Guard
	classified int
}

func (g *countingGuard) Classify(ctx context.Context, p captcha.Page) (captcha.State, error) {
	g.classified++
	return g.Guard.Classify(ctx, p)
}

func TestTraverse_DetailClassifiedOnce(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=0305")}, nil, nil)
	addDetail(pages, "/detail?d=0305", facility)
	sess := browsertest.NewSession(pages)

	cfg, err := NewFilterConfig("3月5日", "", facility)
	require.NoError(t, err)
	guard := &countingGuard{Guard: captcha.NewGuard(captcha.DefaultSelectors(), time.Millisecond, zap.NewNop(), captcha.WithSettle(0))}
	ctrl := NewController(cfg, DefaultSelectors(), guard, Timeouts{Navigation: time.Second}, zap.NewNop())

	hits, err := ctrl.Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	// one check before each navigation and one on each detail view
	assert.Equal(t, 4, guard.classified)
}

func TestTraverse_EntryImageInterstitial(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=0305")}, nil, nil)
	pages[monthURL(0)].Elements[captcha.DefaultSelectors().Challenge] = true
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrEntryBlocked)
	assert.Empty(t, hits)
	assert.Equal(t, []string{monthURL(0)}, sess.Visited)
}

func TestTraverse_EntryCheckboxIsClicked(t *testing.T) {
	csel := captcha.DefaultSelectors()
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=0305")}, nil, nil)
	addDetail(pages, "/detail?d=0305", facility)
	entry := pages[monthURL(0)]
	entry.Elements[csel.Anchor] = true
	frame := &browsertest.Frame{
		FrameURL: "https://www.google.com/recaptcha/api2/anchor?k=site",
		Elements: map[string]bool{csel.Checkbox: true},
	}
	frame.OnClick = map[string]func(){csel.Checkbox: func() {
		delete(entry.Elements, csel.Anchor)
		entry.Frames = nil
	}}
	entry.Frames = []*browsertest.Frame{frame}
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	require.NoError(t, err)
	assert.Equal(t, []string{csel.Checkbox}, frame.Clicks)
	assert.Len(t, hits, 2)
}

func TestTraverse_GridMissingAfterAdvance(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=0305")}, nil, nil)
	addDetail(pages, "/detail?d=0305", facility)
	delete(pages[monthURL(1)].Elements, DefaultSelectors().Grid)
	sess := browsertest.NewSession(pages)

	hits, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Equal(t, []string{"03月05日(土)"}, Labels(hits), "hits before the failure are returned")
}

func TestTraverse_DetailNavigationFailure(t *testing.T) {
	pages := newSite([]slot{open("03月05日(土)", "/detail?d=missing")}, nil, nil)
	sess := browsertest.NewSession(pages)

	_, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrNavigation)
}

func TestTraverse_EntryNavigationFailure(t *testing.T) {
	sess := browsertest.NewSession(map[string]*browsertest.Page{})

	_, err := newController(t, "3月5日", "").Traverse(context.Background(), sess, monthURL(0))
	assert.ErrorIs(t, err, ErrNavigation)
}

func TestResolveRef(t *testing.T) {
	got, err := resolveRef(site+"/calendar?m=0", "detail?d=1")
	require.NoError(t, err)
	assert.Equal(t, site+"/detail?d=1", got)

	got, err = resolveRef(site+"/calendar", "https://other.test/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/x", got)
}
