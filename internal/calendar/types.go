package calendar

import "errors"

var (
	// ErrNavigation marks failures the traversal cannot continue past: a
	// navigation timeout or a calendar grid that never rendered.
	ErrNavigation = errors.New("calendar: navigation failed")
	// ErrEntryBlocked is returned when an unresolved interstitial covers the
	// calendar on first load.
	ErrEntryBlocked = errors.New("calendar: entry blocked by interstitial")
	// ErrGridMissing is returned by the extractor when the page has no grid.
	ErrGridMissing = errors.New("calendar: grid not found")
)

// Advance is the month navigation performed before a step is evaluated.
type Advance int

const (
	AdvanceNone Advance = iota
	AdvanceNext
	AdvancePrevious
)

func (a Advance) String() string {
	switch a {
	case AdvanceNext:
		return "next"
	case AdvancePrevious:
		return "previous"
	default:
		return "none"
	}
}

// Step is one traversal instruction.
type Step struct {
	Advance           Advance
	IncludeDateFilter bool
}

// DefaultSequence walks forward two months and back again. Only the first
// and last steps apply the date filter; every step applies the weekday one.
func DefaultSequence() []Step {
	return []Step{
		{Advance: AdvanceNone, IncludeDateFilter: true},
		{Advance: AdvanceNext, IncludeDateFilter: false},
		{Advance: AdvanceNext, IncludeDateFilter: false},
		{Advance: AdvancePrevious, IncludeDateFilter: false},
		{Advance: AdvancePrevious, IncludeDateFilter: true},
	}
}

// Displacement returns the net month offset of a sequence.
func Displacement(steps []Step) int {
	n := 0
	for _, s := range steps {
		switch s.Advance {
		case AdvanceNext:
			n++
		case AdvancePrevious:
			n--
		}
	}
	return n
}

// Candidate is an available calendar cell as rendered.
type Candidate struct {
	Label string
	Ref   string
}

// Hit is a candidate that matched the filter and was verified.
type Hit struct {
	Label string
}

// Labels returns hit labels in order.
func Labels(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Label)
	}
	return out
}
