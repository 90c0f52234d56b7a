package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// FilterConfig selects which candidates are worth verifying. When Dates is
// non-empty it takes precedence; Weekday only applies when Dates is empty.
type FilterConfig struct {
	Dates    []string
	Weekday  string
	Facility string
}

// NewFilterConfig builds a FilterConfig from raw operator input.
func NewFilterConfig(rawDates, rawWeekday, facility string) (FilterConfig, error) {
	facility = strings.TrimSpace(width.Fold.String(facility))
	if facility == "" {
		return FilterConfig{}, fmt.Errorf("facility name required")
	}
	wd, err := ParseWeekday(rawWeekday)
	if err != nil {
		return FilterConfig{}, err
	}
	return FilterConfig{
		Dates:    NormalizeDates(rawDates),
		Weekday:  wd,
		Facility: facility,
	}, nil
}

var dateToken = regexp.MustCompile(`^(\d{1,2})月(\d{1,2})日$`)

// NormalizeDates splits a comma, Japanese comma or whitespace separated list
// into zero-padded MM月DD日 tokens. Malformed tokens are dropped.
func NormalizeDates(raw string) []string {
	folded := width.Fold.String(raw)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return r == ',' || r == '、' || unicode.IsSpace(r)
	})

	var out []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		tok, ok := normalizeDate(f)
		if !ok || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func normalizeDate(s string) (string, bool) {
	m := dateToken.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%02d月%02d日", month, day), true
}

var weekdays = []struct {
	token   string
	aliases []string
}{
	{"日曜日", []string{"日曜", "日", "sunday", "sun"}},
	{"月曜日", []string{"月曜", "月", "monday", "mon"}},
	{"火曜日", []string{"火曜", "火", "tuesday", "tue"}},
	{"水曜日", []string{"水曜", "水", "wednesday", "wed"}},
	{"木曜日", []string{"木曜", "木", "thursday", "thu"}},
	{"金曜日", []string{"金曜", "金", "friday", "fri"}},
	{"土曜日", []string{"土曜", "土", "saturday", "sat"}},
}

// ParseWeekday maps Japanese or English weekday names onto the token used in
// calendar labels (e.g. 土曜日). Empty input disables weekday matching.
func ParseWeekday(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(width.Fold.String(raw)))
	if s == "" {
		return "", nil
	}
	for _, w := range weekdays {
		if s == w.token {
			return w.token, nil
		}
		for _, a := range w.aliases {
			if s == a {
				return w.token, nil
			}
		}
	}
	return "", fmt.Errorf("unknown weekday %q", raw)
}

// Matches reports whether a candidate label passes the filter.
func Matches(label string, cfg FilterConfig, includeDateFilter bool) bool {
	label = width.Fold.String(label)
	if includeDateFilter && len(cfg.Dates) > 0 {
		for _, d := range cfg.Dates {
			if strings.Contains(label, d) {
				return true
			}
		}
		return false
	}
	if len(cfg.Dates) == 0 && cfg.Weekday != "" {
		return strings.Contains(label, cfg.Weekday)
	}
	return false
}
