package calendar

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor reads available cells out of a rendered calendar page.
type Extractor struct {
	grid      string
	available string
	cell      string
}

// NewExtractor takes the grid container selector, the selector for an
// available cell's link (relative to the grid) and the enclosing cell
// selector used as a label fallback.
func NewExtractor(grid, available, cell string) *Extractor {
	return &Extractor{grid: grid, available: available, cell: cell}
}

// Extract returns candidates in document order. It only reads the snapshot.
func (e *Extractor) Extract(html string) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	grid := doc.Find(e.grid)
	if grid.Length() == 0 {
		return nil, ErrGridMissing
	}

	var out []Candidate
	grid.Find(e.available).Each(func(_ int, s *goquery.Selection) {
		label := collapse(s.Text())
		if label == "" && e.cell != "" {
			label = collapse(s.Closest(e.cell).Text())
		}
		if label == "" {
			return
		}
		href, _ := s.Attr("href")
		out = append(out, Candidate{Label: label, Ref: strings.TrimSpace(href)})
	})
	return out, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
