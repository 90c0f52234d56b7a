// Package notify delivers watcher results to operators.
package notify

import (
	"context"

	"github.com/huru0825/kenpo-watcher/internal/calendar"
	"go.uber.org/zap"
)

// Sink is an outbound notification channel. Delivery is fire-and-forget:
// sinks log their own failures and never report them to the caller.
type Sink interface {
	NotifyAvailable(ctx context.Context, label, url string)
	NotifyNoVacancy(ctx context.Context)
	NotifyError(ctx context.Context, err error)
}

// NotifiedSet records labels already announced in a run, in first-seen order.
type NotifiedSet struct {
	order []string
	seen  map[string]struct{}
}

// Add inserts label and reports whether it was new.
func (s *NotifiedSet) Add(label string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[label]; ok {
		return false
	}
	s.seen[label] = struct{}{}
	s.order = append(s.order, label)
	return true
}

func (s *NotifiedSet) Len() int { return len(s.order) }

// Labels returns the labels in insertion order.
func (s *NotifiedSet) Labels() []string {
	return append([]string(nil), s.order...)
}

// Dispatcher announces each distinct hit once per run. A Dispatcher must not
// be reused across runs.
type Dispatcher struct {
	sink   Sink
	refURL string
	set    NotifiedSet
	log    *zap.Logger
}

// NewDispatcher returns a dispatcher that links every announcement to refURL.
func NewDispatcher(sink Sink, refURL string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, refURL: refURL, log: log.Named("dispatch")}
}

// Dispatch announces new labels in traversal order, or a single no-vacancy
// notice when nothing has been announced in this run.
func (d *Dispatcher) Dispatch(ctx context.Context, hits []calendar.Hit) {
	for _, h := range hits {
		if !d.set.Add(h.Label) {
			d.log.Debug("duplicate hit suppressed", zap.String("label", h.Label))
			continue
		}
		d.log.Info("announcing slot", zap.String("label", h.Label))
		d.sink.NotifyAvailable(ctx, h.Label, d.refURL)
	}
	if d.set.Len() == 0 {
		d.log.Info("no vacancy")
		d.sink.NotifyNoVacancy(ctx)
	}
}

// Notified returns the labels announced so far.
func (d *Dispatcher) Notified() []string { return d.set.Labels() }
