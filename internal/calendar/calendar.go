// Package calendar implements the get_daily_calendar capability. Events
// come from a CalDAV server; the Agenda formats the rest of today's
// schedule for the synthesizer.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/capability"
)

// NoEvents is the capability output when nothing is scheduled.
const NoEvents = "No events found for today."

// Event is one calendar entry.
type Event struct {
	Summary string
	Start   time.Time
	AllDay  bool
}

// Source lists events overlapping [from, to).
type Source interface {
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Agenda formats upcoming events.
type Agenda struct {
	src    Source
	max    int
	logger *slog.Logger
	now    func() time.Time
}

// NewAgenda creates an Agenda listing at most max events.
func NewAgenda(src Source, max int, logger *slog.Logger) *Agenda {
	if logger == nil {
		logger = slog.Default()
	}
	if max <= 0 {
		max = 10
	}
	return &Agenda{src: src, max: max, logger: logger, now: time.Now}
}

// Today returns events from now until the end of the local day,
// earliest first, capped at the configured maximum.
func (a *Agenda) Today(ctx context.Context) ([]Event, error) {
	now := a.now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())

	events, err := a.src.Events(ctx, now, midnight)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if len(events) > a.max {
		events = events[:a.max]
	}
	return events, nil
}

// Format renders events as the capability output.
func Format(events []Event) string {
	if len(events) == 0 {
		return NoEvents
	}
	var b strings.Builder
	b.WriteString("Today's Schedule: ")
	for _, e := range events {
		start := e.Start.Format(time.RFC3339)
		if e.AllDay {
			start = e.Start.Format(time.DateOnly)
		}
		summary := e.Summary
		if summary == "" {
			summary = "(untitled)"
		}
		fmt.Fprintf(&b, "- %s at %s ", summary, start)
	}
	return strings.TrimSpace(b.String())
}

// Invoke implements [capability.Invoker] for get_daily_calendar.
func (a *Agenda) Invoke(ctx context.Context, _ capability.Args) (string, error) {
	events, err := a.Today(ctx)
	if err != nil {
		return "", fmt.Errorf("calendar: %w", err)
	}
	a.logger.Debug("calendar queried", "events", len(events))
	return Format(events), nil
}
