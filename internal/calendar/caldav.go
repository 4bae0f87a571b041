package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/nugget/majordomo/internal/config"
	"github.com/nugget/majordomo/internal/httpkit"
)

// CalDAV reads events from a CalDAV collection.
type CalDAV struct {
	client *caldav.Client
	logger *slog.Logger

	mu   sync.Mutex
	path string // calendar collection; discovered when empty
}

// NewCalDAV creates a CalDAV source. When cfg.Calendar is empty the
// first calendar in the user's home set is used.
func NewCalDAV(cfg config.CalendarConfig, logger *slog.Logger) (*CalDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var hc webdav.HTTPClient = httpkit.NewClient(
		httpkit.WithTimeout(20*time.Second),
		httpkit.WithLogger(logger),
	)
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &CalDAV{client: client, logger: logger, path: cfg.Calendar}, nil
}

func (c *CalDAV) calendarPath(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		return c.path, nil
	}

	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("list calendars: %w", err)
	}
	for _, cal := range cals {
		if supportsEvents(cal) {
			c.path = cal.Path
			c.logger.Info("calendar discovered", "path", cal.Path, "name", cal.Name)
			return c.path, nil
		}
	}
	return "", fmt.Errorf("no event calendar under %s", home)
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// Events implements Source.
func (c *CalDAV) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	path, err := c.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from,
				End:   to,
			}},
		},
	}
	objs, err := c.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	return eventsFromObjects(objs, from.Location()), nil
}

// eventsFromObjects flattens the VEVENTs of every object. Events
// without a parseable start are skipped.
func eventsFromObjects(objs []caldav.CalendarObject, loc *time.Location) []Event {
	var out []Event
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			start, err := ev.DateTimeStart(loc)
			if err != nil {
				continue
			}
			summary, _ := ev.Props.Text(ical.PropSummary)
			allDay := false
			if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
				allDay = p.ValueType() == ical.ValueDate
			}
			out = append(out, Event{Summary: summary, Start: start, AllDay: allDay})
		}
	}
	return out
}
