package ics

import (
	"context"
	"fmt"
	"sort"
	"time"

	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

// allDayLookback is how far before the window start expansion begins, so
// multi-day all-day events that started earlier are still seen.
const allDayLookback = 31 * 24 * time.Hour

// Window is the inclusive lookahead range of the digest.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now, now + days].
func NewWindow(now time.Time, days int) Window {
	return Window{Start: now, End: now.AddDate(0, 0, days)}
}

// Contains reports whether ev belongs in the digest. Timed events must
// start inside the window. All-day events must overlap it, so today's
// all-day event is kept even though it started at midnight.
func (w Window) Contains(ev model.Event) bool {
	if ev.AllDay {
		return !ev.Start.After(w.End) && ev.End.After(w.Start)
	}
	return !ev.Start.Before(w.Start) && !ev.Start.After(w.End)
}

// SourceError ties a feed failure to its source.
type SourceError struct {
	Source Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.Source.ID, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Collector runs fetch, parse and expansion for every feed.
type Collector struct {
	fetcher *Fetcher
	loc     *time.Location
}

func NewCollector(fetcher *Fetcher, loc *time.Location) *Collector {
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Collector{fetcher: fetcher, loc: loc}
}

// Collect returns the events of all sources inside w, sorted by start time
// then title, each occurrence exactly once. Per-source failures are logged,
// returned, and leave that feed's events out.
func (c *Collector) Collect(ctx context.Context, sources []Source, w Window) ([]model.Event, []error) {
	results, errs := c.fetcher.FetchAll(ctx, sources)

	names := make(map[string]string, len(results))
	parsed := make([]ParsedEvent, 0)
	for _, res := range results {
		cal, err := ParseICS(res.Source, res.Body, c.loc)
		if err != nil {
			errs = append(errs, &SourceError{Source: res.Source, Err: err})
			continue
		}
		names[res.Source.ID] = cal.Name
		parsed = append(parsed, cal.Events...)
	}

	expandCfg := ExpandConfig{
		DisplayLocation: c.loc,
		RangeStart:      w.Start.Add(-allDayLookback),
		RangeEnd:        w.End,
		CalendarNames:   names,
	}
	expanded, err := ExpandOccurrences(parsed, expandCfg)
	if err != nil {
		errs = append(errs, err)
		return []model.Event{}, errs
	}

	events := make([]model.Event, 0, len(expanded.Occurrences))
	seen := make(map[string]bool, len(expanded.Occurrences))
	for _, ev := range expanded.Occurrences {
		if !w.Contains(ev) {
			continue
		}
		// The same invite often shows up on two subscribed calendars.
		k := ev.UID + "\x00" + ev.InstanceKey
		if seen[k] {
			continue
		}
		seen[k] = true
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		if events[i].AllDay != events[j].AllDay {
			return events[i].AllDay
		}
		return events[i].Title < events[j].Title
	})

	appLog.Info("calendar collected",
		"sources", len(sources),
		"failed", len(errs),
		"events", len(events),
		"window_start", w.Start.Format(time.RFC3339),
		"window_end", w.End.Format(time.RFC3339),
	)
	return events, errs
}
