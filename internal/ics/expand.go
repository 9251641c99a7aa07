package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrence starts.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of a single rule. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int

	// CalendarNames maps Source.ID to the feed's display name.
	CalendarNames map[string]string
}

// ExpandResult wraps the expanded occurrences and the UIDs that hit the cap.
type ExpandResult struct {
	Occurrences     []model.Event
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed events into concrete occurrences within
// the configured range. It handles:
//
//   - single non-recurring events
//   - RRULE recurrence with EXDATE exceptions
//   - RECURRENCE-ID overrides (moved or retitled instances)
//   - cancelled events and cancelled instances, which are dropped
//
// Events are grouped by (source, UID) so two feeds reusing a UID do not
// override each other.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	type key struct{ source, uid string }
	baseByUID := make(map[key][]ParsedEvent)
	overridesByUID := make(map[key][]ParsedEvent)
	order := make([]key, 0)
	overrideOrder := make([]key, 0)

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if ev.IsOverride && ev.Recurrence != nil {
			if _, seen := overridesByUID[k]; !seen {
				overrideOrder = append(overrideOrder, k)
			}
			overridesByUID[k] = append(overridesByUID[k], ev)
			continue
		}
		if _, seen := baseByUID[k]; !seen {
			order = append(order, k)
		}
		baseByUID[k] = append(baseByUID[k], ev)
	}

	for _, k := range order {
		ov := overridesByUID[k]
		used := make([]bool, len(ov))
		truncated := false

		for _, ev := range baseByUID[k] {
			occ, hitCap := expandEvent(ev, ov, used, cfg)
			if hitCap {
				truncated = true
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}
		// Overrides whose RECURRENCE-ID was not generated in range, e.g. an
		// instance moved into the window from outside it.
		result.Occurrences = append(result.Occurrences, unmatchedOverrides(ov, used, cfg)...)

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Single-instance invitations are often exported as an override with
	// no base series in the feed.
	for _, k := range overrideOrder {
		if _, hasBase := baseByUID[k]; hasBase {
			continue
		}
		ov := overridesByUID[k]
		result.Occurrences = append(result.Occurrences, unmatchedOverrides(ov, make([]bool, len(ov)), cfg)...)
	}

	return result, nil
}

// expandEvent marks in used every override it applied.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, used []bool, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.Cancelled {
		return nil, false
	}
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, used, cfg), false
	}
	return expandRecurringEvent(ev, overrides, used, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, used []bool, cfg ExpandConfig) []model.Event {
	if i, ok := findOverrideForStart(overrides, ev.Start); ok {
		used[i] = true
		ev = overrides[i]
	}
	if ev.Cancelled || !startInRange(ev.Start, cfg) {
		return nil
	}
	return []model.Event{makeOccurrence(ev, ev.Start, ev.End, cfg)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, used []bool, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Between works in the rule's own location.
	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	for _, occStart := range occTimes {
		baseEv := ev
		baseStart := occStart
		baseEnd := occStart.Add(dur)
		if ev.AllDay {
			// Keep all-day instances pinned to midnight across DST changes.
			baseStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			days := int(dur.Round(24*time.Hour) / (24 * time.Hour))
			if days < 1 {
				days = 1
			}
			baseEnd = baseStart.AddDate(0, 0, days)
		}

		if i, ok := findOverrideForStart(overrides, occStart); ok {
			used[i] = true
			o := overrides[i]
			if o.Cancelled {
				continue
			}
			baseEv = o
			baseStart = o.Start
			baseEnd = o.End
			if !startInRange(baseStart, cfg) {
				continue
			}
		}

		out = append(out, makeOccurrence(baseEv, baseStart, baseEnd, cfg))
	}

	return out, hitCap
}

// findOverrideForStart returns the index of the override whose
// RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

// unmatchedOverrides emits the overrides not marked in used as standalone
// occurrences at their own DTSTART.
func unmatchedOverrides(overrides []ParsedEvent, used []bool, cfg ExpandConfig) []model.Event {
	var out []model.Event
	for i, o := range overrides {
		if used[i] || o.Cancelled || !startInRange(o.Start, cfg) {
			continue
		}
		out = append(out, makeOccurrence(o, o.Start, o.End, cfg))
	}
	return out
}

func startInRange(start time.Time, cfg ExpandConfig) bool {
	return !start.Before(cfg.RangeStart) && !start.After(cfg.RangeEnd)
}

// makeOccurrence converts a (possibly overridden) ParsedEvent + specific
// start/end time into a model.Event normalized into the display location.
func makeOccurrence(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) model.Event {
	startLocal := start.In(cfg.DisplayLocation)
	endLocal := end.In(cfg.DisplayLocation)

	title := ev.Summary
	if title == "" {
		title = "(No title)"
	}

	return model.Event{
		SourceID:    ev.Source.ID,
		Calendar:    cfg.CalendarNames[ev.Source.ID],
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Title:       title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}
