package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "dailydigest/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// ParsedCalendar is one feed after parsing.
type ParsedCalendar struct {
	// Name is the feed's X-WR-CALNAME, if present.
	Name   string
	Events []ParsedEvent
}

// ParseICS parses a single ICS payload.
//
//   - Zoned DTSTART/DTEND values go through the library's TZID handling.
//   - All-day (VALUE=DATE) and floating values are read in loc, the
//     display timezone, so "today" means the user's today.
//   - A missing DTEND becomes DTSTART + DURATION, or +1h for timed and
//     +1 day for all-day events.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded; expand.go expands them.
func ParseICS(src Source, body []byte, loc *time.Location) (ParsedCalendar, error) {
	var out ParsedCalendar
	if len(bytes.TrimSpace(body)) == 0 {
		return out, errors.New("empty ICS body")
	}
	// Expired share links often answer 200 with an HTML login page.
	if !bytes.Contains(bytes.ToUpper(body[:min(len(body), 4096)]), []byte("BEGIN:VCALENDAR")) {
		return out, errors.New("ics: body is not a VCALENDAR")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return out, fmt.Errorf("ics: parse: %w", err)
	}

	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-CALNAME") {
			out.Name = strings.TrimSpace(p.Value)
		}
	}

	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "index", i)
			continue
		}
		if ev.UID == "" {
			ev.UID = fmt.Sprintf("%s-noid-%d", src.ID, i)
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "calendar", out.Name, "event_count", len(out.Events))
	return out, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart.Value, dtStart.ICalParameters)

	start, err := propertyTime(dtStart.Value, dtStart.ICalParameters, loc, func() (time.Time, error) { return ve.GetStartAt() })
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, err := propertyTime(dtEnd.Value, dtEnd.ICalParameters, loc, func() (time.Time, error) { return ve.GetEndAt() })
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	case ve.GetProperty(ical.ComponentProperty("DURATION")) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentProperty("DURATION")).Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.End = out.Start.Add(d)
	case out.AllDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start.Add(time.Hour)
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE can appear multiple times, each with a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzidOf(p.ICalParameters), loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, tzidOf(p.ICalParameters), loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// propertyTime resolves a DTSTART/DTEND value. Zoned values use the
// library accessor and fall back to parseICSTime when the TZID is unknown
// to the library (e.g. Windows zone names from Outlook).
func propertyTime(value string, params map[string][]string, loc *time.Location, libAt func() (time.Time, error)) (time.Time, error) {
	value = strings.TrimSpace(value)
	tzid := tzidOf(params)

	if isDateValue(value, params) || (tzid == "" && !strings.HasSuffix(value, "Z")) {
		return parseICSTime(value, "", loc)
	}

	if t, err := libAt(); err == nil && !t.IsZero() {
		return t, nil
	}
	return parseICSTime(value, tzid, loc)
}

func isDateValue(value string, params map[string][]string) bool {
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(value, "T")
}

func tzidOf(params map[string][]string) string {
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		return strings.Trim(tzs[0], `"`)
	}
	return ""
}

// parseICSTime parses an ICS DATE or DATE-TIME. UTC values ("...Z") are
// absolute; otherwise the value is read in tzid if it names a known zone,
// else in fallback.
func parseICSTime(v, tzid string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := fallback
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// parseDuration handles the RFC 5545 dur-value forms: P1W, P1D, PT1H30M,
// P1DT2H, optionally signed.
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, _ := strconv.Atoi(num)
		num = ""
		switch {
		case r == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
