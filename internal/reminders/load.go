// Package reminders reads the reminders snapshot that a phone shortcut
// exports to a synced folder. The file is read-only input; nothing here
// writes back to it.
package reminders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

const untitled = "(Untitled reminder)"

// Load reads the reminders file at path. A missing file is not an error: it
// yields an empty list and a warning. A file that cannot be decoded yields an
// empty list and the decode error, which callers treat as non-fatal.
//
// Reminders due after until are dropped, completed ones are dropped, and
// duplicates (same title, due and list, case-insensitive) are kept once.
// Due dates without an offset are read in loc.
func Load(path string, loc *time.Location, until time.Time) ([]model.Reminder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("reminders file not found", "path", path)
			return []model.Reminder{}, nil
		}
		return []model.Reminder{}, fmt.Errorf("reminders: read %s: %w", path, err)
	}

	items, err := Parse(data, loc, until)
	if err != nil {
		return []model.Reminder{}, fmt.Errorf("reminders: %s: %w", path, err)
	}
	appLog.Info("reminders loaded", "path", path, "count", len(items))
	return items, nil
}

// Parse decodes a reminders document. Accepted shapes:
//
//	[ {...}, {...} ]
//	{"reminders": [ {...}, {...} ]}
//	{"reminders": {...}}
//	{"reminders": "{...}\n{...}"}
//
// In the last form each line is a JSON object whose fields may hold several
// values joined by newlines; the n-th values of each field form one reminder.
func Parse(data []byte, loc *time.Location, until time.Time) ([]model.Reminder, error) {
	if loc == nil {
		loc = time.Local
	}

	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 {
		return []model.Reminder{}, errors.New("empty document")
	}

	var raws []rawReminder
	switch data[0] {
	case '[':
		list, err := decodeList(data)
		if err != nil {
			return []model.Reminder{}, err
		}
		raws = list
	case '{':
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return []model.Reminder{}, err
		}
		list, err := decodeField(doc["reminders"])
		if err != nil {
			return []model.Reminder{}, err
		}
		raws = list
	default:
		return []model.Reminder{}, errors.New("document is neither a JSON object nor an array")
	}

	return normalize(raws, loc, until), nil
}

// rawReminder is one entry as exported. Every field goes through flexString
// because the exporter writes numbers and booleans unquoted.
type rawReminder struct {
	Title     flexString `json:"title"`
	Due       flexString `json:"due"`
	List      flexString `json:"list"`
	Priority  flexString `json:"priority"`
	Notes     flexString `json:"notes"`
	Completed flexString `json:"completed"`
}

func (r rawReminder) empty() bool {
	return strings.TrimSpace(string(r.Title)) == "" &&
		strings.TrimSpace(string(r.Due)) == "" &&
		strings.TrimSpace(string(r.Notes)) == "" &&
		strings.TrimSpace(string(r.List)) == ""
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("unexpected JSON value %s", b)
	default:
		// number or boolean
		*f = flexString(b)
	}
	return nil
}

func (f flexString) truthy() bool {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func decodeField(raw json.RawMessage) ([]rawReminder, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		return decodeList(raw)
	case '{':
		var r rawReminder
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return []rawReminder{r}, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return decodeLines(s), nil
	}
	return nil, fmt.Errorf("unsupported reminders value %.20s", raw)
}

// decodeList decodes an array entry by entry so one malformed entry does
// not hide the rest.
func decodeList(data []byte) ([]rawReminder, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	out := make([]rawReminder, 0, len(elems))
	for i, e := range elems {
		var r rawReminder
		if err := json.Unmarshal(e, &r); err != nil {
			appLog.Debug("skipping malformed reminder", "index", i, "error", err.Error())
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeLines(s string) []rawReminder {
	var out []rawReminder
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var r rawReminder
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			appLog.Debug("skipping malformed reminder line", "line", i+1, "error", err.Error())
			continue
		}
		out = append(out, splitJoined(r)...)
	}
	return out
}

// splitJoined turns one record whose fields hold newline-joined values into
// one record per position.
func splitJoined(r rawReminder) []rawReminder {
	titles := strings.Split(string(r.Title), "\n")
	dues := strings.Split(string(r.Due), "\n")
	lists := strings.Split(string(r.List), "\n")
	prios := strings.Split(string(r.Priority), "\n")
	notes := strings.Split(string(r.Notes), "\n")
	done := strings.Split(string(r.Completed), "\n")

	n := max(len(titles), len(dues), len(lists), len(prios), len(notes))
	out := make([]rawReminder, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rawReminder{
			Title:     flexString(at(titles, i)),
			Due:       flexString(at(dues, i)),
			List:      flexString(at(lists, i)),
			Priority:  flexString(at(prios, i)),
			Notes:     flexString(at(notes, i)),
			Completed: flexString(at(done, i)),
		})
	}
	return out
}

func at(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

func normalize(raws []rawReminder, loc *time.Location, until time.Time) []model.Reminder {
	out := make([]model.Reminder, 0, len(raws))
	seen := make(map[string]bool, len(raws))

	for _, r := range raws {
		if r.empty() || r.Completed.truthy() {
			continue
		}

		title := strings.TrimSpace(string(r.Title))
		if title == "" {
			title = untitled
		}
		item := model.Reminder{
			Title:    title,
			List:     strings.TrimSpace(string(r.List)),
			Priority: strings.TrimSpace(string(r.Priority)),
			Notes:    strings.TrimSpace(string(r.Notes)),
		}

		if raw := strings.TrimSpace(string(r.Due)); raw != "" {
			due, err := ParseDue(raw, loc)
			if err != nil {
				appLog.Debug("unparsable reminder due date", "title", title, "due", raw)
			} else {
				item.Due = &due
			}
		}

		if item.Due != nil && !until.IsZero() && item.Due.After(until) {
			continue
		}

		key := strings.ToLower(item.Title) + "\x00" + dueKey(item.Due) + "\x00" + strings.ToLower(item.List)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Due, out[j].Due
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
	return out
}

func dueKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseDue parses the loosely formatted dates the exporter writes, e.g.
// "2026-10-14T17:00:00-04:00", "2026-10-14 17:00:00" or
// "May 8, 2026 at 5:57:51 PM". Values without an offset are read in loc and
// the result is converted to loc.
func ParseDue(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	s = strings.Replace(s, " at ", " ", 1)
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
