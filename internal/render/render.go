// Package render turns collected digest data into the HTML email body and
// its plain-text alternative.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"dailydigest/internal/model"
)

//go:embed templates/digest.html.tmpl
var templateFS embed.FS

// Data is everything one digest shows. Now must already be in the display
// timezone; event and reminder times are shown in Now's location.
type Data struct {
	Subject      string
	Now          time.Time
	DaysAhead    int
	GreetingName string

	Events    []model.Event
	Reminders []model.Reminder
	Weather   *model.Weather // nil renders a placeholder
	Quote     model.Quote

	// Problems names the sources that failed, e.g. "weather".
	Problems []string
}

// Document is a rendered digest.
type Document struct {
	HTML string
	Text string
}

type Renderer struct {
	tmpl *template.Template
	conv *md.Converter
}

func New() (*Renderer, error) {
	tmpl, err := template.New("digest.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/digest.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("render: parse template: %w", err)
	}
	conv := md.NewConverter("", true, nil).Remove("head", "style", "title")
	return &Renderer{tmpl: tmpl, conv: conv}, nil
}

func (r *Renderer) Render(d Data) (Document, error) {
	if d.Now.IsZero() {
		return Document{}, fmt.Errorf("render: Now is not set")
	}
	if d.DaysAhead < 1 {
		d.DaysAhead = 1
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, d); err != nil {
		return Document{}, fmt.Errorf("render: execute: %w", err)
	}

	text, err := r.conv.ConvertString(buf.String())
	if err != nil {
		return Document{}, fmt.Errorf("render: text part: %w", err)
	}

	return Document{HTML: buf.String(), Text: strings.TrimSpace(text) + "\n"}, nil
}

// Subject builds "<prefix> Wednesday, October 14, 2026".
func Subject(prefix string, now time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return LongDate(now)
	}
	return prefix + " " + LongDate(now)
}

func LongDate(t time.Time) string {
	return t.Format("Monday, January 02, 2006")
}

var funcs = template.FuncMap{
	"longDate":  LongDate,
	"weekday":   func(t time.Time) string { return t.Weekday().String() },
	"eventTime": eventTime,
	"dueLabel":  dueLabel,
	"join":      strings.Join,
}

const clockLayout = "3:04 PM"

func eventTime(ev model.Event) string {
	start, end := ev.Start, ev.End
	if end.IsZero() || !end.After(start) {
		return start.Format(clockLayout)
	}
	if sameDay(start, end) {
		return start.Format(clockLayout) + "–" + end.Format(clockLayout)
	}
	return start.Format(clockLayout) + "–" + end.Format("Jan 2 "+clockLayout)
}

// dueLabel formats a reminder's due date relative to now: a bare clock
// time for today, otherwise the date with the time when one is set.
func dueLabel(r model.Reminder, now time.Time) string {
	if r.Due == nil {
		return ""
	}
	due := r.Due.In(now.Location())
	switch {
	case sameDay(due, now) && r.HasDueTime():
		return due.Format(clockLayout)
	case sameDay(due, now):
		return "today"
	case r.HasDueTime():
		return due.Format("Mon Jan 2, " + clockLayout)
	default:
		return due.Format("Mon Jan 2")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
