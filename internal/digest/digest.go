// Package digest runs one digest: collect every source, render, send.
package digest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dailydigest/internal/clock"
	"dailydigest/internal/config"
	"dailydigest/internal/ics"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/mail"
	"dailydigest/internal/model"
	"dailydigest/internal/quote"
	"dailydigest/internal/reminders"
	"dailydigest/internal/render"
	"dailydigest/internal/weather"
)

// FetchError is a non-fatal failure of one source. The digest is still sent
// with that section left out or shown as a placeholder.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type CalendarCollector interface {
	Collect(ctx context.Context, sources []ics.Source, w ics.Window) ([]model.Event, []error)
}

type WeatherSource interface {
	Current(ctx context.Context) (*model.Weather, error)
}

type QuoteSource interface {
	Fetch(ctx context.Context) model.Quote
}

// ReminderLoader matches reminders.Load.
type ReminderLoader func(path string, loc *time.Location, until time.Time) ([]model.Reminder, error)

// Dependencies are the collaborators of a Pipeline. Tests swap any of them.
type Dependencies struct {
	Clock     clock.Clock
	Calendar  CalendarCollector
	Reminders ReminderLoader
	Weather   WeatherSource
	Quotes    QuoteSource
	Renderer  *render.Renderer
	Sender    mail.Sender
}

// DefaultDependencies wires the real network clients for cfg. All HTTP
// calls share one client bounded by cfg.HTTPTimeout.
func DefaultDependencies(cfg *config.Config) (Dependencies, error) {
	r, err := render.New()
	if err != nil {
		return Dependencies{}, err
	}
	client := &http.Client{Timeout: cfg.HTTPTimeout()}
	return Dependencies{
		Clock:     clock.SystemClock{},
		Calendar:  ics.NewCollector(ics.NewFetcher(client, cfg.Calendar.CacheDir), cfg.Location()),
		Reminders: reminders.Load,
		Weather:   weather.NewClient(cfg.Weather, client),
		Quotes:    quote.NewFetcher(cfg.Quote, client),
		Renderer:  r,
		Sender:    mail.NewSMTPSender(cfg.SMTP),
	}, nil
}

// Digest is one built digest, ready to send.
type Digest struct {
	Subject  string
	Window   ics.Window
	Data     render.Data
	Document render.Document
	Problems []*FetchError
}

// Empty reports whether nothing worth sending was collected. The quote does
// not count: it is always present.
func (d *Digest) Empty() bool {
	return len(d.Data.Events) == 0 && len(d.Data.Reminders) == 0 && d.Data.Weather == nil
}

type Pipeline struct {
	cfg  *config.Config
	deps Dependencies
}

func New(cfg *config.Config, deps Dependencies) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// Build collects all sources and renders the digest. Only a render failure
// is returned as an error; source failures are recorded in Problems.
func (p *Pipeline) Build(ctx context.Context) (*Digest, error) {
	loc := p.cfg.Location()
	now := p.deps.Clock.Now().In(loc)
	w := ics.NewWindow(now, p.cfg.Digest.DaysAhead)

	d := &Digest{
		Subject: render.Subject(p.cfg.Digest.SubjectPrefix, now),
		Window:  w,
	}
	data := render.Data{
		Subject:      d.Subject,
		Now:          now,
		DaysAhead:    p.cfg.Digest.DaysAhead,
		GreetingName: p.cfg.Digest.GreetingName,
		Events:       []model.Event{},
		Reminders:    []model.Reminder{},
	}

	if p.deps.Calendar != nil && len(p.cfg.Calendar.ICSURLs) > 0 {
		events, errs := p.deps.Calendar.Collect(ctx, ics.SourcesFromURLs(p.cfg.Calendar.ICSURLs), w)
		data.Events = events
		for _, err := range errs {
			d.Problems = append(d.Problems, &FetchError{Source: calendarSourceName(err), Err: err})
		}
	}

	if p.deps.Reminders != nil && p.cfg.Reminders.JSONPath != "" {
		items, err := p.deps.Reminders(p.cfg.Reminders.JSONPath, loc, w.End)
		if err != nil {
			appLog.Error("reminders unavailable", err)
			d.Problems = append(d.Problems, &FetchError{Source: "reminders", Err: err})
		}
		data.Reminders = items
	}

	if p.deps.Weather != nil {
		wx, err := p.deps.Weather.Current(ctx)
		switch {
		case errors.Is(err, weather.ErrNotConfigured):
			appLog.Info("weather not configured; section will show a placeholder")
		case err != nil:
			appLog.Error("weather unavailable", err)
			d.Problems = append(d.Problems, &FetchError{Source: "weather", Err: err})
		default:
			data.Weather = wx
		}
	}

	if p.deps.Quotes != nil {
		data.Quote = p.deps.Quotes.Fetch(ctx)
	} else {
		q := quote.Fallbacks()[0]
		q.Fallback = true
		data.Quote = q
	}

	for _, prob := range d.Problems {
		data.Problems = append(data.Problems, prob.Source)
	}

	if p.deps.Renderer == nil {
		return nil, errors.New("digest: no renderer")
	}
	doc, err := p.deps.Renderer.Render(data)
	if err != nil {
		return nil, err
	}
	d.Data = data
	d.Document = doc

	appLog.Info("digest built",
		"subject", d.Subject,
		"events", len(data.Events),
		"reminders", len(data.Reminders),
		"weather", data.Weather != nil,
		"quote_fallback", data.Quote.Fallback,
		"problems", len(d.Problems),
	)
	return d, nil
}

func calendarSourceName(err error) string {
	var se *ics.SourceError
	if errors.As(err, &se) {
		return "calendar " + se.Source.ID
	}
	return "calendar"
}

type RunOptions struct {
	// DryRun renders without sending.
	DryRun bool
	// OutPath, when set, receives the rendered HTML.
	OutPath string
}

type Result struct {
	Digest  *Digest
	Sent    bool
	Skipped bool // send_empty is off and nothing was collected
}

// Run builds the digest and sends it unless the run is a dry run or there
// is nothing to send and send_empty is off. A send failure is returned as
// a *mail.MailError.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	d, err := p.Build(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Digest: d}

	if opts.OutPath != "" {
		if err := writeHTML(opts.OutPath, d.Document.HTML); err != nil {
			return res, err
		}
		appLog.Info("digest written", "path", opts.OutPath)
	}

	if !p.cfg.Digest.SendEmpty && d.Empty() {
		appLog.Info("nothing to send and send_empty is off; skipping")
		res.Skipped = true
		return res, nil
	}
	if opts.DryRun {
		appLog.Info("dry run; not sending", "recipients", strings.Join(p.cfg.Email.To, ","))
		return res, nil
	}
	if p.deps.Sender == nil {
		return res, &mail.MailError{Op: "send", Err: errors.New("no sender configured")}
	}

	msg := mail.Message{
		From:    p.cfg.Email.From,
		To:      p.cfg.Email.To,
		Subject: d.Subject,
		HTML:    d.Document.HTML,
		Text:    d.Document.Text,
	}
	if err := p.deps.Sender.Send(ctx, msg); err != nil {
		return res, err
	}
	res.Sent = true
	return res, nil
}

func writeHTML(path, html string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("digest: create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("digest: write %s: %w", path, err)
	}
	return nil
}
