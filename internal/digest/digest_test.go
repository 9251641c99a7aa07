package digest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailydigest/internal/clock"
	"dailydigest/internal/config"
	"dailydigest/internal/mail"
	"dailydigest/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//digest//test//EN\r\n" +
	"X-WR-CALNAME:Family\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dentist@example.com\r\n" +
	"SUMMARY:Dentist\r\n" +
	"DTSTART;TZID=America/New_York:20261014T100000\r\n" +
	"DTEND;TZID=America/New_York:20261014T110000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:later@example.com\r\n" +
	"SUMMARY:Next week\r\n" +
	"DTSTART:20261021T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	cfg    *config.Config
	deps   Dependencies
	sender *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/family.ics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	})
	mux.HandleFunc("/weather", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Boston","main":{"temp":55.2,"feels_like":53,"humidity":60},"weather":[{"description":"clear sky"}],"wind":{"speed":4}}`))
	})
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"q":"Well begun is half done.","a":"Aristotle"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	remindersPath := filepath.Join(t.TempDir(), "reminders.json")
	require.NoError(t, os.WriteFile(remindersPath, []byte(`{"reminders":[
		{"title":"Pay rent","due":"2026-10-14 17:00:00","list":"Home"},
		{"title":"File taxes","due":"2026-11-30"}
	]}`), 0o600))

	cfg := config.DefaultConfig()
	cfg.Calendar.ICSURLs = []string{srv.URL + "/family.ics"}
	cfg.Reminders.JSONPath = remindersPath
	cfg.Weather.APIKey = "k"
	cfg.Weather.Location = "Boston"
	cfg.Weather.Endpoint = srv.URL + "/weather"
	cfg.Quote.Endpoint = srv.URL + "/quote"
	cfg.SMTP.Server = "smtp.example.com"
	cfg.Email.From = "digest@example.com"
	cfg.Email.To = []string{"me@example.com"}
	require.NoError(t, cfg.Validate())

	deps, err := DefaultDependencies(cfg)
	require.NoError(t, err)

	ny := cfg.Location()
	deps.Clock = &clock.MockClock{FixedNow: time.Date(2026, 10, 14, 6, 0, 0, 0, ny)}
	sender := &fakeSender{}
	deps.Sender = sender

	return &fixture{cfg: cfg, deps: deps, sender: sender}
}

func TestRun_SendsOneDigest(t *testing.T) {
	f := newFixture(t)

	res, err := New(f.cfg, f.deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.False(t, res.Skipped)
	require.Len(t, f.sender.sent, 1)

	msg := f.sender.sent[0]
	assert.Equal(t, "[Daily Digest] Wednesday, October 14, 2026", msg.Subject)
	assert.Equal(t, []string{"me@example.com"}, msg.To)

	html := msg.HTML
	assert.Equal(t, 1, strings.Count(html, `class="event"`))
	assert.Equal(t, 1, strings.Count(html, `class="reminder"`))
	assert.Equal(t, 1, strings.Count(html, `class="weather-line"`))
	assert.Equal(t, 1, strings.Count(html, `class="quote"`))
	assert.Contains(t, html, "Dentist")
	assert.NotContains(t, html, "Next week")
	assert.NotContains(t, html, "File taxes")
	assert.Contains(t, html, "Clear Sky")
	assert.Contains(t, html, "Aristotle")
	assert.NotEmpty(t, msg.Text)

	assert.Empty(t, res.Digest.Problems)
	assert.Equal(t, "Family", res.Digest.Data.Events[0].Calendar)
}

func TestRun_DegradesWhenSourcesFail(t *testing.T) {
	f := newFixture(t)
	f.cfg.Calendar.ICSURLs = append([]string{"http://127.0.0.1:1/missing.ics"}, f.cfg.Calendar.ICSURLs...)
	f.cfg.Reminders.JSONPath = filepath.Join(t.TempDir(), "absent.json")
	f.deps.Weather = failingWeather{}

	res, err := New(f.cfg, f.deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)

	html := f.sender.sent[0].HTML
	assert.Equal(t, 1, strings.Count(html, `class="event"`), "the working feed still contributes")
	assert.Contains(t, html, "No upcoming tasks.")
	assert.Contains(t, html, "Weather unavailable.")

	var sources []string
	for _, p := range res.Digest.Problems {
		sources = append(sources, p.Source)
	}
	assert.Equal(t, []string{"calendar cal1-127.0.0.1", "weather"}, sources)
}

func TestRun_SkipsEmptyWhenConfigured(t *testing.T) {
	f := newFixture(t)
	f.cfg.Digest.SendEmpty = false
	f.cfg.Calendar.ICSURLs = nil
	f.cfg.Reminders.JSONPath = ""
	f.cfg.Weather.APIKey = ""
	deps, err := DefaultDependencies(f.cfg)
	require.NoError(t, err)
	deps.Clock = f.deps.Clock
	deps.Sender = f.sender

	res, err := New(f.cfg, deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, res.Sent)
	assert.Empty(t, f.sender.sent)
	// A quote alone does not make the digest worth sending.
	assert.Equal(t, "Aristotle", res.Digest.Data.Quote.Author)
	assert.False(t, res.Digest.Data.Quote.Fallback)

	// With send_empty on, the same empty digest is sent.
	f.cfg.Digest.SendEmpty = true
	res, err = New(f.cfg, deps).Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Len(t, f.sender.sent, 1)
}

func TestRun_DryRunWritesFileAndDoesNotSend(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(t.TempDir(), "out", "digest.html")

	res, err := New(f.cfg, f.deps).Run(context.Background(), RunOptions{DryRun: true, OutPath: out})
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Empty(t, f.sender.sent)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Dentist")
}

func TestRun_SendFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.sender.err = &mail.MailError{Op: "send", Err: errors.New("connection refused")}

	res, err := New(f.cfg, f.deps).Run(context.Background(), RunOptions{})
	var mailErr *mail.MailError
	require.ErrorAs(t, err, &mailErr)
	require.NotNil(t, res)
	assert.False(t, res.Sent)
}

func TestBuild_LookaheadWindow(t *testing.T) {
	f := newFixture(t)
	f.cfg.Digest.DaysAhead = 8

	d, err := New(f.cfg, f.deps).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, d.Data.Events, 2)
	assert.Equal(t, "Next week", d.Data.Events[1].Title)
	assert.Contains(t, d.Document.HTML, "Upcoming Events")
	assert.True(t, d.Window.End.Equal(d.Window.Start.AddDate(0, 0, 8)))
}

type failingWeather struct{}

func (failingWeather) Current(context.Context) (*model.Weather, error) {
	return nil, errors.New("weather: HTTP 503")
}
