package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailydigest/internal/model"
)

func serveICS(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWindowContains(t *testing.T) {
	now := utc(2026, 10, 14, 6, 0)
	w := NewWindow(now, 1)

	tests := []struct {
		name string
		ev   model.Event
		want bool
	}{
		{"timed inside", model.Event{Start: utc(2026, 10, 14, 9, 0), End: utc(2026, 10, 14, 10, 0)}, true},
		{"timed at window end", model.Event{Start: utc(2026, 10, 15, 6, 0), End: utc(2026, 10, 15, 7, 0)}, true},
		{"timed already started", model.Event{Start: utc(2026, 10, 14, 5, 0), End: utc(2026, 10, 14, 7, 0)}, false},
		{"timed after window", model.Event{Start: utc(2026, 10, 16, 9, 0), End: utc(2026, 10, 16, 10, 0)}, false},
		{"all-day today", model.Event{AllDay: true, Start: utc(2026, 10, 14, 0, 0), End: utc(2026, 10, 15, 0, 0)}, true},
		{"all-day yesterday", model.Event{AllDay: true, Start: utc(2026, 10, 13, 0, 0), End: utc(2026, 10, 14, 0, 0)}, false},
		{"multi-day spanning", model.Event{AllDay: true, Start: utc(2026, 10, 10, 0, 0), End: utc(2026, 10, 17, 0, 0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.ev))
		})
	}
}

func TestCollect_UnreachableFeedDoesNotHideOthers(t *testing.T) {
	body := calendarBody("Work",
		vevent("UID:standup", "SUMMARY:Standup", "DTSTART:20261014T130000Z", "DTEND:20261014T131500Z"),
		vevent("UID:later", "SUMMARY:Next week", "DTSTART:20261021T130000Z"),
		vevent("UID:past", "SUMMARY:Yesterday", "DTSTART:20261013T130000Z"),
		vevent("UID:holiday", "SUMMARY:Holiday", "DTSTART;VALUE=DATE:20261014"),
	)
	good := serveICS(t, body)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	c := NewCollector(NewFetcher(nil, ""), time.UTC)
	sources := SourcesFromURLs([]string{downURL + "/gone.ics", good.URL + "/work.ics"})
	events, errs := c.Collect(context.Background(), sources, NewWindow(utc(2026, 10, 14, 6, 0), 1))

	require.Len(t, errs, 1)
	require.Len(t, events, 2)
	assert.Equal(t, "Holiday", events[0].Title, "all-day events sort first")
	assert.Equal(t, "Standup", events[1].Title)
	assert.Equal(t, "Work", events[1].Calendar)
}

func TestCollect_SameEventOnTwoFeedsAppearsOnce(t *testing.T) {
	body := calendarBody("",
		vevent("UID:shared@example.com", "SUMMARY:Dinner", "DTSTART:20261014T230000Z"),
		vevent("UID:b", "SUMMARY:Alpha", "DTSTART:20261014T100000Z"),
		vevent("UID:a", "SUMMARY:Beta", "DTSTART:20261014T100000Z"),
	)
	other := calendarBody("",
		vevent("UID:shared@example.com", "SUMMARY:Dinner", "DTSTART:20261014T230000Z"),
	)
	one := serveICS(t, body)
	two := serveICS(t, other)

	c := NewCollector(nil, time.UTC)
	events, errs := c.Collect(context.Background(),
		SourcesFromURLs([]string{one.URL, two.URL}),
		NewWindow(utc(2026, 10, 14, 6, 0), 1))

	assert.Empty(t, errs)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"Alpha", "Beta", "Dinner"}, []string{events[0].Title, events[1].Title, events[2].Title})
}

func TestCollect_BadBodyIsReported(t *testing.T) {
	srv := serveICS(t, []byte("<html>sign in</html>"))

	c := NewCollector(nil, time.UTC)
	events, errs := c.Collect(context.Background(),
		[]Source{{ID: "html", URL: srv.URL}},
		NewWindow(utc(2026, 10, 14, 6, 0), 1))

	assert.Empty(t, events)
	require.Len(t, errs, 1)
	var srcErr *SourceError
	require.ErrorAs(t, errs[0], &srcErr)
	assert.Equal(t, "html", srcErr.Source.ID)
}

func TestCollect_IncludesMovedAndStandaloneOverrides(t *testing.T) {
	series := calendarBody("Team",
		vevent("UID:review", "SUMMARY:Monthly review", "DTSTART:20260901T150000Z", "DTEND:20260901T160000Z", "RRULE:FREQ=MONTHLY;BYMONTHDAY=1"),
		vevent("UID:review", "SUMMARY:Monthly review (early)", "RECURRENCE-ID:20261101T150000Z", "DTSTART:20261014T150000Z", "DTEND:20261014T160000Z"),
	)
	invite := calendarBody("Invites",
		vevent("UID:sync", "SUMMARY:Design sync", "RECURRENCE-ID:20261014T090000Z", "DTSTART:20261014T100000Z", "DTEND:20261014T110000Z"),
	)
	one := serveICS(t, series)
	two := serveICS(t, invite)

	c := NewCollector(nil, time.UTC)
	events, errs := c.Collect(context.Background(),
		SourcesFromURLs([]string{one.URL, two.URL}),
		NewWindow(utc(2026, 10, 14, 6, 0), 1))

	assert.Empty(t, errs)
	require.Len(t, events, 2)
	assert.Equal(t, "Design sync", events[0].Title)
	assert.Equal(t, "Invites", events[0].Calendar)
	assert.Equal(t, "Monthly review (early)", events[1].Title)
	assert.Equal(t, "Team", events[1].Calendar)
}
