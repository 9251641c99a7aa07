package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"dailydigest/internal/config"
)

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetch_ZenQuotes(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `[{"q":"  Well begun is half done. ","a":"Aristotle","h":"<blockquote/>"}]`)

	q := NewFetcher(config.QuoteConfig{Source: "zenquotes", Endpoint: srv.URL}, srv.Client()).Fetch(context.Background())
	assert.Equal(t, "Well begun is half done.", q.Text)
	assert.Equal(t, "Aristotle", q.Author)
	assert.False(t, q.Fallback)
}

func TestFetch_FallsBack(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed", http.StatusOK, `{"q":`},
		{"empty list", http.StatusOK, `[]`},
		{"rate limited", http.StatusOK, `[{"q":"Too many requests. Obtain an auth key for unlimited access.","a":"zenquotes.io"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			f := NewFetcher(config.QuoteConfig{Endpoint: srv.URL}, nil)
			f.pick = func(n int) int { return n - 1 }

			q := f.Fetch(context.Background())
			assert.True(t, q.Fallback)
			assert.Equal(t, "Mark Twain", q.Author)
		})
	}
}

func TestFetch_SourceNoneSkipsNetwork(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `[{"q":"x","a":"y"}]`)
	f := NewFetcher(config.QuoteConfig{Source: "None", Endpoint: srv.URL}, nil)
	f.pick = func(int) int { return 0 }

	q := f.Fetch(context.Background())
	assert.Equal(t, "Will Durant", q.Author)
	assert.True(t, q.Fallback)
	assert.Zero(t, hits.Load())
}

func TestFallbacks(t *testing.T) {
	list := Fallbacks()
	assert.Len(t, list, 4)
	for _, q := range list {
		assert.NotEmpty(t, q.Text)
	}
	list[0].Text = "changed"
	assert.NotEqual(t, "changed", Fallbacks()[0].Text)
}
