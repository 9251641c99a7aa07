package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"dailydigest/internal/config"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

const (
	SourceZenQuotes = "zenquotes"
	SourceNone      = "none"
)

// ZenQuotes answers rate-limited clients with a 200 and this author.
const rateLimitAuthor = "zenquotes.io"

var fallbacks = []model.Quote{
	{Text: "We are what we repeatedly do. Excellence, then, is not an act, but a habit.", Author: "Will Durant"},
	{Text: "Do the hard things, especially when you don't feel like it."},
	{Text: "Simplicity is the ultimate sophistication.", Author: "Leonardo da Vinci"},
	{Text: "The secret of getting ahead is getting started.", Author: "Mark Twain"},
}

// Fallbacks returns a copy of the built-in quote list.
func Fallbacks() []model.Quote {
	out := make([]model.Quote, len(fallbacks))
	copy(out, fallbacks)
	return out
}

type Fetcher struct {
	source   string
	endpoint string
	client   *http.Client

	// pick returns an index in [0, n). Tests replace it.
	pick func(n int) int
}

func NewFetcher(cfg config.QuoteConfig, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	source := strings.ToLower(strings.TrimSpace(cfg.Source))
	if source == "" {
		source = SourceZenQuotes
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultQuoteEndpoint
	}
	return &Fetcher{
		source:   source,
		endpoint: endpoint,
		client:   client,
		pick:     rand.IntN,
	}
}

// Fetch always returns a quote. Network and decode failures are logged and
// replaced by a pick from the fallback list.
func (f *Fetcher) Fetch(ctx context.Context) model.Quote {
	if f.source == SourceNone {
		return f.fallback()
	}

	q, err := f.fetchRemote(ctx)
	if err != nil {
		appLog.Warn("quote fetch failed, using fallback", "error", err.Error())
		return f.fallback()
	}
	appLog.Debug("quote fetched", "author", q.Author)
	return q
}

func (f *Fetcher) fallback() model.Quote {
	q := fallbacks[f.pick(len(fallbacks))]
	q.Fallback = true
	return q
}

type zenQuote struct {
	Q string `json:"q"`
	A string `json:"a"`
}

func (f *Fetcher) fetchRemote(ctx context.Context) (model.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return model.Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return model.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("quote: HTTP %d", resp.StatusCode)
	}

	var reply []zenQuote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&reply); err != nil {
		return model.Quote{}, fmt.Errorf("quote: decode: %w", err)
	}
	if len(reply) == 0 || strings.TrimSpace(reply[0].Q) == "" {
		return model.Quote{}, errors.New("quote: empty reply")
	}
	if strings.EqualFold(strings.TrimSpace(reply[0].A), rateLimitAuthor) {
		return model.Quote{}, errors.New("quote: rate limited")
	}

	return model.Quote{
		Text:   strings.TrimSpace(reply[0].Q),
		Author: strings.TrimSpace(reply[0].A),
	}, nil
}
