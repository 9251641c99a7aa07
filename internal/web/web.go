package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"dailydigest/internal/digest"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

// cacheTTL bounds how often a page reload refetches every source.
const cacheTTL = 30 * time.Second

// Builder builds a fresh digest. *digest.Pipeline satisfies it.
type Builder interface {
	Build(ctx context.Context) (*digest.Digest, error)
}

// Options configures the preview server. Basic auth is enabled only when
// both Username and Password are set.
type Options struct {
	Username string
	Password string
}

// Server previews the digest over HTTP. It never sends email.
type Server struct {
	builder Builder
	opts    Options
	mux     *http.ServeMux
	now     func() time.Time

	mu    sync.Mutex
	cache *cachedDigest
}

type cachedDigest struct {
	d         *digest.Digest
	updatedAt time.Time
}

func NewServer(b Builder, opts Options) *Server {
	s := &Server{
		builder: b,
		opts:    opts,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	return s.opts.Username != "" && s.opts.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, s.opts.Username) || !secureCompare(p, s.opts.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Daily Digest", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("preview server shutdown failed", err)
		}
	}()

	appLog.Info("preview server listening", "addr", "http://"+ln.Addr().String(), "basic_auth", s.basicAuthEnabled())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return err
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleHTML)
	s.mux.HandleFunc("GET /digest.txt", s.handleText)
	s.mux.HandleFunc("GET /api/digest", s.handleJSON)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHTML(w http.ResponseWriter, r *http.Request) {
	d, ok := s.digest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(d.Document.HTML))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	d, ok := s.digest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(d.Document.Text))
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	d, ok := s.digest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(d))
}

// digest returns the cached digest or builds a new one. "?refresh=1"
// bypasses the cache. On failure it writes the error response itself.
func (s *Server) digest(w http.ResponseWriter, r *http.Request) (*digest.Digest, bool) {
	refresh := r.URL.Query().Get("refresh") != ""

	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.cache; c != nil && !refresh && s.now().Sub(c.updatedAt) < cacheTTL {
		return c.d, true
	}

	d, err := s.builder.Build(r.Context())
	if err != nil {
		appLog.Error("preview build failed", err)
		writeError(w, http.StatusInternalServerError, "failed to build digest")
		return nil, false
	}
	s.cache = &cachedDigest{d: d, updatedAt: s.now()}
	return d, true
}

// digestResponse is the JSON response shape for /api/digest.
type digestResponse struct {
	Subject     string         `json:"subject"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	TimeZone    string         `json:"time_zone"`
	Events      []eventDTO     `json:"events"`
	Reminders   []reminderDTO  `json:"reminders"`
	Weather     *model.Weather `json:"weather"`
	Quote       quoteDTO       `json:"quote"`
	Problems    []string       `json:"problems,omitempty"`
}

type eventDTO struct {
	Calendar string    `json:"calendar,omitempty"`
	UID      string    `json:"uid"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	AllDay   bool      `json:"all_day"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type reminderDTO struct {
	Title    string     `json:"title"`
	List     string     `json:"list,omitempty"`
	Priority string     `json:"priority,omitempty"`
	Notes    string     `json:"notes,omitempty"`
	Due      *time.Time `json:"due"`
}

type quoteDTO struct {
	Text     string `json:"text"`
	Author   string `json:"author,omitempty"`
	Fallback bool   `json:"fallback"`
}

func toResponse(d *digest.Digest) digestResponse {
	resp := digestResponse{
		Subject:     d.Subject,
		WindowStart: d.Window.Start,
		WindowEnd:   d.Window.End,
		TimeZone:    d.Window.Start.Location().String(),
		Events:      make([]eventDTO, 0, len(d.Data.Events)),
		Reminders:   make([]reminderDTO, 0, len(d.Data.Reminders)),
		Weather:     d.Data.Weather,
		Quote: quoteDTO{
			Text:     d.Data.Quote.Text,
			Author:   d.Data.Quote.Author,
			Fallback: d.Data.Quote.Fallback,
		},
	}
	for _, ev := range d.Data.Events {
		resp.Events = append(resp.Events, eventDTO{
			Calendar: ev.Calendar,
			UID:      ev.UID,
			Title:    ev.Title,
			Location: ev.Location,
			AllDay:   ev.AllDay,
			Start:    ev.Start,
			End:      ev.End,
		})
	}
	for _, r := range d.Data.Reminders {
		resp.Reminders = append(resp.Reminders, reminderDTO{
			Title:    r.Title,
			List:     r.List,
			Priority: r.Priority,
			Notes:    r.Notes,
			Due:      r.Due,
		})
	}
	// Problem errors can carry hosts; only the source names go out.
	for _, p := range d.Problems {
		resp.Problems = append(resp.Problems, p.Source)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
