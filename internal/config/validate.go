package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// ConfigError reports why a configuration cannot be used. It is fatal to
// the run: no partial digest is sent.
type ConfigError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	if len(e.Problems) > 0 {
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	if e.Err != nil {
		if len(e.Problems) > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Validate checks every required field and resolves the timezone. All
// problems are reported at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Digest.TimeZone == "" {
		add("digest.time_zone is required")
	} else if loc, err := time.LoadLocation(c.Digest.TimeZone); err != nil {
		add("digest.time_zone %q is not a known IANA zone", c.Digest.TimeZone)
	} else {
		c.loc = loc
	}

	if c.Digest.DaysAhead < 1 {
		add("digest.days_ahead must be at least 1, got %d", c.Digest.DaysAhead)
	}

	for i, raw := range c.Calendar.ICSURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			add("calendar.ics_urls[%d] is not a URL", i)
			continue
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "webcal", "webcals":
		default:
			add("calendar.ics_urls[%d] has unsupported scheme %q", i, u.Scheme)
		}
	}

	switch c.Weather.Units {
	case "imperial", "metric", "standard":
	default:
		add("weather.units must be imperial, metric or standard, got %q", c.Weather.Units)
	}
	if c.Weather.Lat < -90 || c.Weather.Lat > 90 {
		add("weather.lat %v is out of range", c.Weather.Lat)
	}
	if c.Weather.Lon < -180 || c.Weather.Lon > 180 {
		add("weather.lon %v is out of range", c.Weather.Lon)
	}

	switch c.Quote.Source {
	case "zenquotes", "none":
	default:
		add("quote.source must be zenquotes or none, got %q", c.Quote.Source)
	}

	if c.SMTP.Server == "" {
		add("smtp.server is required")
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		add("smtp.port %d is out of range", c.SMTP.Port)
	}
	if c.SMTP.Username != "" && c.SMTP.Password == "" {
		add("smtp.password is required when smtp.username is set")
	}

	if c.Email.From == "" {
		add("email.from is required")
	} else if _, err := mail.ParseAddress(c.Email.From); err != nil {
		add("email.from %q is not an email address", c.Email.From)
	}
	if len(c.Email.To) == 0 {
		add("email.to needs at least one recipient")
	}
	for i, addr := range c.Email.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			add("email.to[%d] %q is not an email address", i, addr)
		}
	}

	if c.HTTPTimeoutSeconds <= 0 {
		add("http_timeout_seconds must be positive")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}
