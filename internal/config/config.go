package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	appLog "dailydigest/internal/log"
)

// EnvPrefix marks environment variables that override file values.
// Nesting uses a double underscore: DIGEST_SMTP__PASSWORD -> smtp.password.
const EnvPrefix = "DIGEST_"

// DigestConfig controls the window and the envelope of the digest.
type DigestConfig struct {
	// TimeZone is the IANA zone used for the window and all displayed times.
	TimeZone string `koanf:"time_zone" json:"time_zone" yaml:"time_zone"`

	// DaysAhead is the lookahead window length in days.
	DaysAhead int `koanf:"days_ahead" json:"days_ahead" yaml:"days_ahead"`

	SubjectPrefix string `koanf:"subject_prefix" json:"subject_prefix" yaml:"subject_prefix"`

	// SendEmpty sends the email even when no events, reminders or weather
	// were collected. The quote is always present and does not count, so
	// with SendEmpty off a run that only got a quote sends nothing.
	SendEmpty bool `koanf:"send_empty" json:"send_empty" yaml:"send_empty"`

	// GreetingName is used in the opening line ("Hi, <name>."). Optional.
	GreetingName string `koanf:"greeting_name" json:"greeting_name" yaml:"greeting_name"`
}

// CalendarConfig lists the subscribed ICS feeds.
type CalendarConfig struct {
	// ICSURLs are fetched in order. webcal:// is accepted.
	ICSURLs []string `koanf:"ics_urls" json:"ics_urls" yaml:"ics_urls"`

	// CacheDir enables the ETag/Last-Modified disk cache when non-empty.
	CacheDir string `koanf:"cache_dir" json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
}

type RemindersConfig struct {
	JSONPath string `koanf:"json_path" json:"json_path" yaml:"json_path"`
}

// WeatherConfig addresses the OpenWeatherMap current-conditions API.
// Lat/Lon take precedence over Location when either is non-zero.
type WeatherConfig struct {
	APIKey   string  `koanf:"api_key" json:"api_key" yaml:"api_key"`
	Location string  `koanf:"location" json:"location,omitempty" yaml:"location,omitempty"`
	Lat      float64 `koanf:"lat" json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon      float64 `koanf:"lon" json:"lon,omitempty" yaml:"lon,omitempty"`
	Units    string  `koanf:"units" json:"units" yaml:"units"`
	Endpoint string  `koanf:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// HasCoordinates reports whether lat/lon should be used instead of Location.
func (w WeatherConfig) HasCoordinates() bool {
	return w.Lat != 0 || w.Lon != 0
}

// QuoteConfig selects the quote source. Source "none" uses only the
// built-in fallback list.
type QuoteConfig struct {
	Source   string `koanf:"source" json:"source" yaml:"source"`
	Endpoint string `koanf:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

type SMTPConfig struct {
	Server   string `koanf:"server" json:"server" yaml:"server"`
	Port     int    `koanf:"port" json:"port" yaml:"port"`
	Username string `koanf:"username" json:"username" yaml:"username"`
	Password string `koanf:"password" json:"password" yaml:"password"`
}

type EmailConfig struct {
	From string   `koanf:"from" json:"from" yaml:"from"`
	To   []string `koanf:"to" json:"to" yaml:"to"`
}

// Config is the top-level application configuration. It is loaded once
// per run and not modified afterwards.
type Config struct {
	Digest    DigestConfig    `koanf:"digest" json:"digest" yaml:"digest"`
	Calendar  CalendarConfig  `koanf:"calendar" json:"calendar" yaml:"calendar"`
	Reminders RemindersConfig `koanf:"reminders" json:"reminders" yaml:"reminders"`
	Weather   WeatherConfig   `koanf:"weather" json:"weather" yaml:"weather"`
	Quote     QuoteConfig     `koanf:"quote" json:"quote" yaml:"quote"`
	SMTP      SMTPConfig      `koanf:"smtp" json:"smtp" yaml:"smtp"`
	Email     EmailConfig     `koanf:"email" json:"email" yaml:"email"`

	// HTTPTimeoutSeconds bounds every outbound HTTP call.
	HTTPTimeoutSeconds int `koanf:"http_timeout_seconds" json:"http_timeout_seconds" yaml:"http_timeout_seconds"`

	loc *time.Location
}

const (
	DefaultWeatherEndpoint = "https://api.openweathermap.org/data/2.5/weather"
	DefaultQuoteEndpoint   = "https://zenquotes.io/api/random"
)

// DefaultConfig returns the compiled-in defaults. Required fields (SMTP
// server, sender, recipients) are left empty.
func DefaultConfig() *Config {
	return &Config{
		Digest: DigestConfig{
			TimeZone:      "America/New_York",
			DaysAhead:     1,
			SubjectPrefix: "[Daily Digest]",
			SendEmpty:     true,
		},
		Calendar:  CalendarConfig{ICSURLs: []string{}},
		Reminders: RemindersConfig{},
		Weather: WeatherConfig{
			Units:    "imperial",
			Endpoint: DefaultWeatherEndpoint,
		},
		Quote: QuoteConfig{
			Source:   "zenquotes",
			Endpoint: DefaultQuoteEndpoint,
		},
		SMTP:               SMTPConfig{Port: 587},
		Email:              EmailConfig{To: []string{}},
		HTTPTimeoutSeconds: 20,
	}
}

// Location returns the resolved display timezone. It is set by Load and
// Validate; before that it falls back to time.Local.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// HTTPTimeout returns HTTPTimeoutSeconds as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// Load reads configuration from path, layering, in order:
//   - compiled defaults
//   - the JSON or YAML file at path (by extension; anything else is JSON)
//   - DIGEST_* environment variables, after loading a .env file that sits
//     next to the config file, if any
//
// The merged values are then normalized before validation. The time zone,
// feed URLs, addresses and SMTP server are trimmed; weather.units and
// quote.source are trimmed and lower-cased, so " Metric " loads as
// "metric". Empty optional fields (subject prefix, units, endpoints, SMTP
// port, HTTP timeout) get their defaults. Secrets are kept as written.
//
// Any problem is returned as a *ConfigError. A missing file is an error:
// sending a digest with no recipients configured is never useful.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Problems: []string{"config path is empty"}}
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{Path: path, Problems: []string{"config file not found"}, Err: err}
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{"loading defaults"}, Err: err}
	}

	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{"parsing config file"}, Err: err}
	}
	appLog.Debug("loaded configuration file", "path", path)

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil)
	if err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{"loading environment overrides"}, Err: err}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &ConfigError{Path: path, Problems: []string{"decoding config"}, Err: err}
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}

	return &cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return json.Parser()
	}
}

// transformEnv maps DIGEST_SMTP__PASSWORD to smtp.password. Recipient lists
// are comma separated.
func transformEnv(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	switch key {
	case "email.to", "calendar.ics_urls":
		return key, splitList(v)
	}
	return key, v
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overrides variables already set in the process.
	if err := godotenv.Load(path); err != nil {
		appLog.Warn("ignoring unreadable .env file", "path", path, "err", err)
		return
	}
	appLog.Debug("loaded .env file", "path", path)
}

// Normalize trims whitespace and fills zero values that have an obvious
// default, so a sparse file still behaves.
func (c *Config) Normalize() {
	c.Digest.TimeZone = strings.TrimSpace(c.Digest.TimeZone)
	if c.Digest.SubjectPrefix == "" {
		c.Digest.SubjectPrefix = "[Daily Digest]"
	}
	c.Weather.Units = strings.ToLower(strings.TrimSpace(c.Weather.Units))
	if c.Weather.Units == "" {
		c.Weather.Units = "imperial"
	}
	if c.Weather.Endpoint == "" {
		c.Weather.Endpoint = DefaultWeatherEndpoint
	}
	c.Quote.Source = strings.ToLower(strings.TrimSpace(c.Quote.Source))
	if c.Quote.Source == "" {
		c.Quote.Source = "zenquotes"
	}
	if c.Quote.Endpoint == "" {
		c.Quote.Endpoint = DefaultQuoteEndpoint
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = 20
	}

	urls := make([]string, 0, len(c.Calendar.ICSURLs))
	for _, u := range c.Calendar.ICSURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	c.Calendar.ICSURLs = urls

	to := make([]string, 0, len(c.Email.To))
	for _, addr := range c.Email.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	c.Email.To = to
	c.Email.From = strings.TrimSpace(c.Email.From)
	c.SMTP.Server = strings.TrimSpace(c.SMTP.Server)
}
