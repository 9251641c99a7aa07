package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dailydigest/internal/config"
	appLog "dailydigest/internal/log"
	"dailydigest/internal/model"
)

// ErrNotConfigured is returned when no API key or location is set. The
// digest then shows a placeholder instead of a weather line.
var ErrNotConfigured = errors.New("weather: api key or location not configured")

// StatusError is a non-200 reply from the weather API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("weather: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("weather: HTTP %d", e.StatusCode)
}

// Client fetches current conditions from OpenWeatherMap.
type Client struct {
	cfg    config.WeatherConfig
	client *http.Client
}

func NewClient(cfg config.WeatherConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.DefaultWeatherEndpoint
	}
	if cfg.Units == "" {
		cfg.Units = "imperial"
	}
	return &Client{cfg: cfg, client: client}
}

// current is the subset of the /data/2.5/weather reply the digest uses.
type current struct {
	Name string `json:"name"`
	Main *struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Message string `json:"message"`
}

// Current returns a snapshot of the current weather. Any failure is
// returned as an error; none of them are fatal to the digest.
func (c *Client) Current(ctx context.Context) (*model.Weather, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" || (!c.cfg.HasCoordinates() && strings.TrimSpace(c.cfg.Location) == "") {
		return nil, ErrNotConfigured
	}

	target, err := c.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the API key; do not let it reach the log.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("weather: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("weather: read: %w", err)
	}

	var data current
	decodeErr := json.Unmarshal(body, &data)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: data.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("weather: decode: %w", decodeErr)
	}
	if data.Main == nil || len(data.Weather) == 0 {
		return nil, errors.New("weather: reply is missing main or weather")
	}

	tempUnit, windUnit := unitSuffixes(c.cfg.Units)
	w := &model.Weather{
		Location:    data.Name,
		Description: cases.Title(language.English).String(strings.TrimSpace(data.Weather[0].Description)),
		Temperature: round(data.Main.Temp),
		FeelsLike:   round(data.Main.FeelsLike),
		Humidity:    round(data.Main.Humidity),
		WindSpeed:   round(data.Wind.Speed),
		TempUnit:    tempUnit,
		WindUnit:    windUnit,
	}
	if w.Location == "" {
		w.Location = c.cfg.Location
	}

	appLog.Info("weather fetched", "location", w.Location, "temp", w.Temperature, "desc", w.Description)
	return w, nil
}

func (c *Client) requestURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("weather: endpoint: %w", err)
	}
	q := u.Query()
	if c.cfg.HasCoordinates() {
		q.Set("lat", strconv.FormatFloat(c.cfg.Lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(c.cfg.Lon, 'f', -1, 64))
	} else {
		q.Set("q", strings.TrimSpace(c.cfg.Location))
	}
	q.Set("appid", c.cfg.APIKey)
	q.Set("units", c.cfg.Units)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func unitSuffixes(units string) (temp, wind string) {
	switch units {
	case "metric":
		return "°C", "m/s"
	case "standard":
		return "K", "m/s"
	default:
		return "°F", "mph"
	}
}

func round(f float64) int {
	return int(math.Round(f))
}
