package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/weatherbox/weather-station/internal/weather"
)

const (
	defaultTimeout = 10 * time.Second
	probeTimeout   = 10 * time.Second

	// userAgent identifies the fetcher to the backend.
	userAgent = "WeatherStation/2.0 (Enhanced Data Fetcher)"
)

var errUnexpectedStatus = errors.New("unexpected status code")

// Config carries the client settings.
type Config struct {
	// BaseURL is the backend root, e.g. http://localhost:8080.
	BaseURL string

	// SelfHosted adds the models parameter self-hosted instances require.
	SelfHosted bool

	// Timeout is the per-request default when FetchOptions carries none.
	Timeout time.Duration
}

// Client fetches forecasts from an Open-Meteo compatible backend. A single
// Fetch is one attempt; retry policies live with the callers.
type Client struct {
	baseURL    string
	selfHosted bool
	timeout    time.Duration
	client     *http.Client
	circuit    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// New creates a client around the shared HTTP client.
func New(httpClient *http.Client, cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		selfHosted: cfg.SelfHosted,
		timeout:    timeout,
		client:     httpClient,
		circuit:    cb,
		log:        log,
	}
}

// Fetch requests the forecast for one location and classifies the result.
func (c *Client) Fetch(ctx context.Context, loc weather.Location, opts weather.FetchOptions) weather.Outcome {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	forecastDays := opts.ForecastDays
	if forecastDays <= 0 {
		forecastDays = 7
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%f", loc.Longitude))
		values.Set("hourly", strings.Join(weather.CanonicalParams, ","))
		values.Set("past_days", strconv.Itoa(opts.PastDays))
		values.Set("forecast_days", strconv.Itoa(forecastDays))
		values.Set("timezone", "auto")
		if c.selfHosted {
			values.Set("models", weather.ModelsParam())
		}

		u := fmt.Sprintf("%s/v1/forecast?%s", c.baseURL, values.Encode())
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	}

	req, err := buildRequest()
	if err != nil {
		return weather.Outcome{Kind: weather.OutcomeConnection, Err: err}
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, execErr := c.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return weather.Outcome{Kind: classify(err), Err: err}
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return weather.Outcome{
			Kind: weather.OutcomeConnection,
			Err:  fmt.Errorf("unexpected result type from circuit breaker"),
		}
	}
	defer resp.Body.Close()

	var payload struct {
		Timezone    string                `json:"timezone"`
		Elevation   float64               `json:"elevation"`
		HourlyUnits map[string]string     `json:"hourly_units"`
		Hourly      *weather.HourlySeries `json:"hourly"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Outcome{
			Kind: weather.OutcomeConnection,
			Err:  fmt.Errorf("decode forecast response: %w", err),
		}
	}

	hourly := weather.Normalize(payload.Hourly)
	if hourly != nil {
		hourly.Align()
	}

	rec := &weather.Record{
		City:        loc.Name,
		Coordinates: []float64{loc.Latitude, loc.Longitude},
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Timezone:    payload.Timezone,
		Elevation:   payload.Elevation,
		HourlyUnits: payload.HourlyUnits,
		Hourly:      hourly,
		FetchedAt:   time.Now(),
	}

	return weather.Outcome{Kind: weather.OutcomeAccepted, Record: rec}
}

// Probe issues the reference request used by the status endpoint and
// measures its round trip. It bypasses the circuit breaker so an open
// circuit does not mask the backend coming back.
func (c *Client) Probe(ctx context.Context) weather.ProbeResult {
	values := url.Values{}
	values.Set("latitude", "40.7")
	values.Set("longitude", "-74.0")
	values.Set("hourly", "temperature_2m,relative_humidity_2m,pressure_msl,wind_speed_10m")
	values.Set("forecast_days", "1")
	if c.selfHosted {
		values.Set("models", weather.ModelsParam())
	}

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/forecast?%s", c.baseURL, values.Encode())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return failedProbe(c.baseURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return failedProbe(c.baseURL, err)
	}
	defer resp.Body.Close()

	return weather.ProbeResult{
		Accessible:   resp.StatusCode == http.StatusOK,
		ResponseTime: time.Since(start).Milliseconds(),
		APIURL:       c.baseURL,
		StatusCode:   resp.StatusCode,
	}
}

// Reachable is the cheap availability check used before bulk updates.
func (c *Client) Reachable(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/forecast?latitude=0&longitude=0", c.baseURL)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func failedProbe(baseURL string, err error) weather.ProbeResult {
	return weather.ProbeResult{
		Accessible:   false,
		ResponseTime: -1,
		APIURL:       baseURL,
		StatusCode:   -1,
		Error:        err.Error(),
	}
}

// classify maps a request error onto an outcome kind. Timeouts and open
// circuits are distinguished from plain connection failures so batch tallies
// tell a slow backend apart from a dead one.
func classify(err error) weather.OutcomeKind {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return weather.OutcomeConnection
	}
	if errors.Is(err, errUnexpectedStatus) {
		return weather.OutcomeBadStatus
	}
	if isTimeout(err) {
		return weather.OutcomeTimeout
	}
	return weather.OutcomeConnection
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
