package weather

import (
	"context"
	"time"
)

// FetchOptions carries the per-call knobs of a forecast request.
type FetchOptions struct {
	// PastDays is the history window requested alongside the forecast.
	PastDays int

	// ForecastDays defaults to 7 when zero.
	ForecastDays int

	// Timeout bounds the whole request. Zero falls back to the client default.
	Timeout time.Duration
}

// ProbeResult is the outcome of a backend health probe.
type ProbeResult struct {
	Accessible   bool   `json:"accessible"`
	ResponseTime int64  `json:"response_time_ms"`
	APIURL       string `json:"api_url"`
	StatusCode   int    `json:"status_code"`
	Error        string `json:"error,omitempty"`
}

// Provider abstracts the forecast backend (an Open-Meteo compatible API).
type Provider interface {
	// Fetch performs a single attempt for one location and classifies the
	// result; retries are the caller's concern.
	Fetch(ctx context.Context, loc Location, opts FetchOptions) Outcome

	// Probe issues a small reference request and measures latency.
	Probe(ctx context.Context) ProbeResult

	// Reachable is a cheap availability check.
	Reachable(ctx context.Context) bool
}

// FileInfo describes the on-disk snapshot file for the status surface.
type FileInfo struct {
	Exists  bool    `json:"exists"`
	SizeMB  float64 `json:"size_mb"`
	Age     string  `json:"age"`
	Valid   bool    `json:"valid"`
	Records int     `json:"record_count"`
}

// Store is the contract the snapshot cache must satisfy for the service.
type Store interface {
	Current() (*Snapshot, error)
	Replace(snap *Snapshot) error
	Stale(maxAge time.Duration) bool
	Info() FileInfo
}

// LocationSource is the contract of the location catalog.
type LocationSource interface {
	// Load returns the full mapping, empty on failure.
	Load() map[string]Location

	// Names returns the city names in catalog order.
	Names() []string

	// Lookup resolves a single city.
	Lookup(name string) (Location, error)
}
