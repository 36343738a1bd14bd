package weather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/telemetry"
)

var (
	// ErrNoLocations is returned when the location catalog is empty or
	// could not be loaded.
	ErrNoLocations = errors.New("no locations available")

	// ErrRefreshBusy signals that a batch refresh is already in flight.
	ErrRefreshBusy = errors.New("a data refresh is already in progress")

	// ErrBatchFailed marks a refresh that accepted zero locations; the
	// previous snapshot is kept.
	ErrBatchFailed = errors.New("weather data update produced no records")

	// ErrLiveDisabled is returned by live-only operations when live data
	// fetching is turned off.
	ErrLiveDisabled = errors.New("live data fetching is disabled")

	// ErrFetchFailed means a live fetch for a single city returned nothing
	// usable.
	ErrFetchFailed = errors.New("could not fetch weather data")

	// ErrLiveUnavailable means a live multi-city fetch yielded no records,
	// usually because the backend is down.
	ErrLiveUnavailable = errors.New("failed to fetch live weather data")
)

const (
	// maxWeatherLimit caps how many cities a single read may return.
	maxWeatherLimit = 300

	// livePastDays keeps live fetches small; history comes from snapshots.
	livePastDays = 1

	// liveRateDelay paces multi-city live fetches against a local backend.
	liveRateDelay = time.Millisecond
)

// ServiceConfig carries the tuning knobs of the service facade.
type ServiceConfig struct {
	BackendURL     string
	LiveData       bool
	AutoUpdate     bool
	PastDays       int
	RateDelay      time.Duration
	Retry          RetryPolicy
	BulkTimeout    time.Duration
	LiveTimeout    time.Duration
	MinYield       int
	UpdateInterval time.Duration
}

// WeatherSet is the result of a multi-city read.
type WeatherSet struct {
	Records        map[string]*Record
	Live           bool
	TotalAvailable int
	Requested      int
	Elapsed        time.Duration
}

// ParameterSet lists the weather fields that actually carry data, with
// display labels, probed from a sample city.
type ParameterSet struct {
	Parameters map[string]string `json:"parameters"`
	SampleCity string            `json:"sample_location,omitempty"`
}

// BatchSummary is the retained outcome of the most recent refresh.
type BatchSummary struct {
	ID          string    `json:"id"`
	Started     time.Time `json:"started"`
	Accepted    int       `json:"accepted"`
	Rejected    int       `json:"rejected"`
	BelowTarget bool      `json:"below_target"`
	Duration    float64   `json:"duration_seconds"`
	Error       string    `json:"error,omitempty"`
}

// StatusReport describes the data pipeline for the status endpoints.
type StatusReport struct {
	LiveDataEnabled     bool          `json:"live_data_enabled"`
	AutoUpdateEnabled   bool          `json:"auto_update_enabled"`
	UpdateIntervalHours float64       `json:"update_interval_hours"`
	NeedsUpdate         bool          `json:"needs_update"`
	APIAccessible       bool          `json:"api_accessible"`
	APIURL              string        `json:"api_url"`
	LocationCount       int           `json:"location_count"`
	File                FileInfo      `json:"file_status"`
	LastBatch           *BatchSummary `json:"last_batch,omitempty"`
}

// Service is the facade the HTTP layer and the scheduler talk to. It owns
// refresh orchestration and serves reads either from the snapshot store or
// from live fetches, depending on configuration.
type Service struct {
	cfg       ServiceConfig
	store     Store
	locations LocationSource
	provider  Provider
	metrics   telemetry.Collector
	log       zerolog.Logger

	// refreshMu serializes batch refreshes; TryLock turns a concurrent
	// request into ErrRefreshBusy instead of a queued duplicate run.
	refreshMu sync.Mutex

	lastMu    sync.Mutex
	lastBatch *BatchSummary
}

// NewService wires the service facade. A nil metrics collector is replaced
// with a no-op one.
func NewService(cfg ServiceConfig, store Store, locations LocationSource, provider Provider, metrics telemetry.Collector, log zerolog.Logger) *Service {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		locations: locations,
		provider:  provider,
		metrics:   metrics,
		log:       log,
	}
}

// Refresh runs a full batch over the catalog and publishes the result as the
// new snapshot. The caller waits for the whole batch. Only one refresh runs
// at a time; concurrent calls get ErrRefreshBusy. A batch that accepts zero
// locations returns ErrBatchFailed and leaves the previous snapshot alone.
func (s *Service) Refresh(ctx context.Context) (*BatchResult, error) {
	if !s.refreshMu.TryLock() {
		return nil, ErrRefreshBusy
	}
	defer s.refreshMu.Unlock()

	locs := s.locations.Load()
	if len(locs) == 0 {
		return nil, ErrNoLocations
	}

	res := RunBatch(ctx, s.provider, orderedLocations(locs), BatchOptions{
		PastDays:  s.cfg.PastDays,
		RateDelay: s.cfg.RateDelay,
		Timeout:   s.cfg.BulkTimeout,
		Retry:     s.cfg.Retry,
		MinYield:  s.cfg.MinYield,
	}, s.metrics, s.log)

	if len(res.Records) == 0 {
		s.recordBatch(res, ErrBatchFailed)
		return res, ErrBatchFailed
	}

	snap := &Snapshot{
		Records:         res.Records,
		SavedAt:         time.Now(),
		SourceLocations: len(locs),
	}
	if err := s.store.Replace(snap); err != nil {
		// The in-memory snapshot took effect; only the file copy is behind.
		s.log.Warn().Err(err).Msg("refresh succeeded but snapshot was not persisted")
	}
	s.metrics.SetSnapshot(len(res.Records), snap.SavedAt)
	s.recordBatch(res, nil)
	return res, nil
}

// GetWeather returns up to limit cities, from the snapshot in file mode or
// via live fetches in live mode. Cities are served in catalog order.
func (s *Service) GetWeather(ctx context.Context, limit int) (*WeatherSet, error) {
	limit = clampLimit(limit)

	if s.cfg.LiveData {
		return s.liveWeather(ctx, limit)
	}

	snap, err := s.store.Current()
	if err != nil {
		return nil, err
	}

	names := sortedKeys(snap.Records)
	if len(names) > limit {
		names = names[:limit]
	}
	records := make(map[string]*Record, len(names))
	for _, name := range names {
		records[name] = snap.Records[name]
	}

	return &WeatherSet{
		Records:        records,
		Live:           false,
		TotalAvailable: len(snap.Records),
		Requested:      len(names),
	}, nil
}

func (s *Service) liveWeather(ctx context.Context, limit int) (*WeatherSet, error) {
	locs := s.locations.Load()
	if len(locs) == 0 {
		return nil, ErrNoLocations
	}

	names := sortedKeys(locs)
	if len(names) > limit {
		names = names[:limit]
	}

	start := time.Now()
	records := make(map[string]*Record, len(names))
	for i, name := range names {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := sleepCtx(ctx, liveRateDelay); err != nil {
				break
			}
		}

		out := s.provider.Fetch(ctx, locs[name], FetchOptions{PastDays: livePastDays, Timeout: s.cfg.LiveTimeout})
		s.metrics.IncFetch(string(out.Kind))
		if out.Kind != OutcomeAccepted {
			s.log.Warn().Str("city", name).Str("outcome", string(out.Kind)).Msg("live fetch failed")
			continue
		}
		records[name] = out.Record

		if len(records)%10 == 0 {
			s.log.Info().
				Int("fetched", len(records)).
				Int("requested", len(names)).
				Dur("elapsed", time.Since(start)).
				Msg("live fetch progress")
		}
	}

	if len(records) == 0 {
		return nil, ErrLiveUnavailable
	}

	return &WeatherSet{
		Records:        records,
		Live:           true,
		TotalAvailable: len(locs),
		Requested:      len(names),
		Elapsed:        time.Since(start),
	}, nil
}

// GetCityWeather fetches one city live. Only available in live mode.
func (s *Service) GetCityWeather(ctx context.Context, city string) (*Record, error) {
	if !s.cfg.LiveData {
		return nil, ErrLiveDisabled
	}

	loc, err := s.locations.Lookup(city)
	if err != nil {
		return nil, err
	}

	out := s.provider.Fetch(ctx, loc, FetchOptions{PastDays: livePastDays, Timeout: s.cfg.LiveTimeout})
	s.metrics.IncFetch(string(out.Kind))
	if out.Kind != OutcomeAccepted {
		if out.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, out.Err)
		}
		return nil, ErrFetchFailed
	}
	return out.Record, nil
}

// GetCurrentConditions returns the latest hourly sample of every field for
// one city, fetched live.
func (s *Service) GetCurrentConditions(ctx context.Context, city string) (*CurrentConditions, error) {
	rec, err := s.GetCityWeather(ctx, city)
	if err != nil {
		return nil, err
	}

	if rec.Hourly == nil {
		return nil, ErrFetchFailed
	}
	latest := rec.Hourly.Latest()
	if latest == nil {
		return nil, ErrFetchFailed
	}

	tz := rec.Timezone
	if tz == "" {
		tz = "UTC"
	}

	return &CurrentConditions{
		City:        city,
		Coordinates: rec.Coordinates,
		Timezone:    tz,
		FetchTime:   rec.FetchedAt,
		Current:     latest,
	}, nil
}

// GetLocations returns the catalog mapping.
func (s *Service) GetLocations() map[string]Location {
	return s.locations.Load()
}

// GetParameters reports which weather fields carry data, by sampling the
// first catalog city: live in live mode, from the snapshot otherwise. An
// unreachable sample yields an empty set rather than an error.
func (s *Service) GetParameters(ctx context.Context) (*ParameterSet, error) {
	names := s.locations.Names()
	if len(names) == 0 {
		return nil, ErrNoLocations
	}

	set := &ParameterSet{Parameters: map[string]string{}}

	var rec *Record
	if s.cfg.LiveData {
		sample := names[0]
		r, err := s.GetCityWeather(ctx, sample)
		if err != nil {
			s.log.Warn().Err(err).Str("city", sample).Msg("parameter sample fetch failed")
			return set, nil
		}
		rec = r
		set.SampleCity = sample
	} else {
		snap, err := s.store.Current()
		if err != nil {
			return set, nil
		}
		for _, name := range sortedKeys(snap.Records) {
			rec = snap.Records[name]
			set.SampleCity = name
			break
		}
	}

	if rec != nil && rec.Hourly != nil {
		set.Parameters = availableParameters(rec.Hourly)
	}
	return set, nil
}

// availableParameters keeps the labeled fields whose first samples contain
// real data.
func availableParameters(s *HourlySeries) map[string]string {
	out := make(map[string]string)
	for param, label := range ParameterLabels {
		samples, ok := s.Fields[param]
		if !ok || len(samples) == 0 {
			continue
		}
		probe := samples
		if len(probe) > 10 {
			probe = probe[:10]
		}
		for _, v := range probe {
			if v != nil {
				out[param] = label
				break
			}
		}
	}
	return out
}

// FileStatus describes the snapshot file without touching the network.
func (s *Service) FileStatus() FileInfo {
	return s.store.Info()
}

// GetStatus reports the state of the data pipeline.
func (s *Service) GetStatus(ctx context.Context) *StatusReport {
	info := s.store.Info()
	return &StatusReport{
		LiveDataEnabled:     s.cfg.LiveData,
		AutoUpdateEnabled:   s.cfg.AutoUpdate,
		UpdateIntervalHours: s.cfg.UpdateInterval.Hours(),
		NeedsUpdate:         s.store.Stale(s.cfg.UpdateInterval),
		APIAccessible:       s.provider.Reachable(ctx),
		APIURL:              s.cfg.BackendURL,
		LocationCount:       info.Records,
		File:                info,
		LastBatch:           s.lastBatchSummary(),
	}
}

// GetAPIStatus probes the forecast backend and records the observation.
func (s *Service) GetAPIStatus(ctx context.Context) ProbeResult {
	probe := s.provider.Probe(ctx)
	latency := time.Duration(probe.ResponseTime) * time.Millisecond
	s.metrics.ObserveProbe(latency, probe.Accessible)
	return probe
}

func (s *Service) recordBatch(res *BatchResult, err error) {
	summary := &BatchSummary{
		ID:          res.ID,
		Started:     res.Started,
		Accepted:    len(res.Records),
		Rejected:    len(res.Failures),
		BelowTarget: res.BelowTarget,
		Duration:    res.Duration.Seconds(),
	}
	if err != nil {
		summary.Error = err.Error()
	}

	s.lastMu.Lock()
	s.lastBatch = summary
	s.lastMu.Unlock()
}

func (s *Service) lastBatchSummary() *BatchSummary {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastBatch
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxWeatherLimit {
		return maxWeatherLimit
	}
	return limit
}

// orderedLocations flattens the catalog mapping into sorted city order.
func orderedLocations(locs map[string]Location) []Location {
	out := make([]Location, 0, len(locs))
	for _, name := range sortedKeys(locs) {
		out = append(out, locs[name])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
