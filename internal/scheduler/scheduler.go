package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/weather"
)

// State identifies where the refresh loop currently is.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateChecking   State = "checking"
	StateRefreshing State = "refreshing"
	StateStopped    State = "stopped"
)

// Refresher runs one full batch refresh. *weather.Service satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*weather.BatchResult, error)
}

// StalenessChecker answers whether the current snapshot is older than maxAge.
type StalenessChecker interface {
	Stale(maxAge time.Duration) bool
}

// Config carries the scheduler timings.
type Config struct {
	// StartupDelay postpones the first staleness check after boot.
	StartupDelay time.Duration

	// CheckInterval is the cadence of staleness checks; keep it well below
	// MaxDataAge.
	CheckInterval time.Duration

	// MaxDataAge is the snapshot age at which a refresh becomes due.
	MaxDataAge time.Duration

	// ErrorBackoff is the short wait after a check that failed for reasons
	// other than batch yield (catalog unavailable, unexpected errors).
	ErrorBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.StartupDelay <= 0 {
		c.StartupDelay = 30 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 6 * time.Hour
	}
	if c.MaxDataAge <= 0 {
		c.MaxDataAge = 7 * 24 * time.Hour
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Minute
	}
}

// Scheduler drives periodic snapshot refreshes:
//
//	Idle -> Waiting(StartupDelay) -> Checking -> [Refreshing] -> Waiting(CheckInterval) -> ...
//
// Stopped is reached from any state when the context is cancelled. All
// waits go through the injected clock so tests advance logical time instead
// of sleeping.
type Scheduler struct {
	cfg       Config
	refresher Refresher
	stale     StalenessChecker
	clock     Clock
	log       zerolog.Logger

	mu    sync.Mutex
	state State
}

// New creates a scheduler. Zero config fields fall back to the production
// defaults (30s startup delay, 6h check cadence, 7d max age, 10m backoff).
func New(cfg Config, refresher Refresher, stale StalenessChecker, log zerolog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:       cfg,
		refresher: refresher,
		stale:     stale,
		clock:     realClock{},
		log:       log,
		state:     StateIdle,
	}
}

// WithClock swaps the time source; used by tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	st := s.State()
	return st != StateIdle && st != StateStopped
}

// Run blocks until ctx is cancelled. In-flight refreshes are not aborted
// mid-location; the batch orchestrator finishes the current fetch and exits
// its loop, then Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.transition(StateStopped)

	s.log.Info().
		Dur("startup_delay", s.cfg.StartupDelay).
		Dur("check_interval", s.cfg.CheckInterval).
		Dur("max_data_age", s.cfg.MaxDataAge).
		Msg("refresh scheduler started")

	s.transition(StateWaiting)
	if err := s.clock.Sleep(ctx, s.cfg.StartupDelay); err != nil {
		return
	}

	for {
		wait := s.checkOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.transition(StateWaiting)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// checkOnce performs one staleness check, refreshing when due, and returns
// how long to wait before the next check. A refresh that ran and failed
// keeps the normal cadence; a check that could not run at all gets the
// short error backoff.
func (s *Scheduler) checkOnce(ctx context.Context) time.Duration {
	s.transition(StateChecking)

	if !s.stale.Stale(s.cfg.MaxDataAge) {
		s.log.Debug().Msg("snapshot still fresh")
		return s.cfg.CheckInterval
	}

	s.transition(StateRefreshing)
	s.log.Info().Dur("max_data_age", s.cfg.MaxDataAge).Msg("snapshot stale, starting refresh")

	res, err := s.refresher.Refresh(ctx)
	switch {
	case err == nil:
		s.log.Info().
			Str("batch_id", res.ID).
			Int("accepted", len(res.Records)).
			Msg("scheduled refresh completed")
	case errors.Is(err, weather.ErrBatchFailed):
		s.log.Warn().Msg("scheduled refresh yielded no data, keeping previous snapshot until next cycle")
	case errors.Is(err, weather.ErrRefreshBusy):
		s.log.Info().Msg("refresh already in progress, skipping this cycle")
	default:
		s.log.Error().Err(err).Dur("backoff", s.cfg.ErrorBackoff).Msg("refresh check failed")
		return s.cfg.ErrorBackoff
	}
	return s.cfg.CheckInterval
}

func (s *Scheduler) transition(st State) {
	s.mu.Lock()
	if s.state != st {
		s.state = st
		s.mu.Unlock()
		s.log.Debug().Str("state", string(st)).Msg("scheduler state change")
		return
	}
	s.mu.Unlock()
}
