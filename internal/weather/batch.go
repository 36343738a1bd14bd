package weather

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/telemetry"
)

// progressEvery is the batch progress log cadence.
const progressEvery = 20

// BatchOptions carries the knobs of one bulk refresh run.
type BatchOptions struct {
	// PastDays is the history window requested for every location.
	PastDays int

	// RateDelay is the pause between consecutive locations. The first
	// location is never delayed.
	RateDelay time.Duration

	// Timeout bounds each individual fetch.
	Timeout time.Duration

	// Retry governs re-attempts for transport-level failures.
	Retry RetryPolicy

	// MinYield is the accepted-record count below which the batch is flagged
	// as below target. Zero disables the check.
	MinYield int
}

// BatchResult summarizes one bulk refresh run.
type BatchResult struct {
	ID          string
	Started     time.Time
	Duration    time.Duration
	Records     map[string]*Record
	Failures    map[string]OutcomeKind
	BelowTarget bool
}

// RunBatch fetches every location in order and collects the accepted records.
// Pacing is a sequential delay between locations, matching the backend's
// request rate limit.
//
// Cancelling ctx stops the batch between locations: the fetch in flight runs
// to completion on a detached context and is tallied, then the loop exits.
// A partial result is still returned.
func RunBatch(ctx context.Context, p Provider, locations []Location, opts BatchOptions, metrics telemetry.Collector, log zerolog.Logger) *BatchResult {
	if metrics == nil {
		metrics = telemetry.Noop()
	}

	res := &BatchResult{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		Records:  make(map[string]*Record, len(locations)),
		Failures: make(map[string]OutcomeKind),
	}

	log.Info().
		Str("batch_id", res.ID).
		Int("locations", len(locations)).
		Int("min_yield", opts.MinYield).
		Msg("starting weather data batch")

	callCtx := context.WithoutCancel(ctx)

	fetch := func(loc Location) Outcome {
		var out Outcome
		attempts := opts.Retry.attempts()
		for attempt := 0; attempt < attempts; attempt++ {
			out = p.Fetch(callCtx, loc, FetchOptions{PastDays: opts.PastDays, Timeout: opts.Timeout})
			if !out.Kind.Retryable() || attempt == attempts-1 {
				return out
			}
			log.Debug().
				Str("city", loc.Name).
				Str("outcome", string(out.Kind)).
				Int("attempt", attempt+1).
				Msg("retrying fetch")
			if err := opts.Retry.wait(ctx, attempt); err != nil {
				return out
			}
		}
		return out
	}

	for i, loc := range locations {
		if ctx.Err() != nil {
			log.Warn().
				Str("batch_id", res.ID).
				Int("processed", i).
				Msg("batch stopped early")
			break
		}

		if i > 0 && opts.RateDelay > 0 {
			if err := sleepCtx(ctx, opts.RateDelay); err != nil {
				break
			}
		}

		out := fetch(loc)
		if out.Kind == OutcomeAccepted && !HasValidData(out.Record) {
			out = Outcome{Kind: OutcomeLowQuality}
		}

		if out.Kind == OutcomeAccepted {
			res.Records[loc.Name] = out.Record
		} else {
			res.Failures[loc.Name] = out.Kind
			evt := log.Warn().Str("city", loc.Name).Str("outcome", string(out.Kind))
			if out.Err != nil {
				evt = evt.Err(out.Err)
			}
			evt.Msg("location rejected")
		}
		metrics.IncFetch(string(out.Kind))

		if out.Kind == OutcomeAccepted && len(res.Records)%progressEvery == 0 {
			log.Info().
				Str("batch_id", res.ID).
				Int("processed", i+1).
				Int("total", len(locations)).
				Int("accepted", len(res.Records)).
				Msg("batch progress")
		}
	}

	res.Duration = time.Since(res.Started)
	res.BelowTarget = opts.MinYield > 0 && len(res.Records) < opts.MinYield
	metrics.ObserveBatch(len(res.Records), len(res.Failures), res.Duration)

	summary := log.Info()
	if res.BelowTarget {
		summary = log.Warn().Int("min_yield", opts.MinYield)
	}
	summary.
		Str("batch_id", res.ID).
		Int("accepted", len(res.Records)).
		Int("rejected", len(res.Failures)).
		Dur("duration", res.Duration).
		Msg("batch completed")

	return res
}

// sleepCtx pauses for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
