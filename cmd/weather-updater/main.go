package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/catalog"
	"github.com/weatherbox/weather-station/internal/store"
	"github.com/weatherbox/weather-station/internal/weather"
	"github.com/weatherbox/weather-station/internal/weather/openmeteo"
)

// selfHostedURL is the backend selected by -self-hosted.
const selfHostedURL = "https://backend.weatherbox.org"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		apiURL     = flag.String("api-url", "https://api.open-meteo.com", "forecast backend base URL")
		selfHosted = flag.Bool("self-hosted", false, "use the self-hosted backend instead of -api-url")
		locations  = flag.String("locations", "geolocations.json", "path to the locations JSON file")
		output     = flag.String("output", "output_data.json", "output data file")
		pastDays   = flag.Int("past-days", 92, "number of past days to fetch")
		retries    = flag.Int("retries", 3, "retry attempts per location after the first")
		retryDelay = flag.Duration("retry-delay", 5*time.Second, "delay between retries")
		rateDelay  = flag.Duration("rate-delay", time.Second, "delay between consecutive locations")
		timeout    = flag.Duration("timeout", 30*time.Second, "per-request timeout")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	baseURL := *apiURL
	if *selfHosted {
		baseURL = selfHostedURL
		log.Info().Str("url", baseURL).Msg("using self-hosted backend")
	} else {
		log.Info().Str("url", baseURL).Msg("using external backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := openmeteo.New(&http.Client{}, openmeteo.Config{
		BaseURL:    baseURL,
		SelfHosted: *selfHosted,
		Timeout:    *timeout,
	}, log)

	if !client.Reachable(ctx) {
		log.Error().Str("url", baseURL).Msg("backend is not accessible, check the connection or the URL")
		if *selfHosted {
			log.Error().Msg("make sure the self-hosted backend is running")
		}
		return 1
	}
	log.Info().Str("url", baseURL).Msg("backend is accessible")

	cat := catalog.New(*locations, catalog.DefaultTTL, log)
	locs := cat.Load()
	if len(locs) == 0 {
		log.Error().Str("path", *locations).Msg("no locations to process")
		return 1
	}

	ordered := make([]weather.Location, 0, len(locs))
	for _, name := range cat.Names() {
		ordered = append(ordered, locs[name])
	}

	res := weather.RunBatch(ctx, client, ordered, weather.BatchOptions{
		PastDays:  *pastDays,
		RateDelay: *rateDelay,
		Timeout:   *timeout,
		Retry:     weather.ConstantBackoff(*retries+1, *retryDelay),
	}, nil, log)

	if len(res.Records) == 0 {
		log.Error().Msg("weather data update produced no records")
		return 1
	}

	st := store.New(*output, log)
	snap := &weather.Snapshot{
		Records:         res.Records,
		SavedAt:         time.Now(),
		SourceLocations: len(ordered),
	}
	if err := st.Replace(snap); err != nil {
		log.Error().Err(err).Str("path", *output).Msg("failed to write the output file")
		return 1
	}

	log.Info().
		Int("accepted", len(res.Records)).
		Int("total", len(ordered)).
		Str("path", *output).
		Msg("weather data update completed")
	return 0
}
