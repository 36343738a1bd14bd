package httpapi

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/weatherbox/weather-station/internal/catalog"
	"github.com/weatherbox/weather-station/internal/config"
	"github.com/weatherbox/weather-station/internal/store"
	"github.com/weatherbox/weather-station/internal/weather"
)

// Config carries what the handlers need beyond the service itself.
type Config struct {
	// APIKey guards the force-update endpoint.
	APIKey string

	BackendURL      string
	SelfHosted      bool
	LiveDataEnabled bool

	// SchedulerState reports the refresh scheduler's state, empty when no
	// scheduler runs (live mode or auto-update disabled).
	SchedulerState func() string
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, svc *weather.Service, cfg Config) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "healthy",
			"service":     config.AppName,
			"version":     config.AppVersion,
			"timestamp":   isoNow(),
			"data_status": svc.GetStatus(c.Context()),
		})
	})

	app.Get("/config", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"app_name":    config.AppName,
			"app_version": config.AppVersion,
			"api_url":     cfg.BackendURL,
			"self_hosted": cfg.SelfHosted,
		})
	})

	app.Get("/api/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"api_status":        svc.GetAPIStatus(c.Context()),
			"data_status":       svc.GetStatus(c.Context()),
			"live_data_enabled": cfg.LiveDataEnabled,
			"self_hosted":       cfg.SelfHosted,
			"timestamp":         isoNow(),
		})
	})

	data := app.Group("/api/data")

	data.Get("/status", func(c *fiber.Ctx) error {
		st := svc.GetStatus(c.Context())

		state := ""
		if cfg.SchedulerState != nil {
			state = cfg.SchedulerState()
		}

		return c.JSON(statusResponse{
			StatusReport:     *st,
			SchedulerState:   state,
			SchedulerRunning: schedulerRunning(state),
			Timestamp:        isoNow(),
		})
	})

	data.Post("/force-update", func(c *fiber.Ctx) error {
		if key := apiKeyFrom(c); key == "" || key != cfg.APIKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success":   false,
				"error":     "Unauthorized",
				"message":   "Valid API key required for manual updates",
				"timestamp": isoNow(),
			})
		}

		res, err := svc.Refresh(c.Context())
		switch {
		case errors.Is(err, weather.ErrRefreshBusy):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success":   false,
				"message":   "A data update is already in progress",
				"timestamp": isoNow(),
			})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success":   false,
				"message":   "Data update failed - check logs for details",
				"timestamp": isoNow(),
			})
		}

		return c.JSON(fiber.Map{
			"success":      true,
			"message":      "Data update completed successfully",
			"batch_id":     res.ID,
			"accepted":     len(res.Records),
			"rejected":     len(res.Failures),
			"below_target": res.BelowTarget,
			"timestamp":    isoNow(),
		})
	})

	data.Get("/weather", func(c *fiber.Ctx) error {
		set, err := svc.GetWeather(c.Context(), c.QueryInt("limit", 300))
		switch {
		case errors.Is(err, weather.ErrNoLocations):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":      "No locations available",
				"message":    "Location data could not be loaded. Check the locations file.",
				"timestamp":  isoNow(),
				"request_id": requestID(c),
			})
		case errors.Is(err, weather.ErrLiveUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":      "Weather data not available",
				"message":    "Failed to fetch live weather data",
				"api_status": svc.GetAPIStatus(c.Context()),
				"timestamp":  isoNow(),
				"request_id": requestID(c),
			})
		case errors.Is(err, store.ErrNoSnapshot):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":       "Weather data not available",
				"message":     "Data file may be outdated, missing, or failed to load",
				"file_status": svc.FileStatus(),
				"suggestion":  "Try updating the data file or enabling live data mode",
				"timestamp":   isoNow(),
				"request_id":  requestID(c),
			})
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}

		resp := fiber.Map{
			"data":       set.Records,
			"locations":  sortedNames(set.Records),
			"live_data":  set.Live,
			"timestamp":  isoNow(),
			"request_id": requestID(c),
		}
		if set.Live {
			resp["total_available"] = set.TotalAvailable
			resp["requested"] = set.Requested
			resp["fetched"] = len(set.Records)
			resp["fetch_time_seconds"] = roundSeconds(set.Elapsed)
		} else {
			resp["total"] = len(set.Records)
			resp["source"] = "file_cache"
		}
		return c.JSON(resp)
	})

	data.Get("/live/:city", func(c *fiber.Ctx) error {
		city := c.Params("city")
		rec, err := svc.GetCityWeather(c.Context(), city)
		if err != nil {
			return liveFetchError(c, city, "Could not fetch weather data for "+city, err)
		}
		return c.JSON(fiber.Map{
			"city":      city,
			"data":      rec,
			"live_data": true,
			"timestamp": isoNow(),
		})
	})

	data.Get("/current/:city", func(c *fiber.Ctx) error {
		city := c.Params("city")
		cc, err := svc.GetCurrentConditions(c.Context(), city)
		if err != nil {
			return liveFetchError(c, city, "Could not fetch current conditions for "+city, err)
		}
		return c.JSON(fiber.Map{
			"city":               city,
			"current_conditions": cc,
			"live_data":          true,
			"timestamp":          isoNow(),
		})
	})

	data.Get("/locations", func(c *fiber.Ctx) error {
		locs := svc.GetLocations()

		names := make([]string, 0, len(locs))
		coords := make(map[string][]float64, len(locs))
		for name, loc := range locs {
			names = append(names, name)
			coords[name] = []float64{loc.Latitude, loc.Longitude}
		}
		sort.Strings(names)

		return c.JSON(fiber.Map{
			"locations":   names,
			"coordinates": coords,
			"total":       len(locs),
			"timestamp":   isoNow(),
		})
	})

	data.Get("/parameters", func(c *fiber.Ctx) error {
		set, err := svc.GetParameters(c.Context())
		if errors.Is(err, weather.ErrNoLocations) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error":      "No locations available",
				"parameters": fiber.Map{},
				"timestamp":  isoNow(),
			})
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to determine available parameters")
		}

		return c.JSON(fiber.Map{
			"parameters":      set.Parameters,
			"total_available": len(set.Parameters),
			"sample_location": set.SampleCity,
			"timestamp":       isoNow(),
		})
	})
}

// statusResponse decorates the service status with scheduler and timing info.
type statusResponse struct {
	weather.StatusReport
	SchedulerState   string `json:"scheduler_state,omitempty"`
	SchedulerRunning bool   `json:"scheduler_running"`
	Timestamp        string `json:"timestamp"`
}

// liveFetchError maps the live-path error taxonomy onto HTTP statuses.
func liveFetchError(c *fiber.Ctx, city, notFoundMsg string, err error) error {
	switch {
	case errors.Is(err, weather.ErrLiveDisabled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":     "Live data not enabled",
			"message":   "Live data fetching is disabled in configuration",
			"timestamp": isoNow(),
		})
	case errors.Is(err, catalog.ErrUnknownCity), errors.Is(err, weather.ErrFetchFailed):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":     "City not found or data unavailable",
			"message":   notFoundMsg,
			"timestamp": isoNow(),
		})
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch live data for "+city)
}

// apiKeyFrom reads the admin key from X-API-Key or a bearer token.
func apiKeyFrom(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	return strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

func schedulerRunning(state string) bool {
	switch state {
	case "", "idle", "stopped":
		return false
	}
	return true
}

func sortedNames(records map[string]*weather.Record) []string {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// roundSeconds reports a duration as seconds with two decimals.
func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}

func isoNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
