package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpapi "github.com/weatherbox/weather-station/internal/api/http"
	"github.com/weatherbox/weather-station/internal/catalog"
	"github.com/weatherbox/weather-station/internal/config"
	"github.com/weatherbox/weather-station/internal/logging"
	"github.com/weatherbox/weather-station/internal/maintenance"
	"github.com/weatherbox/weather-station/internal/scheduler"
	"github.com/weatherbox/weather-station/internal/store"
	"github.com/weatherbox/weather-station/internal/telemetry"
	"github.com/weatherbox/weather-station/internal/weather"
	"github.com/weatherbox/weather-station/internal/weather/openmeteo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	rootLog, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics telemetry.Collector = telemetry.Noop()
	if cfg.MetricsEnabled {
		metrics = telemetry.NewPrometheusCollector(nil)
	}

	componentLog := func(name string) zerolog.Logger {
		return rootLog.With().Str("component", name).Logger()
	}

	locations := catalog.New(cfg.LocationsFile, catalog.DefaultTTL, componentLog("catalog"))

	snapshots := store.New(cfg.OutputDataFile, componentLog("store"))
	if err := snapshots.Load(); err != nil {
		rootLog.Warn().Err(err).Msg("could not load existing snapshot, starting empty")
	}

	// Shared HTTP client for outbound backend calls; per-call timeouts come
	// from the fetch options.
	httpClient := &http.Client{}

	backend := openmeteo.New(httpClient, openmeteo.Config{
		BaseURL:    cfg.OpenMeteoURL,
		SelfHosted: cfg.SelfHosted,
		Timeout:    cfg.BulkTimeout,
	}, componentLog("openmeteo"))

	svc := weather.NewService(weather.ServiceConfig{
		BackendURL:     cfg.OpenMeteoURL,
		LiveData:       cfg.LiveDataEnabled,
		AutoUpdate:     cfg.AutoUpdateEnabled,
		PastDays:       cfg.PastDays,
		RateDelay:      cfg.RateLimitDelay,
		Retry:          weather.ConstantBackoff(cfg.MaxRetries+1, cfg.RetryDelay),
		BulkTimeout:    cfg.BulkTimeout,
		LiveTimeout:    cfg.LiveTimeout,
		MinYield:       cfg.MinLocationsTarget,
		UpdateInterval: cfg.UpdateInterval,
	}, snapshots, locations, backend, metrics, componentLog("service"))

	rootLog.Info().
		Str("version", config.AppVersion).
		Str("backend", cfg.OpenMeteoURL).
		Bool("self_hosted", cfg.SelfHosted).
		Bool("live_data", cfg.LiveDataEnabled).
		Msg("starting weather station")

	if cfg.LiveDataEnabled {
		probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		probe := backend.Probe(probeCtx)
		cancel()
		if probe.Accessible {
			rootLog.Info().Int64("response_time_ms", probe.ResponseTime).Msg("forecast backend accessible")
		} else {
			rootLog.Warn().Str("error", probe.Error).Msg("forecast backend not accessible")
		}
	}

	// The background refresh loop only makes sense in file mode.
	var sched *scheduler.Scheduler
	if cfg.AutoUpdateEnabled && !cfg.LiveDataEnabled {
		sched = scheduler.New(scheduler.Config{
			StartupDelay:  cfg.StartupDelay,
			CheckInterval: cfg.CheckInterval,
			MaxDataAge:    cfg.UpdateInterval,
			ErrorBackoff:  cfg.ErrorBackoff,
		}, svc, snapshots, componentLog("scheduler"))
		go sched.Run(ctx)
	}

	upkeep := maintenance.New(cfg.MaintenanceCommands, cfg.MaintenanceInterval, componentLog("maintenance"))
	if err := upkeep.Start(); err != nil {
		rootLog.Warn().Err(err).Msg("maintenance runner failed to start")
	}
	defer upkeep.Stop()

	app := fiber.New(fiber.Config{
		AppName:               config.AppName,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(recover.New())

	routeCfg := httpapi.Config{
		APIKey:          cfg.APIKey,
		BackendURL:      cfg.OpenMeteoURL,
		SelfHosted:      cfg.SelfHosted,
		LiveDataEnabled: cfg.LiveDataEnabled,
	}
	if sched != nil {
		routeCfg.SchedulerState = func() string { return string(sched.State()) }
	}
	httpapi.RegisterRoutes(app, svc, routeCfg)

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		rootLog.Info().Str("addr", addr).Msg("http server listening")
		if err := app.Listen(addr); err != nil {
			rootLog.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	rootLog.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		rootLog.Error().Err(err).Msg("error during shutdown")
	}
	rootLog.Info().Msg("shutdown complete")
}
