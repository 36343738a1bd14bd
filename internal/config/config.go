package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Application metadata surfaced by /health and /config.
const (
	AppName    = "weather-station"
	AppVersion = "2.0.0"
)

var validate = validator.New()

// LokiConfig enables shipping logs to a Loki endpoint.
type LokiConfig struct {
	Enabled bool
	URL     string
	Labels  map[string]string
}

// LoggingConfig controls log level, format and sinks.
type LoggingConfig struct {
	Level  string
	Format string
	Loki   LokiConfig
}

type AppConfig struct {
	// Server listen address.
	Host string
	Port int `validate:"min=1,max=65535"`

	// Forecast backend.
	OpenMeteoURL string `validate:"required,url"`

	// SelfHosted switches on the models parameter and fast batch pacing.
	SelfHosted bool

	// LiveDataEnabled serves reads from live fetches instead of the snapshot.
	LiveDataEnabled bool

	// AutoUpdateEnabled runs the background refresh scheduler.
	AutoUpdateEnabled bool

	// Refresh scheduling.
	UpdateInterval time.Duration
	CheckInterval  time.Duration
	StartupDelay   time.Duration
	ErrorBackoff   time.Duration

	// Bulk fetch behaviour.
	PastDays           int `validate:"min=1,max=365"`
	MaxRetries         int `validate:"min=0"`
	RetryDelay         time.Duration
	RateLimitDelay     time.Duration
	MinLocationsTarget int `validate:"min=1"`

	// Fetch timeouts: short for live reads, longer for bulk refreshes.
	LiveTimeout time.Duration
	BulkTimeout time.Duration

	// File paths.
	LocationsFile  string
	OutputDataFile string

	// APIKey is the shared secret for the force-update endpoint.
	APIKey string

	Logging        LoggingConfig
	MetricsEnabled bool

	// Backend maintenance cycle (self-hosted deployments re-seed their
	// backend periodically). Empty commands disable it.
	MaintenanceCommands []string
	MaintenanceInterval time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.Host = getenvDefault("WEATHER_STATION_HOST", "0.0.0.0")
	cfg.Port = getenvInt("WEATHER_STATION_PORT", 8110)

	cfg.OpenMeteoURL = strings.TrimRight(getenvDefault("OPEN_METEO_API_URL", "http://localhost:8080"), "/")

	// Explicit USE_SELF_HOSTED wins; otherwise the flag is derived once from
	// the backend URL pointing at this host.
	if v := os.Getenv("USE_SELF_HOSTED"); v != "" {
		cfg.SelfHosted = parseBool(v)
	} else {
		cfg.SelfHosted = pointsAtLocalhost(cfg.OpenMeteoURL)
	}

	cfg.LiveDataEnabled = getenvBool("LIVE_DATA_ENABLED", true)
	cfg.AutoUpdateEnabled = getenvBool("AUTO_UPDATE_ENABLED", true)

	var err error
	if cfg.UpdateInterval, err = getenvDuration("DATA_UPDATE_INTERVAL", 168*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CheckInterval, err = getenvDuration("CHECK_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StartupDelay, err = getenvDuration("STARTUP_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ErrorBackoff, err = getenvDuration("ERROR_BACKOFF", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.PastDays = getenvInt("PAST_DAYS", 16)
	cfg.MaxRetries = getenvInt("MAX_RETRIES", 3)
	if cfg.RetryDelay, err = getenvDuration("RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}

	// Public instances enforce roughly one request per second; a self-hosted
	// backend needs no real pacing.
	defaultRate := 1100 * time.Millisecond
	if cfg.SelfHosted {
		defaultRate = time.Millisecond
	}
	if cfg.RateLimitDelay, err = getenvDuration("RATE_LIMIT_DELAY", defaultRate); err != nil {
		return nil, err
	}

	cfg.MinLocationsTarget = getenvInt("MIN_LOCATIONS_TARGET", 100)

	if cfg.LiveTimeout, err = getenvDuration("LIVE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BulkTimeout, err = getenvDuration("BULK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.LocationsFile = getenvDefault("LOCATIONS_FILE", "geolocations.json")
	cfg.OutputDataFile = getenvDefault("OUTPUT_DATA_FILE", "output_data.json")

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		cfg.APIKey = generateAPIKey()
		log.Printf("INFO: API_KEY not set; generated key for this run: %s", cfg.APIKey)
	}

	cfg.Logging = LoggingConfig{
		Level:  getenvDefault("LOG_LEVEL", "info"),
		Format: getenvDefault("LOG_FORMAT", "json"),
		Loki: LokiConfig{
			Enabled: getenvBool("LOKI_ENABLED", false),
			URL:     os.Getenv("LOKI_URL"),
			Labels:  parseLabels(os.Getenv("LOKI_LABELS")),
		},
	}

	cfg.MetricsEnabled = getenvBool("METRICS_ENABLED", true)

	cfg.MaintenanceCommands = splitList(os.Getenv("MAINTENANCE_COMMANDS"))
	if cfg.MaintenanceInterval, err = getenvDuration("MAINTENANCE_INTERVAL", 72*time.Hour); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return parseBool(v)
	}
	return def
}

// getenvDuration parses Go duration strings; bare numbers count as seconds
// for compatibility with older deployments.
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: %q", key, v)
}

func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// pointsAtLocalhost reports whether the backend URL targets this host.
func pointsAtLocalhost(url string) bool {
	return strings.Contains(url, "localhost") || strings.Contains(url, "127.0.0.1")
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseLabels parses "key=value,key=value" pairs.
func parseLabels(v string) map[string]string {
	if v == "" {
		return nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if k != "" && val != "" {
			labels[k] = val
		}
	}
	return labels
}

func generateAPIKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; bail loudly.
		panic(fmt.Sprintf("generate api key: %v", err))
	}
	return hex.EncodeToString(buf)
}
