package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/weather"
)

// ErrUnknownCity is returned when a requested city is not in the catalog.
var ErrUnknownCity = errors.New("city not found in location catalog")

// DefaultTTL is how long a loaded catalog is served from memory before the
// file is consulted again.
const DefaultTTL = 5 * time.Minute

// Catalog serves the city -> coordinates mapping from a JSON file
// ({"Paris": [48.85, 2.35], ...}) with a small TTL cache in front.
type Catalog struct {
	path string
	ttl  time.Duration
	log  zerolog.Logger

	mu       sync.Mutex
	cached   map[string]weather.Location
	loadedAt time.Time

	now func() time.Time
}

// New creates a catalog for the given file. A non-positive ttl falls back to
// DefaultTTL.
func New(path string, ttl time.Duration, log zerolog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		path: path,
		ttl:  ttl,
		log:  log,
		now:  time.Now,
	}
}

// Load returns the location mapping. Failures close empty: a missing or
// corrupt file yields an empty map and a log line, and the next call retries
// the file. The returned map must not be modified.
func (c *Catalog) Load() map[string]weather.Location {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.loadedAt) <= c.ttl {
		return c.cached
	}

	locs, err := c.readFile()
	if err != nil {
		c.log.Error().Err(err).Str("path", c.path).Msg("failed to load locations")
		// Cache stays expired so the next call retries the file.
		c.cached = map[string]weather.Location{}
		return c.cached
	}

	c.cached = locs
	c.loadedAt = c.now()
	c.log.Info().Int("count", len(locs)).Msg("loaded locations")
	return c.cached
}

// Names returns the city names in catalog order (sorted lexicographically).
func (c *Catalog) Names() []string {
	locs := c.Load()
	names := make([]string, 0, len(locs))
	for name := range locs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a single city.
func (c *Catalog) Lookup(name string) (weather.Location, error) {
	loc, ok := c.Load()[name]
	if !ok {
		return weather.Location{}, ErrUnknownCity
	}
	return loc, nil
}

// Invalidate drops the cached mapping so the next Load hits the file.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.loadedAt = time.Time{}
}

func (c *Catalog) readFile() (map[string]weather.Location, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}

	var raw map[string][]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	locs := make(map[string]weather.Location, len(raw))
	for name, coords := range raw {
		if len(coords) != 2 {
			c.log.Warn().Str("city", name).Msg("skipping location with malformed coordinates")
			continue
		}
		loc := weather.Location{Name: name, Latitude: coords[0], Longitude: coords[1]}
		if !loc.Valid() {
			c.log.Warn().Str("city", name).
				Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).
				Msg("skipping location with out-of-range coordinates")
			continue
		}
		locs[name] = loc
	}
	return locs, nil
}
