package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/weather"
)

var (
	// ErrNoSnapshot is returned when no snapshot has ever been published.
	ErrNoSnapshot = errors.New("no weather snapshot available")

	// ErrPersistFailed marks a snapshot that was swapped in memory but could
	// not be written to disk.
	ErrPersistFailed = errors.New("snapshot persistence failed")
)

// SnapshotStore holds the current snapshot in memory and mirrors it to a
// single JSON file ({city: record}). Reads never block on refresh work:
// Replace swaps a pointer and persists outside the lock, so readers always
// see a complete snapshot, old or new.
type SnapshotStore struct {
	path string
	log  zerolog.Logger

	mu   sync.RWMutex
	snap *weather.Snapshot

	now func() time.Time
}

// New creates a store persisting to the given file path.
func New(path string, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		path: path,
		log:  log,
		now:  time.Now,
	}
}

// Load reads the snapshot file into memory. A missing file is not an error;
// the store just starts empty. SavedAt is reconstructed from the file mtime.
func (s *SnapshotStore) Load() error {
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info().Str("path", s.path).Msg("no snapshot file yet")
		return nil
	}
	if err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var records map[string]*weather.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode snapshot file: %w", err)
	}

	snap := &weather.Snapshot{
		Records:         records,
		SavedAt:         fi.ModTime(),
		SourceLocations: len(records),
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.log.Info().Int("locations", len(records)).Str("path", s.path).Msg("loaded weather data from file")
	return nil
}

// Current returns the published snapshot without blocking on refresh work.
func (s *SnapshotStore) Current() (*weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, ErrNoSnapshot
	}
	return s.snap, nil
}

// Replace publishes a new snapshot and persists it. The in-memory swap always
// happens; a failed write is reported as ErrPersistFailed so callers can log
// it without rolling back the update.
func (s *SnapshotStore) Replace(snap *weather.Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now()
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	if err := s.persist(snap); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("failed to persist snapshot")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

// Stale reports whether the snapshot is older than maxAge. The in-memory
// SavedAt is authoritative when present; otherwise the file mtime decides.
// No snapshot and no file counts as stale, as does a stat failure.
func (s *SnapshotStore) Stale(maxAge time.Duration) bool {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if snap != nil {
		return s.now().Sub(snap.SavedAt) >= maxAge
	}

	fi, err := os.Stat(s.path)
	if err != nil {
		return true
	}
	return s.now().Sub(fi.ModTime()) >= maxAge
}

// Info describes the snapshot file for status reporting.
func (s *SnapshotStore) Info() weather.FileInfo {
	var info weather.FileInfo

	fi, err := os.Stat(s.path)
	if err != nil {
		return info
	}

	info.Exists = true
	info.SizeMB = float64(fi.Size()) / (1024 * 1024)
	info.Age = humanAge(s.now().Sub(fi.ModTime()))

	s.mu.RLock()
	if s.snap != nil {
		info.Records = len(s.snap.Records)
	}
	s.mu.RUnlock()

	info.Valid = info.Records > 0
	return info
}

// persist writes the record mapping to a temp file in the target directory
// and renames it into place so readers of the file never see a partial write.
func (s *SnapshotStore) persist(snap *weather.Snapshot) error {
	data, err := json.MarshalIndent(snap.Records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	s.log.Info().
		Int("locations", len(snap.Records)).
		Float64("size_mb", float64(len(data))/(1024*1024)).
		Msg("snapshot file updated")
	return nil
}

func humanAge(d time.Duration) string {
	sec := int(d.Seconds())
	switch {
	case sec < 0:
		return "Unknown"
	case sec < 60:
		return fmt.Sprintf("%ds ago", sec)
	case sec < 3600:
		return fmt.Sprintf("%dm ago", sec/60)
	case sec < 86400:
		return fmt.Sprintf("%dh ago", sec/3600)
	default:
		return fmt.Sprintf("%dd ago", sec/86400)
	}
}
