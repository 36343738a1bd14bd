package weather

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errNoSnap = errors.New("no snapshot in test store")

// memStore is an in-memory Store with scriptable failure modes.
type memStore struct {
	snap       *Snapshot
	replaceErr error
	staleFlag  bool
	info       FileInfo
	replaced   int
}

func (m *memStore) Current() (*Snapshot, error) {
	if m.snap == nil {
		return nil, errNoSnap
	}
	return m.snap, nil
}

func (m *memStore) Replace(snap *Snapshot) error {
	m.snap = snap
	m.replaced++
	return m.replaceErr
}

func (m *memStore) Stale(time.Duration) bool { return m.staleFlag }
func (m *memStore) Info() FileInfo           { return m.info }

// staticSource is a fixed LocationSource.
type staticSource map[string]Location

func (s staticSource) Load() map[string]Location { return s }

func (s staticSource) Names() []string { return sortedKeys(map[string]Location(s)) }

func (s staticSource) Lookup(name string) (Location, error) {
	loc, ok := s[name]
	if !ok {
		return Location{}, errors.New("city not found in location catalog")
	}
	return loc, nil
}

func twoCities() staticSource {
	return staticSource{
		"Paris": {Name: "Paris", Latitude: 48.85, Longitude: 2.35},
		"Tokyo": {Name: "Tokyo", Latitude: 35.68, Longitude: 139.69},
	}
}

func newTestService(cfg ServiceConfig, st Store, src LocationSource, p Provider) *Service {
	return NewService(cfg, st, src, p, nil, testLog)
}

// TestRefreshPublishesSnapshot runs a refresh where one city succeeds and one
// times out, and checks the published snapshot and the retained summary.
func TestRefreshPublishesSnapshot(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", acceptedOutcome("Paris"))
	p.script("Tokyo", Outcome{Kind: OutcomeTimeout, Err: context.DeadlineExceeded})

	st := &memStore{}
	svc := newTestService(ServiceConfig{MinYield: 1}, st, twoCities(), p)

	res, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(res.Records) != 1 || res.Records["Paris"] == nil {
		t.Fatalf("expected only Paris accepted, got %v", res.Records)
	}

	if st.replaced != 1 {
		t.Fatalf("expected one snapshot publish, got %d", st.replaced)
	}
	if st.snap.SourceLocations != 2 {
		t.Fatalf("snapshot must record the catalog size, got %d", st.snap.SourceLocations)
	}
	if st.snap.SavedAt.IsZero() {
		t.Fatalf("snapshot must be stamped")
	}

	last := svc.lastBatchSummary()
	if last == nil || last.Accepted != 1 || last.Rejected != 1 || last.Error != "" {
		t.Fatalf("unexpected batch summary: %+v", last)
	}
}

// TestRefreshZeroYieldKeepsSnapshot verifies the core batch invariant: zero
// accepted locations leave the published snapshot untouched.
func TestRefreshZeroYieldKeepsSnapshot(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})
	p.script("Tokyo", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})

	previous := &Snapshot{Records: map[string]*Record{"Oslo": validRecord("Oslo")}}
	st := &memStore{snap: previous}
	svc := newTestService(ServiceConfig{}, st, twoCities(), p)

	_, err := svc.Refresh(context.Background())
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("expected ErrBatchFailed, got %v", err)
	}

	if st.replaced != 0 {
		t.Fatalf("a failed batch must not publish")
	}
	got, _ := st.Current()
	if got != previous {
		t.Fatalf("previous snapshot must be kept")
	}

	last := svc.lastBatchSummary()
	if last == nil || last.Error == "" {
		t.Fatalf("failed batch must be retained with its error: %+v", last)
	}
}

func TestRefreshBusy(t *testing.T) {
	svc := newTestService(ServiceConfig{}, &memStore{}, twoCities(), newScriptedProvider())

	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()

	if _, err := svc.Refresh(context.Background()); !errors.Is(err, ErrRefreshBusy) {
		t.Fatalf("expected ErrRefreshBusy, got %v", err)
	}
}

func TestRefreshEmptyCatalog(t *testing.T) {
	svc := newTestService(ServiceConfig{}, &memStore{}, staticSource{}, newScriptedProvider())

	if _, err := svc.Refresh(context.Background()); !errors.Is(err, ErrNoLocations) {
		t.Fatalf("expected ErrNoLocations, got %v", err)
	}
}

// TestRefreshPersistFailureStillSucceeds: a snapshot that swapped in memory
// but failed to hit disk is logged, not rolled back.
func TestRefreshPersistFailureStillSucceeds(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", acceptedOutcome("Paris"))
	p.script("Tokyo", acceptedOutcome("Tokyo"))

	st := &memStore{replaceErr: errors.New("disk full")}
	svc := newTestService(ServiceConfig{}, st, twoCities(), p)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh must succeed despite the persist failure: %v", err)
	}
	if st.snap == nil || len(st.snap.Records) != 2 {
		t.Fatalf("snapshot must still be published")
	}
}

func TestGetWeatherFileMode(t *testing.T) {
	snap := &Snapshot{Records: map[string]*Record{
		"Berlin": validRecord("Berlin"),
		"Oslo":   validRecord("Oslo"),
		"Paris":  validRecord("Paris"),
	}}
	st := &memStore{snap: snap}
	svc := newTestService(ServiceConfig{}, st, twoCities(), newScriptedProvider())

	set, err := svc.GetWeather(context.Background(), 2)
	if err != nil {
		t.Fatalf("get weather: %v", err)
	}
	if set.Live {
		t.Fatalf("file mode must not report live data")
	}
	if set.TotalAvailable != 3 || set.Requested != 2 {
		t.Fatalf("unexpected counts: %+v", set)
	}
	if len(set.Records) != 2 || set.Records["Berlin"] == nil || set.Records["Oslo"] == nil {
		t.Fatalf("limit must keep the first cities in sorted order, got %v", set.Records)
	}
}

func TestGetWeatherFileModeNoSnapshot(t *testing.T) {
	svc := newTestService(ServiceConfig{}, &memStore{}, twoCities(), newScriptedProvider())

	if _, err := svc.GetWeather(context.Background(), 10); !errors.Is(err, errNoSnap) {
		t.Fatalf("store errors must propagate unchanged, got %v", err)
	}
}

func TestGetWeatherClampsLimit(t *testing.T) {
	snap := &Snapshot{Records: map[string]*Record{
		"Berlin": validRecord("Berlin"),
		"Paris":  validRecord("Paris"),
	}}
	svc := newTestService(ServiceConfig{}, &memStore{snap: snap}, twoCities(), newScriptedProvider())

	set, err := svc.GetWeather(context.Background(), 0)
	if err != nil {
		t.Fatalf("get weather: %v", err)
	}
	if len(set.Records) != 1 {
		t.Fatalf("a non-positive limit must clamp to one city, got %d", len(set.Records))
	}
}

func TestGetWeatherLiveMode(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", acceptedOutcome("Paris"))
	p.script("Tokyo", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	set, err := svc.GetWeather(context.Background(), 10)
	if err != nil {
		t.Fatalf("get weather: %v", err)
	}
	if !set.Live {
		t.Fatalf("live mode must report live data")
	}
	if len(set.Records) != 1 || set.Records["Paris"] == nil {
		t.Fatalf("expected the reachable city only, got %v", set.Records)
	}
	if set.TotalAvailable != 2 || set.Requested != 2 {
		t.Fatalf("unexpected counts: %+v", set)
	}
}

func TestGetWeatherLiveModeAllFail(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})
	p.script("Tokyo", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	if _, err := svc.GetWeather(context.Background(), 10); !errors.Is(err, ErrLiveUnavailable) {
		t.Fatalf("expected ErrLiveUnavailable, got %v", err)
	}
}

func TestGetCityWeatherDisabled(t *testing.T) {
	svc := newTestService(ServiceConfig{}, &memStore{}, twoCities(), newScriptedProvider())

	if _, err := svc.GetCityWeather(context.Background(), "Paris"); !errors.Is(err, ErrLiveDisabled) {
		t.Fatalf("expected ErrLiveDisabled, got %v", err)
	}
}

func TestGetCityWeatherUnknownCity(t *testing.T) {
	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), newScriptedProvider())

	if _, err := svc.GetCityWeather(context.Background(), "Atlantis"); err == nil {
		t.Fatalf("expected a lookup error")
	}
}

func TestGetCityWeatherFetchFailure(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", Outcome{Kind: OutcomeTimeout, Err: context.DeadlineExceeded})

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	_, err := svc.GetCityWeather(context.Background(), "Paris")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestGetCurrentConditions(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", acceptedOutcome("Paris"))

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	cc, err := svc.GetCurrentConditions(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("current conditions: %v", err)
	}
	if cc.City != "Paris" {
		t.Fatalf("city = %q", cc.City)
	}
	if cc.Current["time"] != "2025-01-01T01:00" {
		t.Fatalf("expected the last hourly sample, got %v", cc.Current["time"])
	}
	if cc.Timezone != "Europe/Paris" {
		t.Fatalf("timezone = %q", cc.Timezone)
	}
}

func TestGetCurrentConditionsDefaultTimezone(t *testing.T) {
	rec := validRecord("Paris")
	rec.Timezone = ""

	p := newScriptedProvider()
	p.script("Paris", Outcome{Kind: OutcomeAccepted, Record: rec})

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	cc, err := svc.GetCurrentConditions(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("current conditions: %v", err)
	}
	if cc.Timezone != "UTC" {
		t.Fatalf("missing timezone must default to UTC, got %q", cc.Timezone)
	}
}

func TestGetParametersLiveMode(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", acceptedOutcome("Paris"))

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	set, err := svc.GetParameters(context.Background())
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if set.SampleCity != "Paris" {
		t.Fatalf("the first catalog city must be sampled, got %q", set.SampleCity)
	}
	if set.Parameters["temperature_2m"] == "" {
		t.Fatalf("expected a temperature label, got %v", set.Parameters)
	}
}

// TestGetParametersSampleFailure: an unreachable sample city yields an empty
// set, not an error.
func TestGetParametersSampleFailure(t *testing.T) {
	p := newScriptedProvider()
	p.script("Paris", Outcome{Kind: OutcomeConnection, Err: errors.New("refused")})

	svc := newTestService(ServiceConfig{LiveData: true}, &memStore{}, twoCities(), p)

	set, err := svc.GetParameters(context.Background())
	if err != nil {
		t.Fatalf("sample failures must not be errors: %v", err)
	}
	if len(set.Parameters) != 0 {
		t.Fatalf("expected an empty set, got %v", set.Parameters)
	}
}

func TestGetParametersFileMode(t *testing.T) {
	snap := &Snapshot{Records: map[string]*Record{"Oslo": validRecord("Oslo")}}
	svc := newTestService(ServiceConfig{}, &memStore{snap: snap}, twoCities(), newScriptedProvider())

	set, err := svc.GetParameters(context.Background())
	if err != nil {
		t.Fatalf("get parameters: %v", err)
	}
	if set.SampleCity != "Oslo" {
		t.Fatalf("the snapshot must supply the sample, got %q", set.SampleCity)
	}
	if set.Parameters["temperature_2m"] == "" {
		t.Fatalf("expected a temperature label, got %v", set.Parameters)
	}
}

func TestGetParametersEmptyCatalog(t *testing.T) {
	svc := newTestService(ServiceConfig{}, &memStore{}, staticSource{}, newScriptedProvider())

	if _, err := svc.GetParameters(context.Background()); !errors.Is(err, ErrNoLocations) {
		t.Fatalf("expected ErrNoLocations, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	p := newScriptedProvider()
	p.up = false

	st := &memStore{
		staleFlag: true,
		info:      FileInfo{Exists: true, Valid: true, Records: 42, SizeMB: 1.5, Age: "2h ago"},
	}
	cfg := ServiceConfig{
		BackendURL:     "http://localhost:8080",
		LiveData:       false,
		AutoUpdate:     true,
		UpdateInterval: 168 * time.Hour,
	}
	svc := newTestService(cfg, st, twoCities(), p)

	status := svc.GetStatus(context.Background())
	if status.LiveDataEnabled || !status.AutoUpdateEnabled {
		t.Fatalf("mode flags wrong: %+v", status)
	}
	if !status.NeedsUpdate {
		t.Fatalf("a stale store must need an update")
	}
	if status.APIAccessible {
		t.Fatalf("an unreachable backend must be reported")
	}
	if status.UpdateIntervalHours != 168 {
		t.Fatalf("update interval hours = %v", status.UpdateIntervalHours)
	}
	if status.LocationCount != 42 || status.File.Records != 42 {
		t.Fatalf("file info not wired: %+v", status)
	}
	if status.APIURL != "http://localhost:8080" {
		t.Fatalf("api url = %q", status.APIURL)
	}
}

func TestGetAPIStatus(t *testing.T) {
	p := newScriptedProvider()
	p.probe = ProbeResult{Accessible: true, ResponseTime: 12, APIURL: "http://localhost:8080", StatusCode: 200}

	svc := newTestService(ServiceConfig{}, &memStore{}, twoCities(), p)

	probe := svc.GetAPIStatus(context.Background())
	if !probe.Accessible || probe.ResponseTime != 12 {
		t.Fatalf("probe not passed through: %+v", probe)
	}
}
