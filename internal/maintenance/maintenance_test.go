package maintenance

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewDefaultsInterval(t *testing.T) {
	r := New([]string{"true"}, 0, zerolog.Nop())
	if r.interval != 72*time.Hour {
		t.Fatalf("interval = %v, want 72h", r.interval)
	}

	r = New([]string{"true"}, 6*time.Hour, zerolog.Nop())
	if r.interval != 6*time.Hour {
		t.Fatalf("interval = %v, want 6h", r.interval)
	}
}

func TestStartWithoutCommands(t *testing.T) {
	r := New(nil, time.Hour, zerolog.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobs := r.scheduler.Jobs(); len(jobs) != 0 {
		t.Fatalf("expected no scheduled jobs, got %d", len(jobs))
	}
	r.Stop()
}

func TestStartSchedulesJob(t *testing.T) {
	r := New([]string{"true"}, time.Hour, zerolog.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	if jobs := r.scheduler.Jobs(); len(jobs) != 1 {
		t.Fatalf("expected one scheduled job, got %d", len(jobs))
	}
}

func TestRunOneLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	r := New(nil, time.Hour, zerolog.New(&buf))

	r.runOne("true")
	if !strings.Contains(buf.String(), "maintenance command completed") {
		t.Fatalf("success not logged: %s", buf.String())
	}

	buf.Reset()
	r.runOne("false")
	if !strings.Contains(buf.String(), "maintenance command failed") {
		t.Fatalf("failure not logged: %s", buf.String())
	}
}

func TestRunAllExecutesInOrder(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "order.txt")
	r := New([]string{
		"echo first >> " + marker,
		"echo second >> " + marker,
	}, time.Hour, zerolog.Nop())

	r.runAll()

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "first\nsecond" {
		t.Fatalf("commands ran out of order: %q", got)
	}
}
