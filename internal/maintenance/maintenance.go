package maintenance

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// commandTimeout bounds a single maintenance command. Re-seeding a backend
// can take a while, so the limit is generous.
const commandTimeout = 30 * time.Minute

// Runner executes the configured backend maintenance commands on a fixed
// interval. Self-hosted Open-Meteo deployments use this to re-seed model
// data and bounce the backend container every few days.
type Runner struct {
	scheduler *gocron.Scheduler
	commands  []string
	interval  time.Duration
	log       zerolog.Logger
}

// New creates a runner. An empty command list makes Start a no-op.
func New(commands []string, interval time.Duration, log zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = 72 * time.Hour
	}
	return &Runner{
		scheduler: gocron.NewScheduler(time.UTC),
		commands:  commands,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the maintenance job and starts the underlying scheduler.
func (r *Runner) Start() error {
	if len(r.commands) == 0 {
		r.log.Info().Msg("no maintenance commands configured")
		return nil
	}

	if _, err := r.scheduler.Every(r.interval).Do(r.runAll); err != nil {
		return err
	}
	r.scheduler.StartAsync()

	r.log.Info().
		Int("commands", len(r.commands)).
		Dur("interval", r.interval).
		Msg("maintenance runner started")
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (r *Runner) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

func (r *Runner) runAll() {
	for _, command := range r.commands {
		r.runOne(command)
	}
}

// runOne executes a single shell command. Failures are logged, never fatal:
// a broken maintenance script must not take the station down.
func (r *Runner) runOne(command string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	start := time.Now()
	r.log.Info().Str("command", command).Msg("running maintenance command")

	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		r.log.Error().
			Err(err).
			Str("command", command).
			Str("output", strings.TrimSpace(string(out))).
			Msg("maintenance command failed")
		return
	}

	r.log.Info().
		Str("command", command).
		Dur("took", time.Since(start)).
		Msg("maintenance command completed")
}
