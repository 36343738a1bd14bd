package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/weatherbox/weather-station/internal/config"
)

// Setup builds the root logger from configuration. The returned cleanup
// flushes any buffered sinks and must be called on shutdown.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var console io.Writer = os.Stdout
	if cfg.Format == "text" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	cleanup := func() {}

	if cfg.Loki.Enabled {
		w, stop, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("configure loki sink: %w", err)
		}
		writers = append(writers, w)
		cleanup = stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, cleanup, nil
}

// lokiWriter pushes each log line as a Loki entry.
type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, err
	}

	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, err
	}

	labels := model.LabelSet{"app": model.LabelValue(config.AppName)}
	for k, v := range cfg.Labels {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}

	return &lokiWriter{client: client, labels: labels}, client.Stop, nil
}

func (w *lokiWriter) Write(p []byte) (int, error) {
	if err := w.client.Handle(w.labels, time.Now(), string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
