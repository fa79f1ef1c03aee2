package metricsadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jgivc/imergfetch/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "imerg"

	labelKind   = "kind"
	labelStatus = "status"

	statusDownloaded = "downloaded"
	statusSkipped    = "skipped"
	statusFailed     = "failed"
	statusAborted    = "aborted"
)

type metricsAdapter struct {
	cfg *config.MetricsConfig
	reg *prometheus.Registry

	files        *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	duration     *prometheus.GaugeVec
	lastRun      *prometheus.GaugeVec
	lastComplete *prometheus.GaugeVec

	log *slog.Logger
}

// NewMetricsAdapter keeps its own registry so only run metrics are exported.
func NewMetricsAdapter(cfg *config.MetricsConfig, log *slog.Logger) *metricsAdapter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metricsAdapter{
		cfg: cfg,
		reg: reg,
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Archive files handled, by product kind and status",
			},
			[]string{labelKind, labelStatus},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloaded_bytes_total",
				Help:      "Bytes downloaded, by product kind",
			},
			[]string{labelKind},
		),
		duration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of the last range run",
			},
			[]string{labelKind},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last range run started",
			},
			[]string{labelKind},
		),
		lastComplete: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last range run finished every target, 0 otherwise",
			},
			[]string{labelKind},
		),
		log: log.With(slog.String("item", "MetricsAdapter")),
	}
}

func (m *metricsAdapter) Observe(s *entity.Summary) {
	kind := s.Kind.String()

	m.files.WithLabelValues(kind, statusDownloaded).Add(float64(s.Completed()))
	m.files.WithLabelValues(kind, statusSkipped).Add(float64(s.Skipped()))
	m.files.WithLabelValues(kind, statusFailed).Add(float64(s.Failed()))
	m.files.WithLabelValues(kind, statusAborted).Add(float64(s.Aborted()))
	m.bytes.WithLabelValues(kind).Add(float64(s.Bytes()))
	m.duration.WithLabelValues(kind).Set(s.Elapsed.Seconds())
	m.lastRun.WithLabelValues(kind).Set(float64(s.StartedAt.Unix()))

	success := 0.0
	if s.Finished() {
		success = 1
	}
	m.lastComplete.WithLabelValues(kind).Set(success)
}

// Flush writes the textfile and pushes to the Pushgateway, whichever is
// configured. Both are attempted even if the first fails.
func (m *metricsAdapter) Flush(ctx context.Context) error {
	var textErr, pushErr error

	if m.cfg.Textfile != "" {
		if err := prometheus.WriteToTextfile(m.cfg.Textfile, m.reg); err != nil {
			textErr = fmt.Errorf("cannot write metrics textfile %s: %w", m.cfg.Textfile, err)
		} else {
			m.log.Debug("Metrics written", slog.String("path", m.cfg.Textfile))
		}
	}

	if m.cfg.PushURL != "" {
		pusher := push.New(m.cfg.PushURL, m.cfg.Job).Gatherer(m.reg)
		if m.cfg.Instance != "" {
			pusher = pusher.Grouping("instance", m.cfg.Instance)
		}

		if err := pusher.PushContext(ctx); err != nil {
			pushErr = fmt.Errorf("cannot push metrics to %s: %w", m.cfg.PushURL, err)
		} else {
			m.log.Debug("Metrics pushed", slog.String("url", m.cfg.PushURL))
		}
	}

	return errors.Join(textErr, pushErr)
}
