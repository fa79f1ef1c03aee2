package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jgivc/imergfetch/internal/adapter/ftpadapter"
	"github.com/jgivc/imergfetch/internal/adapter/metricsadapter"
	"github.com/jgivc/imergfetch/internal/adapter/reportadapter"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jgivc/imergfetch/internal/entity"
	"github.com/jgivc/imergfetch/internal/repository/ledger"
	"github.com/jgivc/imergfetch/internal/service/download"
	"github.com/jgivc/imergfetch/internal/storage/file"
	"github.com/redis/go-redis/v9"
)

const metricsFlushTimeout = 30 * time.Second

type Reporter interface {
	Write(ctx context.Context, s *entity.Summary) (string, error)
}

type RunCounter interface {
	RunCount(ctx context.Context, runID string) (int64, error)
}

type Metrics interface {
	Observe(s *entity.Summary)
	Flush(ctx context.Context) error
}

type App struct {
	cfg      *config.Config
	svc      *download.DownloadService
	reporter Reporter
	metrics  Metrics
	runs     RunCounter
	rdb      *redis.Client
	log      *slog.Logger
}

// New wires the application from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	log := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	a := &App{
		cfg: cfg,
		log: log,
	}

	var l download.Ledger = ledger.NewNopLedger()
	if cfg.LedgerConfig.Enabled() {
		opt, err := redis.ParseURL(cfg.LedgerConfig.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cannot parse redis url: %w", err)
		}

		a.rdb = redis.NewClient(opt)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.rdb.Close()

			return nil, fmt.Errorf("cannot connect to redis: %w", err)
		}

		repo := ledger.NewLedgerRepository(a.rdb, cfg.LedgerConfig.KeyPrefix, cfg.LedgerConfig.RecordTTL, log)
		l = repo
		a.runs = repo
	}

	if cfg.ReportConfig.Enabled() {
		a.reporter = reportadapter.NewReportAdapter(cfg.ReportConfig.Dir, log)
	}

	if cfg.MetricsConfig.Enabled() {
		a.metrics = metricsadapter.NewMetricsAdapter(&cfg.MetricsConfig, log)
	}

	if cfg.Credentials.Empty() {
		log.Warn("No credentials configured", slog.String("env", config.EnvUsername))
	}

	fetcher := ftpadapter.NewFetcher(&cfg.FTPConfig, log)
	store := file.NewFileStorage(cfg.DownloadConfig.OutputDir, log)
	a.svc = download.NewDownloadService(cfg.Naming, cfg.Credentials, download.OptionsFromConfig(&cfg.DownloadConfig), fetcher, store, l, log)

	return a, nil
}

func (a *App) Plan(kind entity.Kind, start, end entity.Date) ([]*download.Planned, error) {
	return a.svc.Plan(kind, start, end)
}

// Run downloads the range, then writes the report and metrics when they are
// configured. Both are written even when the range fails.
func (a *App) Run(ctx context.Context, kind entity.Kind, start, end entity.Date) (*entity.Summary, error) {
	summary, err := a.svc.DownloadRange(ctx, kind, start, end)
	if summary == nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	if a.reporter != nil {
		if _, rErr := a.reporter.Write(ctx, summary); rErr != nil {
			a.log.Error("Cannot write report", slog.Any("error", rErr))
		}
	}

	if a.metrics != nil {
		a.metrics.Observe(summary)

		fctx, cancel := context.WithTimeout(ctx, metricsFlushTimeout)
		if mErr := a.metrics.Flush(fctx); mErr != nil {
			a.log.Error("Cannot flush metrics", slog.Any("error", mErr))
		}
		cancel()
	}

	return summary, err
}

// Recorded returns how many files the ledger holds for runID. ok is false
// when no ledger is configured or it cannot be read.
func (a *App) Recorded(ctx context.Context, runID string) (n int64, ok bool) {
	if a.runs == nil {
		return 0, false
	}

	n, err := a.runs.RunCount(ctx, runID)
	if err != nil {
		a.log.Error("Cannot read run count", slog.String("run_id", runID), slog.Any("error", err))

		return 0, false
	}

	return n, true
}

func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("Cannot close redis client", slog.Any("error", err))
		}
	}
}
