package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/imergfetch/internal/adapter/pathadapter"
	"github.com/jgivc/imergfetch/internal/common"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jgivc/imergfetch/internal/entity"
	"github.com/jgivc/imergfetch/internal/repository/ledger"
	"github.com/jgivc/imergfetch/internal/util"
)

const (
	serviceName = "download"
)

type Fetcher interface {
	Fetch(ctx context.Context, remoteURL string, creds config.Credentials) ([]byte, error)
}

type Storage interface {
	Store(ctx context.Context, data []byte, name string) (string, error)
	Exists(name string) bool
	Path(name string) string
}

type Ledger interface {
	Get(ctx context.Context, kind entity.Kind, localName string) (*ledger.Record, error)
	Save(ctx context.Context, kind entity.Kind, localName string, rec *ledger.Record) error
}

type Options struct {
	Workers         int
	Timeout         time.Duration
	ContinueOnError bool
	SkipExisting    bool
}

func OptionsFromConfig(cfg *config.DownloadConfig) Options {
	return Options{
		Workers:         cfg.Workers,
		Timeout:         cfg.Timeout,
		ContinueOnError: cfg.ContinueOnError,
		SkipExisting:    cfg.SkipExisting,
	}
}

// Planned is a target with its derived names, before any transfer.
type Planned struct {
	Target     entity.Target
	RemotePath string
	LocalName  string
}

type DownloadService struct {
	running atomic.Bool
	naming  config.Naming
	creds   config.Credentials
	opts    Options
	fetcher Fetcher
	store   Storage
	ledger  Ledger
	now     func() time.Time
	log     *slog.Logger
}

func NewDownloadService(naming config.Naming, creds config.Credentials, opts Options, fetcher Fetcher, store Storage, l Ledger, log *slog.Logger) *DownloadService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Workers > config.MaxWorkers {
		opts.Workers = config.MaxWorkers
	}
	if l == nil {
		l = ledger.NewNopLedger()
	}

	return &DownloadService{
		naming:  naming,
		creds:   creds,
		opts:    opts,
		fetcher: fetcher,
		store:   store,
		ledger:  l,
		now:     time.Now,
		log:     log.With(slog.String("service", serviceName)),
	}
}

// Plan lists every target of kind in [start, end] with its remote path and
// local name. End before start is ErrInvalidRange.
func (s *DownloadService) Plan(kind entity.Kind, start, end entity.Date) ([]*Planned, error) {
	targets, err := Targets(kind, start, end)
	if err != nil {
		return nil, err
	}

	planned := make([]*Planned, 0, len(targets))
	for _, t := range targets {
		p, err := s.plan(t)
		if err != nil {
			return nil, err
		}
		planned = append(planned, p)
	}

	return planned, nil
}

// Targets expands [start, end] into the files of kind it covers.
func Targets(kind entity.Kind, start, end entity.Date) ([]entity.Target, error) {
	if !start.Valid() {
		return nil, fmt.Errorf("%w: start %04d-%02d-%02d", common.ErrInvalidDate, start.Year, int(start.Month), start.Day)
	}
	if !end.Valid() {
		return nil, fmt.Errorf("%w: end %04d-%02d-%02d", common.ErrInvalidDate, end.Year, int(end.Month), end.Day)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s > %s", common.ErrInvalidRange, start, end)
	}

	var targets []entity.Target
	switch kind {
	case entity.KindDaily:
		for d := range entity.Days(start, end) {
			targets = append(targets, entity.Target{Kind: kind, Date: d})
		}
	case entity.KindHalfHourly:
		for d := range entity.Days(start, end) {
			for slot := 0; slot < entity.SlotsPerDay; slot++ {
				targets = append(targets, entity.Target{Kind: kind, Date: d, Slot: slot})
			}
		}
	case entity.KindMonthly:
		for d := range entity.Months(start, end) {
			targets = append(targets, entity.Target{Kind: kind, Date: d})
		}
	default:
		return nil, fmt.Errorf("unknown kind: %s", kind)
	}

	return targets, nil
}

func (s *DownloadService) plan(t entity.Target) (*Planned, error) {
	remotePath, err := pathadapter.Build(t, s.naming)
	if err != nil {
		return nil, err
	}

	return &Planned{
		Target:     t,
		RemotePath: remotePath,
		LocalName:  pathadapter.LocalName(t, s.naming.FileExtension),
	}, nil
}

// DownloadDay fetches and stores one target. The per-request timeout is
// applied here.
func (s *DownloadService) DownloadDay(ctx context.Context, t entity.Target) (*entity.Result, error) {
	return s.download(ctx, t, "", s.log)
}

func (s *DownloadService) download(ctx context.Context, t entity.Target, runID string, log *slog.Logger) (*entity.Result, error) {
	p, err := s.plan(t)
	if err != nil {
		return nil, err
	}

	log = log.With(slog.String("target", t.String()))

	if s.opts.SkipExisting {
		if skipped := s.skip(ctx, p, log); skipped != nil {
			return skipped, nil
		}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	data, err := s.fetcher.Fetch(ctx, p.RemotePath, s.creds)
	if err != nil {
		return nil, err
	}

	localPath, err := s.store.Store(ctx, data, p.LocalName)
	if err != nil {
		return nil, err
	}

	res := &entity.Result{
		Target:     t,
		RemotePath: p.RemotePath,
		LocalPath:  localPath,
		Bytes:      int64(len(data)),
		SHA1:       util.Checksum(data),
		FetchedAt:  s.now(),
	}

	rec := &ledger.Record{
		RemotePath: res.RemotePath,
		LocalPath:  res.LocalPath,
		Bytes:      res.Bytes,
		SHA1:       res.SHA1,
		FetchedAt:  res.FetchedAt,
		RunID:      runID,
	}
	if err := s.ledger.Save(ctx, t.Kind, p.LocalName, rec); err != nil {
		log.Error("Cannot record download", slog.Any("error", err))
	}

	log.Info("Saved", slog.String("path", localPath), slog.Int64("bytes", res.Bytes))

	return res, nil
}

// skip returns a skipped result when the target is already stored in the
// output directory. A ledger record only adds details, and only when it
// points at that same file.
func (s *DownloadService) skip(ctx context.Context, p *Planned, log *slog.Logger) *entity.Result {
	if !s.store.Exists(p.LocalName) {
		return nil
	}

	res := &entity.Result{
		Target:     p.Target,
		RemotePath: p.RemotePath,
		LocalPath:  s.store.Path(p.LocalName),
		Skipped:    true,
	}

	rec, err := s.ledger.Get(ctx, p.Target.Kind, p.LocalName)
	switch {
	case err == nil:
		if rec.LocalPath == res.LocalPath {
			res.SHA1 = rec.SHA1
			res.FetchedAt = rec.FetchedAt
		}
	case !errors.Is(err, ledger.ErrRecordNotFound):
		log.Error("Cannot read ledger", slog.Any("error", err))
	}

	log.Info("Skip existing", slog.String("path", res.LocalPath))

	return res
}

type outcome struct {
	idx int
	res *entity.Result
	err *entity.DayError
}

// DownloadRange downloads every target of kind in [start, end] using a
// bounded worker pool. By default the first failure cancels the rest and is
// returned as *entity.DayError. Targets cut short by that cancellation, or by
// ctx, are not failures and are counted by Summary.Aborted. With
// ContinueOnError every target is tried and the error wraps
// common.ErrPartialRange. Only one range runs at a time per service.
func (s *DownloadService) DownloadRange(ctx context.Context, kind entity.Kind, start, end entity.Date) (*entity.Summary, error) {
	targets, err := Targets(kind, start, end)
	if err != nil {
		return nil, err
	}

	if !s.running.CompareAndSwap(false, true) {
		return nil, common.ErrRunInProgress
	}
	defer s.running.Store(false)

	summary := &entity.Summary{
		RunID:     uuid.NewString(),
		Kind:      kind,
		Start:     start,
		End:       end,
		Targets:   len(targets),
		StartedAt: s.now(),
	}

	log := s.log.With(slog.String("run_id", summary.RunID))
	log.Info("Start range",
		slog.String("kind", kind.String()),
		slog.String("start", start.String()),
		slog.String("end", end.String()),
		slog.Int("targets", len(targets)),
		slog.Int("workers", s.opts.Workers),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan int, len(targets))
	out := make(chan outcome, len(targets))

	for i := range targets {
		in <- i
	}
	close(in)

	workers := min(s.opts.Workers, len(targets))

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go s.worker(ctx, cancel, n, targets, summary.RunID, in, out, &wg, log)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]*entity.Result, len(targets))
	var failures []*entity.DayError
	for o := range out {
		if o.err != nil {
			failures = append(failures, o.err)

			continue
		}

		results[o.idx] = o.res
	}

	for _, r := range results {
		if r != nil {
			summary.Results = append(summary.Results, r)
		}
	}
	summary.Failures = orderFailures(targets, failures)
	summary.Elapsed = s.now().Sub(summary.StartedAt)

	log.Info("Range done",
		slog.Int("completed", summary.Completed()),
		slog.Int("skipped", summary.Skipped()),
		slog.Int("failed", summary.Failed()),
		slog.Int("aborted", summary.Aborted()),
		slog.Int64("bytes", summary.Bytes()),
		slog.Duration("elapsed", summary.Elapsed),
	)

	if len(summary.Failures) == 0 {
		if err := ctx.Err(); err != nil && len(summary.Results) < len(targets) {
			return summary, err
		}

		return summary, nil
	}

	if s.opts.ContinueOnError {
		return summary, summary.Err()
	}

	return summary, firstCause(summary.Failures)
}

func (s *DownloadService) worker(ctx context.Context, stop context.CancelFunc, n int, targets []entity.Target, runID string, in <-chan int, out chan<- outcome, wg *sync.WaitGroup, log *slog.Logger) {
	defer wg.Done()

	log = log.With(slog.Int("worker_id", n))
	log.Debug("Started")

	for idx := range in {
		if ctx.Err() != nil {
			log.Debug("Interrupted")

			return
		}

		t := targets[idx]
		res, err := s.download(ctx, t, runID, log)
		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			log.Debug("Aborted", slog.String("target", t.String()))

			continue
		}
		if err != nil {
			log.Error("Cannot download", slog.String("target", t.String()), slog.Any("error", err))
			if !s.opts.ContinueOnError {
				stop()
			}
			out <- outcome{idx: idx, err: &entity.DayError{Target: t, Err: err}}

			continue
		}

		out <- outcome{idx: idx, res: res}
	}

	log.Debug("Done")
}

// firstCause picks the earliest failure that is not just a consequence of
// cancelling the run after another failure.
func firstCause(failures []*entity.DayError) *entity.DayError {
	for _, f := range failures {
		if !errors.Is(f.Err, context.Canceled) {
			return f
		}
	}

	return failures[0]
}

func orderFailures(targets []entity.Target, failures []*entity.DayError) []*entity.DayError {
	if len(failures) < 2 {
		return failures
	}

	pos := make(map[entity.Target]int, len(targets))
	for i, t := range targets {
		pos[t] = i
	}

	ordered := make([]*entity.DayError, len(targets))
	for _, f := range failures {
		ordered[pos[f.Target]] = f
	}

	res := failures[:0]
	for _, f := range ordered {
		if f != nil {
			res = append(res, f)
		}
	}

	return res
}
