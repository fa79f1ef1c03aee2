package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/imergfetch/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyDownload = "dl"   // HASH. {prefix}:dl:{kind}:{local_name} -> record fields
	KeyRuns     = "runs" // HASH. {prefix}:runs run_id -> completed count

	FieldRemotePath = "remote"
	FieldLocalPath  = "local"
	FieldBytes      = "bytes"
	FieldSHA1       = "sha1"
	FieldFetchedAt  = "fetched_at"
	FieldRunID      = "run_id"

	KeySeparator = ":"
)

var ErrRecordNotFound = errors.New("ledger record not found")

// Record is what the ledger keeps per downloaded file.
type Record struct {
	RemotePath string
	LocalPath  string
	Bytes      int64
	SHA1       string
	FetchedAt  time.Time
	RunID      string
}

type ledgerRepository struct {
	cl     redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

func NewLedgerRepository(cl redis.UniversalClient, prefix string, ttl time.Duration, log *slog.Logger) *ledgerRepository {
	return &ledgerRepository{
		cl:     cl,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With(slog.String("item", "LedgerRepository")),
	}
}

func (r *ledgerRepository) Save(ctx context.Context, kind entity.Kind, localName string, rec *Record) error {
	key := r.key(KeyDownload, kind.String(), localName)

	pipe := r.cl.TxPipeline()
	pipe.HSet(ctx, key,
		FieldRemotePath, rec.RemotePath,
		FieldLocalPath, rec.LocalPath,
		FieldBytes, rec.Bytes,
		FieldSHA1, rec.SHA1,
		FieldFetchedAt, rec.FetchedAt.UTC().Format(time.RFC3339),
		FieldRunID, rec.RunID,
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if rec.RunID != "" {
		pipe.HIncrBy(ctx, r.key(KeyRuns), rec.RunID, 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Cannot save record", slog.String("key", key), slog.Any("error", err))

		return fmt.Errorf("cannot save record %s: %w", localName, err)
	}

	return nil
}

// Get returns ErrRecordNotFound when nothing was saved under localName.
func (r *ledgerRepository) Get(ctx context.Context, kind entity.Kind, localName string) (*Record, error) {
	fields, err := r.cl.HGetAll(ctx, r.key(KeyDownload, kind.String(), localName)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get record %s: %w", localName, err)
	}

	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}

	rec := &Record{
		RemotePath: fields[FieldRemotePath],
		LocalPath:  fields[FieldLocalPath],
		SHA1:       fields[FieldSHA1],
		RunID:      fields[FieldRunID],
	}

	if v := fields[FieldBytes]; v != "" {
		if rec.Bytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			r.log.Error("Cannot parse bytes", slog.String("value", v), slog.Any("error", err))
		}
	}

	if v := fields[FieldFetchedAt]; v != "" {
		if rec.FetchedAt, err = time.Parse(time.RFC3339, v); err != nil {
			r.log.Error("Cannot parse fetch time", slog.String("value", v), slog.Any("error", err))
		}
	}

	return rec, nil
}

// RunCount returns how many files the run recorded.
func (r *ledgerRepository) RunCount(ctx context.Context, runID string) (int64, error) {
	v, err := r.cl.HGet(ctx, r.key(KeyRuns), runID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, fmt.Errorf("cannot get run %s count: %w", runID, err)
	}

	return v, nil
}

func (r *ledgerRepository) key(keys ...string) string {
	return strings.Join(append([]string{r.prefix}, keys...), KeySeparator)
}

// nopLedger is used when no Redis URL is configured.
type nopLedger struct{}

func NewNopLedger() *nopLedger {
	return &nopLedger{}
}

func (nopLedger) Get(context.Context, entity.Kind, string) (*Record, error) {
	return nil, ErrRecordNotFound
}

func (nopLedger) Save(context.Context, entity.Kind, string, *Record) error {
	return nil
}
