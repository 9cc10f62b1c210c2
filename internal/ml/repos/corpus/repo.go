package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-dnsml/internal/ml/common/clock"
	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/metrics"
	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus/parsers"
)

// Source formats.
const (
	FormatPlain  = "plain"
	FormatHosts  = "hosts"
	FormatTranco = "tranco"
)

// ErrUnknownFormat is returned for a Source whose Format has no parser.
var ErrUnknownFormat = errors.New("unknown corpus format")

// Source locates one pool's upstream list.
type Source struct {
	URL    string
	Format string
	// TopN limits ranked formats to their first N rows. Zero keeps all.
	TopN int
}

// Options configures a Repository.
type Options struct {
	Store   Store
	Fetcher Fetcher
	Clock   clock.Clock
	Logger  log.Logger
	// MaxAge is how long a stored snapshot is reused. Zero always fetches.
	MaxAge  time.Duration
	Blocked Source
	Allowed Source
}

// Repository loads pools from the store when fresh and from the network
// otherwise, writing fetched pools back to the store.
type Repository struct {
	store   Store
	fetcher Fetcher
	clock   clock.Clock
	logger  log.Logger
	maxAge  time.Duration
	sources map[Pool]Source
}

// NewRepository constructs a Repository. A nil Store behaves as NopStore.
func NewRepository(opts Options) *Repository {
	r := &Repository{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		clock:   opts.Clock,
		logger:  opts.Logger,
		maxAge:  opts.MaxAge,
		sources: map[Pool]Source{PoolBlocked: opts.Blocked, PoolAllowed: opts.Allowed},
	}
	if r.store == nil {
		r.store = NopStore{}
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.logger == nil {
		r.logger = log.GetLogger()
	}
	return r
}

// LoadAll fetches both pools concurrently. The first failure cancels the other.
func (r *Repository) LoadAll(ctx context.Context) (blocked, allowed []string, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		blocked, err = r.Load(ctx, PoolBlocked)
		return err
	})
	g.Go(func() error {
		var err error
		allowed, err = r.Load(ctx, PoolAllowed)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return blocked, allowed, nil
}

// Load returns the pool's domains. Fetch errors are returned as is; a stale
// snapshot is never used in place of a failed fetch.
func (r *Repository) Load(ctx context.Context, pool Pool) ([]string, error) {
	src, ok := r.sources[pool]
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", pool)
	}

	info, stored, err := r.store.Info(pool)
	if err != nil {
		r.logger.Warn(map[string]any{"pool": pool, "error": err}, "corpus_store_info_failed")
		stored = false
	}
	if stored && info.Source == src.URL && info.Fresh(r.maxAge, r.clock.Now()) {
		domains, err := r.store.Domains(pool)
		if err == nil {
			r.logger.Info(map[string]any{"pool": pool, "count": len(domains), "fetched_at": info.FetchedAt}, "corpus_cache_hit")
			metrics.CorpusLoads.WithLabelValues(string(pool), "cache").Inc()
			metrics.CorpusDomains.WithLabelValues(string(pool)).Set(float64(len(domains)))
			return domains, nil
		}
		r.logger.Warn(map[string]any{"pool": pool, "error": err}, "corpus_store_read_failed")
	}

	domains, err := r.fetch(ctx, pool, src)
	if err != nil {
		return nil, err
	}

	snapshot := PoolInfo{Pool: pool, Source: src.URL, Count: len(domains), FetchedAt: r.clock.Now()}
	if err := r.store.PutPool(snapshot, domains); err != nil {
		r.logger.Warn(map[string]any{"pool": pool, "error": err}, "corpus_store_write_failed")
	}
	metrics.CorpusLoads.WithLabelValues(string(pool), "remote").Inc()
	metrics.CorpusDomains.WithLabelValues(string(pool)).Set(float64(len(domains)))
	return domains, nil
}

func (r *Repository) fetch(ctx context.Context, pool Pool, src Source) ([]string, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("fetch %s pool: no fetcher configured", pool)
	}
	r.logger.Info(map[string]any{"pool": pool, "url": src.URL}, "corpus_fetch_start")

	body, err := r.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s pool: %w", pool, err)
	}
	defer body.Close()

	domains, stats, err := parse(body, pool, src, r.logger)
	if err != nil {
		return nil, fmt.Errorf("parse %s pool from %s: %w", pool, src.URL, err)
	}
	metrics.CorpusLinesSkipped.WithLabelValues(string(pool)).Add(float64(stats.Skipped))
	r.logger.Info(map[string]any{
		"pool":       pool,
		"count":      len(domains),
		"lines":      stats.Lines,
		"skipped":    stats.Skipped,
		"duplicates": stats.Duplicates,
	}, "corpus_fetch_done")
	return domains, nil
}

func parse(body io.Reader, pool Pool, src Source, logger log.Logger) ([]string, parsers.Stats, error) {
	switch src.Format {
	case FormatPlain:
		return parsers.ParsePlainList(body, string(pool), logger)
	case FormatHosts:
		return parsers.ParseHostsFile(body, string(pool), logger)
	case FormatTranco:
		return parsers.ParseTranco(body, src.TopN, string(pool), logger)
	}
	return nil, parsers.Stats{}, fmt.Errorf("%w: %q", ErrUnknownFormat, src.Format)
}
