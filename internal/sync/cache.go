// Package sync decides between serving cached items and fetching fresh ones,
// and writes provider mutations through to the cache.
//
// No lock is held across a fetch. Two concurrent misses for the same
// account both fetch, and the last ReplaceItems wins; items are provider
// truth, so the result converges.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/normalize"
	"github.com/nhle/mailboard/internal/source"
	"github.com/nhle/mailboard/internal/store"
)

var (
	metricCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailboard_sync_cache_total",
			Help: "Item requests by outcome: hit, miss, fallback, error.",
		},
		[]string{"result"},
	)
	metricFetch = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailboard_sync_fetch_duration_seconds",
			Help:    "Duration of a full provider fetch.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)

const (
	// DefaultTTL is how long a successful fetch is served from cache.
	DefaultTTL = 5 * time.Minute

	// defaultFetchTimeout is the maximum time allowed for a single fetch.
	defaultFetchTimeout = 60 * time.Second
)

// TokenSource keeps access tokens valid.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, acc model.Account, cfg model.AccountConfig) (model.AccountConfig, error)
}

// AdapterSource resolves the adapter of a provider kind.
type AdapterSource interface {
	For(kind model.ProviderKind) (source.Adapter, error)
}

// Result is the answer to an item request.
type Result struct {
	Items []model.Item

	// Cached is true when Items came from storage rather than a fetch
	// made during this call.
	Cached bool

	// AsOf is when Items were fetched from the provider. Zero when the
	// account was never synced.
	AsOf time.Time

	// Err is the fetch failure when stale items are served in its place.
	Err error
}

// Cache is the read-through item cache.
type Cache struct {
	store        store.Store
	creds        *credential.Store
	tokens       TokenSource
	adapters     AdapterSource
	ttl          time.Duration
	fetchTimeout time.Duration
	loc          *time.Location
	now          func() time.Time
	logger       *slog.Logger

	mu       gosync.Mutex
	statuses map[string]*SyncStatus
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithFetchTimeout bounds a single provider fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// WithLocation sets the timezone in which the start of the week is
// computed. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) { c.loc = loc }
}

// New creates a Cache.
func New(
	s store.Store,
	creds *credential.Store,
	tokens TokenSource,
	adapters AdapterSource,
	logger *slog.Logger,
	opts ...Option,
) *Cache {
	c := &Cache{
		store:        s,
		creds:        creds,
		tokens:       tokens,
		adapters:     adapters,
		ttl:          DefaultTTL,
		fetchTimeout: defaultFetchTimeout,
		loc:          time.UTC,
		now:          time.Now,
		logger:       logger.With("component", "sync"),
		statuses:     make(map[string]*SyncStatus),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetItems returns the items of an account. Within the TTL of the last
// successful fetch, and unless force is set, no provider call is made.
//
// When the fetch fails with a fallback-eligible error and a non-empty batch
// is cached, the cached batch is returned with Result.Err set. Authorization
// errors, and failures with nothing cached, are returned as errors.
func (c *Cache) GetItems(ctx context.Context, accountID string, force bool) (Result, error) {
	acc, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	kind := acc.Provider.ItemKind()

	if !force {
		marker, ok, err := c.store.LastSync(ctx, acc.ID, kind)
		if err != nil {
			return Result{}, err
		}
		if ok && c.now().Sub(marker) < c.ttl {
			items, err := c.store.GetItems(ctx, acc.ID, kind)
			if err != nil {
				return Result{}, err
			}
			metricCache.WithLabelValues("hit").Inc()
			c.logger.Debug("cache hit", "account", acc.ID, "items", len(items))
			return Result{Items: items, Cached: true, AsOf: marker}, nil
		}
	}

	metricCache.WithLabelValues("miss").Inc()
	items, asOf, err := c.fetch(ctx, *acc, kind)
	if err == nil {
		return Result{Items: items, AsOf: asOf}, nil
	}
	return c.fallback(ctx, *acc, kind, err)
}

// fetch pulls a fresh batch and replaces the cached one.
func (c *Cache) fetch(ctx context.Context, acc model.Account, kind model.ItemKind) ([]model.Item, time.Time, error) {
	c.setStatus(acc.ID, SyncRunning, nil, time.Time{})

	cfg, adapter, err := c.prepare(ctx, acc)
	if err != nil {
		c.setStatus(acc.ID, SyncError, err, time.Time{})
		return nil, time.Time{}, err
	}

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	records, err := adapter.FetchItems(fctx, source.FetchRequest{
		AccountID:   acc.ID,
		Config:      cfg,
		AccessToken: cfg.Token.AccessToken,
		Since:       StartOfWeek(c.now(), c.loc),
	})
	metricFetch.WithLabelValues(string(acc.Provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			// A missing remote resource on a fetch is a provider failure,
			// not a missing account.
			err = apperr.Wrap(apperr.ProviderUnavailable, err, "provider resource missing").WithProvider(acc.Provider)
		}
		err = fmt.Errorf("fetching items for account %s: %w", acc.ID, err)
		c.setStatus(acc.ID, SyncError, err, time.Time{})
		return nil, time.Time{}, err
	}

	asOf := c.now().UTC()
	if err := c.store.ReplaceItems(ctx, acc.ID, kind, normalize.Items(acc, cfg, records), asOf); err != nil {
		c.setStatus(acc.ID, SyncError, err, time.Time{})
		return nil, time.Time{}, err
	}
	// Read back so fresh and cached responses carry identical values.
	items, err := c.store.GetItems(ctx, acc.ID, kind)
	if err != nil {
		c.setStatus(acc.ID, SyncError, err, time.Time{})
		return nil, time.Time{}, err
	}

	c.setStatus(acc.ID, SyncIdle, nil, asOf)
	c.logger.Info("account synced", "account", acc.ID, "provider", acc.Provider, "items", len(items))
	return items, asOf, nil
}

func (c *Cache) fallback(ctx context.Context, acc model.Account, kind model.ItemKind, fetchErr error) (Result, error) {
	if !apperr.FallbackEligible(fetchErr) {
		metricCache.WithLabelValues("error").Inc()
		return Result{}, fetchErr
	}

	items, err := c.store.GetItems(ctx, acc.ID, kind)
	if err != nil || len(items) == 0 {
		metricCache.WithLabelValues("error").Inc()
		return Result{}, fetchErr
	}
	marker, _, err := c.store.LastSync(ctx, acc.ID, kind)
	if err != nil {
		metricCache.WithLabelValues("error").Inc()
		return Result{}, fetchErr
	}

	metricCache.WithLabelValues("fallback").Inc()
	c.logger.Warn("serving stale items", "account", acc.ID, "items", len(items), "as_of", marker, "err", fetchErr)
	return Result{Items: items, Cached: true, AsOf: marker, Err: fetchErr}, nil
}

// prepare decrypts the account configuration, makes sure its token is
// valid and resolves its adapter.
func (c *Cache) prepare(ctx context.Context, acc model.Account) (model.AccountConfig, source.Adapter, error) {
	cfg, err := c.creds.Open(acc.Config)
	if err != nil {
		return cfg, nil, fmt.Errorf("opening config of account %s: %w", acc.ID, err)
	}
	cfg, err = c.tokens.EnsureValidToken(ctx, acc, cfg)
	if err != nil {
		return cfg, nil, err
	}
	adapter, err := c.adapters.For(acc.Provider)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, adapter, nil
}

// Status returns the sync status of an account. LastSync falls back to the
// stored sync marker when the account has not synced since start-up.
func (c *Cache) Status(ctx context.Context, accountID string) (SyncStatus, error) {
	acc, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return SyncStatus{}, err
	}
	status, _ := c.status(acc.ID)
	if status.LastSync.IsZero() {
		marker, ok, err := c.store.LastSync(ctx, acc.ID, acc.Provider.ItemKind())
		if err != nil {
			return SyncStatus{}, err
		}
		if ok {
			status.LastSync = marker
		}
	}
	return status, nil
}

// StartOfWeek returns Monday 00:00 of the week containing now, in loc.
func StartOfWeek(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
}
