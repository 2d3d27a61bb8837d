package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

var metricState = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mailboard_oauth_state_total",
		Help: "OAuth state registry operations.",
	},
	[]string{"op", "result"},
)

// DefaultStateTTL bounds the lifetime of an unconsumed state token.
const DefaultStateTTL = 10 * time.Minute

// stateBytes is the entropy of a state token.
const stateBytes = 32

// PendingAuth is what a state token is bound to.
type PendingAuth struct {
	AccountID string             `json:"account_id"`
	Provider  model.ProviderKind `json:"provider"`
}

// StateRegistry tracks in-flight authorization handshakes. Tokens are
// single-use: Consume removes the entry whether or not it has expired.
type StateRegistry interface {
	Issue(ctx context.Context, accountID string, provider model.ProviderKind) (string, error)

	// Consume returns the binding for token. A missing, expired, or already
	// consumed token yields an apperr.InvalidOAuthState error.
	Consume(ctx context.Context, token string) (PendingAuth, error)
}

func newStateToken() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func errInvalidState() error {
	return apperr.New(apperr.InvalidOAuthState, "authorization state is unknown or expired")
}

type memoryEntry struct {
	pending PendingAuth
	expires time.Time
}

// MemoryStateRegistry keeps state in process memory. Expired entries are
// invisible to Consume and are evicted by Run.
type MemoryStateRegistry struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewMemoryStateRegistry creates a registry whose entries live for ttl.
func NewMemoryStateRegistry(ttl time.Duration, logger *slog.Logger) *MemoryStateRegistry {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateRegistry{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With("component", "oauth-state"),
	}
}

// Issue implements StateRegistry.
func (r *MemoryStateRegistry) Issue(_ context.Context, accountID string, provider model.ProviderKind) (string, error) {
	token, err := newStateToken()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.entries[token] = memoryEntry{
		pending: PendingAuth{AccountID: accountID, Provider: provider},
		expires: r.now().Add(r.ttl),
	}
	r.mu.Unlock()
	metricState.WithLabelValues("issue", "ok").Inc()
	return token, nil
}

// Consume implements StateRegistry.
func (r *MemoryStateRegistry) Consume(_ context.Context, token string) (PendingAuth, error) {
	r.mu.Lock()
	e, ok := r.entries[token]
	delete(r.entries, token)
	r.mu.Unlock()

	if !ok || !r.now().Before(e.expires) {
		metricState.WithLabelValues("consume", "invalid").Inc()
		return PendingAuth{}, errInvalidState()
	}
	metricState.WithLabelValues("consume", "ok").Inc()
	return e.pending, nil
}

// Len returns the number of live and not yet evicted entries.
func (r *MemoryStateRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict removes expired entries and returns how many were removed.
func (r *MemoryStateRegistry) Evict() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for token, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, token)
			n++
		}
	}
	return n
}

// Run evicts expired entries every interval until ctx is done.
func (r *MemoryStateRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				metricState.WithLabelValues("evict", "ok").Add(float64(n))
				r.logger.Debug("evicted expired oauth state", "count", n)
			}
		}
	}
}

// RedisStateRegistry keeps state in Redis so handshakes survive restarts
// and can be completed by any replica.
type RedisStateRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStateRegistry creates a registry storing entries in rdb.
func NewRedisStateRegistry(rdb *redis.Client, ttl time.Duration) *RedisStateRegistry {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateRegistry{rdb: rdb, ttl: ttl}
}

func stateKey(token string) string {
	return "oauth:state:" + token
}

// Issue implements StateRegistry.
func (r *RedisStateRegistry) Issue(ctx context.Context, accountID string, provider model.ProviderKind) (string, error) {
	token, err := newStateToken()
	if err != nil {
		return "", err
	}
	val, err := json.Marshal(PendingAuth{AccountID: accountID, Provider: provider})
	if err != nil {
		return "", fmt.Errorf("encoding oauth state: %w", err)
	}
	if err := r.rdb.Set(ctx, stateKey(token), val, r.ttl).Err(); err != nil {
		metricState.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("storing oauth state: %w", err)
	}
	metricState.WithLabelValues("issue", "ok").Inc()
	return token, nil
}

// Consume implements StateRegistry. GETDEL makes the read and the delete a
// single atomic step.
func (r *RedisStateRegistry) Consume(ctx context.Context, token string) (PendingAuth, error) {
	var p PendingAuth
	val, err := r.rdb.GetDel(ctx, stateKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		metricState.WithLabelValues("consume", "invalid").Inc()
		return p, errInvalidState()
	}
	if err != nil {
		metricState.WithLabelValues("consume", "error").Inc()
		return p, fmt.Errorf("consuming oauth state: %w", err)
	}
	if err := json.Unmarshal(val, &p); err != nil {
		return p, apperr.Wrap(apperr.InvalidOAuthState, err, "decoding oauth state")
	}
	metricState.WithLabelValues("consume", "ok").Inc()
	return p, nil
}

// NewStateRegistry returns a Redis-backed registry when addr is set and
// reachable, and an in-memory one otherwise. The returned redis client, if
// any, must be closed by the caller.
func NewStateRegistry(ctx context.Context, cfg model.RedisSection, ttl time.Duration, logger *slog.Logger) (StateRegistry, *redis.Client) {
	if cfg.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := rdb.Ping(pingCtx).Err()
		if err == nil {
			logger.Info("oauth state stored in redis", "addr", cfg.Addr)
			return NewRedisStateRegistry(rdb, ttl), rdb
		}
		logger.Warn("redis unreachable, keeping oauth state in memory", "addr", cfg.Addr, "err", err)
		_ = rdb.Close()
	}
	return NewMemoryStateRegistry(ttl, logger), nil
}
